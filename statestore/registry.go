package statestore

import (
	"context"
	"sort"
	"sync"

	"github.com/loopworks/taor/agentstate"
)

// Registry is the single-process Store strategy: a mutex-guarded map
// from session id to a live manager. Cheap, but state is lost on
// restart and invisible to other processes.
//
// Thread Safety: Registry is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*agentstate.Manager
	opts     []agentstate.ManagerOption
}

// NewRegistry creates an empty Registry. The options are applied to
// every manager it constructs.
func NewRegistry(opts ...agentstate.ManagerOption) *Registry {
	return &Registry{
		sessions: make(map[string]*agentstate.Manager),
		opts:     opts,
	}
}

// GetOrCreate implements Store.
func (r *Registry) GetOrCreate(_ context.Context, sessionID string, seed agentstate.Seed) (Manager, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.sessions[sessionID]; ok {
		return m, nil
	}
	m := agentstate.NewManager(sessionID, seed, r.opts...)
	r.sessions[sessionID] = m
	return m, nil
}

// Get implements Store.
func (r *Registry) Get(_ context.Context, sessionID string) (Manager, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.sessions[sessionID]
	if !ok {
		return nil, false, nil
	}
	return m, true, nil
}

// Delete implements Store.
func (r *Registry) Delete(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
	return nil
}

// List implements Store. Ids are sorted for deterministic ordering.
func (r *Registry) List(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
