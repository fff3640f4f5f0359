package agentloop

import (
	"context"
	"fmt"
	"sync"

	"github.com/loopworks/taor/agentstate"
	"github.com/loopworks/taor/llmrunner"
	"github.com/loopworks/taor/statestore"
)

// The package-level functions operate on a shared default store so a
// host application can create, delete and sweep loops without wiring
// its own Store. The default is an in-process Registry; call
// SetDefaultStore before first use to switch strategies.
var (
	defaultMu    sync.Mutex
	defaultStore statestore.Store
)

// SetDefaultStore replaces the store backing the package-level
// functions. Pass nil to reset to a fresh in-process registry.
func SetDefaultStore(store statestore.Store) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultStore = store
}

func getDefaultStore() statestore.Store {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultStore == nil {
		defaultStore = statestore.NewRegistry()
	}
	return defaultStore
}

// CreateAgentLoop loads or creates the session's state in the default
// store and returns a Coordinator over it. The seed data (opening user
// message, project files, history) applies only when the session does
// not already exist; ExecuteTurn recognizes the seeded message and does
// not record it a second time.
func CreateAgentLoop(ctx context.Context, sessionID, projectID, userID, userMessage string, projectFiles map[string]string, history []llmrunner.Message, opts ...CoordinatorOption) (*Coordinator, error) {
	seedHistory := history
	if userMessage != "" {
		seedHistory = make([]llmrunner.Message, 0, len(history)+1)
		seedHistory = append(seedHistory, history...)
		seedHistory = append(seedHistory, llmrunner.UserMessage(userMessage))
	}

	m, err := getDefaultStore().GetOrCreate(ctx, sessionID, agentstate.Seed{
		ProjectID:           projectID,
		UserID:              userID,
		ProjectFiles:        projectFiles,
		ConversationHistory: seedHistory,
	})
	if err != nil {
		return nil, fmt.Errorf("create agent loop %s: %w", sessionID, err)
	}
	return NewCoordinator(m, opts...), nil
}

// DeleteAgentLoopState removes the session's stored state from the
// default store. Deleting an absent session is not an error.
func DeleteAgentLoopState(ctx context.Context, sessionID string) error {
	return getDefaultStore().Delete(ctx, sessionID)
}

// CleanupInactiveAgentLoops runs one sweep pass over the default store
// with the default staleness window and returns the number of sessions
// removed. The Sweeper calls this on its schedule; it is also safe to
// call directly.
func CleanupInactiveAgentLoops(ctx context.Context) (int, error) {
	cfg := DefaultConfig()
	sweeper, err := statestore.NewSweeper(getDefaultStore(), cfg.SweepSchedule,
		statestore.WithStaleness(cfg.StalenessWindow),
	)
	if err != nil {
		return 0, err
	}
	return sweeper.SweepOnce(ctx)
}
