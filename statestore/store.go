// Package statestore persists per-session agent state so a stateless,
// horizontally scaled request tier can resume a session's reasoning
// context on any instance.
//
// Two interchangeable strategies implement Store:
//
//   - Registry: an in-process map of live managers. State dies with the
//     process and is invisible to other instances; suitable only when a
//     single long-lived process serves every session.
//   - KVStore: serialized state in a shared KeyValue store under
//     "prefix:sessionID" with a fixed TTL. Every mutation through the
//     returned manager is followed by a write-back that refreshes the
//     TTL; write failures are logged, never propagated, so a persistence
//     outage degrades durability rather than failing the turn.
//
// The Sweeper complements store TTLs: on a schedule it deletes sessions
// that are inactive and past a staleness window, guaranteeing that no
// inactive session outlives max(TTL, staleness window) from its last
// update.
package statestore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/loopworks/taor/agentstate"
	"github.com/loopworks/taor/llmrunner"
)

// Manager is the mutable session-state surface a Store hands out. Both
// the plain in-process manager and the auto-persisting decorator
// satisfy it.
type Manager interface {
	SessionID() string
	SetPhase(phase agentstate.Phase)
	StartLoop()
	StopLoop()
	AddReasoningStep(phase agentstate.Phase, content string, metadata map[string]any) agentstate.ReasoningStep
	TrackToolStart(name string, arguments json.RawMessage, dependencies []string) string
	MarkToolRunning(id string)
	TrackToolComplete(id string, result string, toolErr string)
	GetReadyTools() []agentstate.ToolExecution
	AddObservation(typ agentstate.ObservationType, content string, relatedToolID string, metadata map[string]any) agentstate.Observation
	AddReflection(insight string, learnings []string, suggestedActions []string, confidence float64) agentstate.Reflection
	AppendMessage(msg llmrunner.Message)
	State() agentstate.SessionState
	Summary() agentstate.Summary
}

// Store is the persistence adapter contract. GetOrCreate is idempotent
// per session id within the TTL window: a stored, unexpired session
// always loads back as a manager whose state matches the last write.
type Store interface {
	// GetOrCreate returns the manager for sessionID, creating and
	// persisting a fresh one from seed when none is stored.
	GetOrCreate(ctx context.Context, sessionID string, seed agentstate.Seed) (Manager, error)

	// Get returns the manager for sessionID, or found=false when none
	// is stored.
	Get(ctx context.Context, sessionID string) (m Manager, found bool, err error)

	// Delete removes the session's stored state. Deleting an absent
	// session is not an error.
	Delete(ctx context.Context, sessionID string) error

	// List returns the ids of all stored sessions.
	List(ctx context.Context) ([]string, error)
}

// KeyValue is the shared keyed store KVStore persists into. A ttl of
// zero stores the value without expiration.
type KeyValue interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}
