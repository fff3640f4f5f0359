// Package agentstate holds the per-session reasoning state of the agent
// loop and the Manager that is the only code path allowed to mutate it.
//
// The state model (SessionState and its record types) is plain data with
// JSON tags; every invariant (tool status monotonicity, non-negative
// durations, clamped reflection confidence, append-only records) is
// enforced by Manager methods, never by callers writing fields directly.
package agentstate

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loopworks/taor/llmrunner"
)

// Manager owns one session's state. All mutators are total functions
// over the in-memory struct and safe for concurrent use: tool-tracking
// callbacks arrive from the runner's goroutines while a turn is in
// progress.
type Manager struct {
	mu     sync.Mutex
	state  SessionState
	logger *slog.Logger
	now    func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger used for tolerated-anomaly reporting.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock overrides the time source (for tests).
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a Manager for a fresh session.
func NewManager(sessionID string, seed Seed, opts ...ManagerOption) *Manager {
	m := &Manager{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	created := m.now()
	m.state = SessionState{
		SessionID:           sessionID,
		ProjectID:           seed.ProjectID,
		UserID:              seed.UserID,
		CurrentPhase:        PhaseThink,
		Steps:               []ReasoningStep{},
		Tools:               []ToolExecution{},
		Observations:        []Observation{},
		Reflections:         []Reflection{},
		ConversationHistory: seed.ConversationHistory,
		ProjectFiles:        seed.ProjectFiles,
		CreatedAt:           created,
		UpdatedAt:           created,
	}
	return m
}

// Restore creates a Manager around previously persisted state.
func Restore(state SessionState, opts ...ManagerOption) *Manager {
	m := &Manager{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.state = state.clone()
	return m
}

// SessionID returns the session identifier.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.SessionID
}

// SetPhase moves the session to the given phase.
func (m *Manager) SetPhase(phase Phase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.CurrentPhase = phase
	m.touch()
}

// StartLoop begins a new turn: phase reset to think, session marked
// active, turn counter incremented.
func (m *Manager) StartLoop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.CurrentPhase = PhaseThink
	m.state.IsActive = true
	m.state.TurnCount++
	m.touch()
}

// StopLoop marks the session inactive.
func (m *Manager) StopLoop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.IsActive = false
	m.touch()
}

// AddReasoningStep appends a reasoning step and returns it.
func (m *Manager) AddReasoningStep(phase Phase, content string, metadata map[string]any) ReasoningStep {
	m.mu.Lock()
	defer m.mu.Unlock()

	step := ReasoningStep{
		ID:        uuid.New().String(),
		Phase:     phase,
		Timestamp: m.now(),
		Content:   content,
		Metadata:  metadata,
	}
	m.state.Steps = append(m.state.Steps, step)
	m.touch()
	return step
}

// TrackToolStart records a new tool execution and returns its id.
// Dependency-free tools start running; tools with declared dependencies
// start pending so GetReadyTools can report when they become runnable.
// Dependency ids are taken as supplied: unknown ids are logged but not
// rejected.
func (m *Manager) TrackToolStart(name string, arguments json.RawMessage, dependencies []string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := ToolRunning
	if len(dependencies) > 0 {
		status = ToolPending
		for _, dep := range dependencies {
			if m.findToolLocked(dep) == nil {
				m.logger.Debug("tool dependency id not tracked",
					slog.String("session_id", m.state.SessionID),
					slog.String("tool", name),
					slog.String("dependency_id", dep),
				)
			}
		}
	}

	exec := ToolExecution{
		ID:           uuid.New().String(),
		Name:         name,
		Arguments:    arguments,
		Dependencies: dependencies,
		Status:       status,
		StartedAt:    m.now(),
	}
	m.state.Tools = append(m.state.Tools, exec)
	m.touch()
	return exec.ID
}

// MarkToolRunning promotes a pending tool execution to running. Calls
// for ids that are missing or already past pending are no-ops.
func (m *Manager) MarkToolRunning(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	exec := m.findToolLocked(id)
	if exec == nil || exec.Status != ToolPending {
		return
	}
	exec.Status = ToolRunning
	m.touch()
}

// TrackToolComplete finalizes a tool execution with a result or an
// error. An unmatched id is a logged no-op: late or duplicate completion
// callbacks must not destabilize the turn. Terminal executions are
// immutable, so a second completion for the same id is also a no-op.
func (m *Manager) TrackToolComplete(id string, result string, toolErr string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	exec := m.findToolLocked(id)
	if exec == nil {
		m.logger.Warn("tool completion for unknown execution id",
			slog.String("session_id", m.state.SessionID),
			slog.String("execution_id", id),
		)
		return
	}
	if exec.Status.Terminal() {
		m.logger.Warn("duplicate tool completion ignored",
			slog.String("session_id", m.state.SessionID),
			slog.String("execution_id", id),
			slog.String("status", string(exec.Status)),
		)
		return
	}

	completed := m.now()
	exec.CompletedAt = &completed
	exec.DurationMs = completed.Sub(exec.StartedAt).Milliseconds()
	if exec.DurationMs < 0 {
		exec.DurationMs = 0
	}
	if toolErr != "" {
		exec.Status = ToolError
		exec.Error = toolErr
	} else {
		exec.Status = ToolSuccess
		exec.Result = result
	}
	m.touch()
}

// GetReadyTools returns the pending executions whose every dependency id
// maps to a successful execution. A pending tool with no dependencies is
// immediately ready. This is a query, not a scheduler: it reports
// executability and runs nothing.
func (m *Manager) GetReadyTools() []ToolExecution {
	m.mu.Lock()
	defer m.mu.Unlock()

	succeeded := make(map[string]bool)
	for _, exec := range m.state.Tools {
		if exec.Status == ToolSuccess {
			succeeded[exec.ID] = true
		}
	}

	var ready []ToolExecution
	for _, exec := range m.state.Tools {
		if exec.Status != ToolPending {
			continue
		}
		ok := true
		for _, dep := range exec.Dependencies {
			if !succeeded[dep] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, exec)
		}
	}
	return ready
}

// AddObservation appends an observation and returns it.
func (m *Manager) AddObservation(typ ObservationType, content string, relatedToolID string, metadata map[string]any) Observation {
	m.mu.Lock()
	defer m.mu.Unlock()

	obs := Observation{
		ID:            uuid.New().String(),
		Timestamp:     m.now(),
		Type:          typ,
		Content:       content,
		RelatedToolID: relatedToolID,
		Metadata:      metadata,
	}
	m.state.Observations = append(m.state.Observations, obs)
	m.touch()
	return obs
}

// AddReflection appends a reflection, clamping confidence into [0,1].
func (m *Manager) AddReflection(insight string, learnings []string, suggestedActions []string, confidence float64) Reflection {
	m.mu.Lock()
	defer m.mu.Unlock()

	if confidence < 0 {
		confidence = 0
	} else if confidence > 1 {
		confidence = 1
	}

	refl := Reflection{
		ID:               uuid.New().String(),
		Timestamp:        m.now(),
		Insight:          insight,
		Learnings:        learnings,
		SuggestedActions: suggestedActions,
		Confidence:       confidence,
	}
	m.state.Reflections = append(m.state.Reflections, refl)
	m.touch()
	return refl
}

// AppendMessage records a conversation message in the history snapshot.
func (m *Manager) AppendMessage(msg llmrunner.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.ConversationHistory = append(m.state.ConversationHistory, msg)
	m.touch()
}

// State returns a deep copy of the session state.
func (m *Manager) State() SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

// Summary returns aggregate counts for external reporting.
func (m *Manager) Summary() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Summary{
		SessionID:        m.state.SessionID,
		CurrentPhase:     m.state.CurrentPhase,
		IsActive:         m.state.IsActive,
		TurnCount:        m.state.TurnCount,
		StepCount:        len(m.state.Steps),
		ToolCount:        len(m.state.Tools),
		ObservationCount: len(m.state.Observations),
		ReflectionCount:  len(m.state.Reflections),
	}
	for _, exec := range m.state.Tools {
		switch exec.Status {
		case ToolSuccess:
			s.ToolSuccesses++
		case ToolError:
			s.ToolFailures++
		}
	}
	return s
}

// findToolLocked returns a pointer into the tools slice, or nil.
// Caller must hold m.mu.
func (m *Manager) findToolLocked(id string) *ToolExecution {
	for i := range m.state.Tools {
		if m.state.Tools[i].ID == id {
			return &m.state.Tools[i]
		}
	}
	return nil
}

// touch updates the modification timestamp. Caller must hold m.mu.
func (m *Manager) touch() {
	m.state.UpdatedAt = m.now()
}
