package statestore

import (
	"encoding/json"
	"log/slog"

	"github.com/loopworks/taor/agentstate"
	"github.com/loopworks/taor/llmrunner"
)

// PersistentManager decorates an agentstate.Manager so that every
// mutation is followed by a write-back to the store. Save failures are
// logged and swallowed: a failed write must not fail the user-visible
// turn, at the cost of possibly losing that increment if the process
// dies before the next successful write.
type PersistentManager struct {
	inner  *agentstate.Manager
	store  *KVStore
	logger *slog.Logger
}

var _ Manager = (*PersistentManager)(nil)

// SessionID returns the session identifier.
func (p *PersistentManager) SessionID() string {
	return p.inner.SessionID()
}

// SetPhase delegates and persists.
func (p *PersistentManager) SetPhase(phase agentstate.Phase) {
	p.inner.SetPhase(phase)
	p.save()
}

// StartLoop delegates and persists.
func (p *PersistentManager) StartLoop() {
	p.inner.StartLoop()
	p.save()
}

// StopLoop delegates and persists.
func (p *PersistentManager) StopLoop() {
	p.inner.StopLoop()
	p.save()
}

// AddReasoningStep delegates and persists.
func (p *PersistentManager) AddReasoningStep(phase agentstate.Phase, content string, metadata map[string]any) agentstate.ReasoningStep {
	step := p.inner.AddReasoningStep(phase, content, metadata)
	p.save()
	return step
}

// TrackToolStart delegates and persists.
func (p *PersistentManager) TrackToolStart(name string, arguments json.RawMessage, dependencies []string) string {
	id := p.inner.TrackToolStart(name, arguments, dependencies)
	p.save()
	return id
}

// MarkToolRunning delegates and persists.
func (p *PersistentManager) MarkToolRunning(id string) {
	p.inner.MarkToolRunning(id)
	p.save()
}

// TrackToolComplete delegates and persists.
func (p *PersistentManager) TrackToolComplete(id string, result string, toolErr string) {
	p.inner.TrackToolComplete(id, result, toolErr)
	p.save()
}

// GetReadyTools delegates; read-only, no persistence.
func (p *PersistentManager) GetReadyTools() []agentstate.ToolExecution {
	return p.inner.GetReadyTools()
}

// AddObservation delegates and persists.
func (p *PersistentManager) AddObservation(typ agentstate.ObservationType, content string, relatedToolID string, metadata map[string]any) agentstate.Observation {
	obs := p.inner.AddObservation(typ, content, relatedToolID, metadata)
	p.save()
	return obs
}

// AddReflection delegates and persists.
func (p *PersistentManager) AddReflection(insight string, learnings []string, suggestedActions []string, confidence float64) agentstate.Reflection {
	refl := p.inner.AddReflection(insight, learnings, suggestedActions, confidence)
	p.save()
	return refl
}

// AppendMessage delegates and persists.
func (p *PersistentManager) AppendMessage(msg llmrunner.Message) {
	p.inner.AppendMessage(msg)
	p.save()
}

// State delegates; read-only, no persistence.
func (p *PersistentManager) State() agentstate.SessionState {
	return p.inner.State()
}

// Summary delegates; read-only, no persistence.
func (p *PersistentManager) Summary() agentstate.Summary {
	return p.inner.Summary()
}

// save serializes the full state and writes it back, refreshing the
// TTL. Failures are logged, not propagated.
func (p *PersistentManager) save() {
	data, err := p.inner.ToJSON()
	if err != nil {
		p.logger.Error("serialize session state",
			slog.String("session_id", p.inner.SessionID()),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := p.store.saveState(p.inner.SessionID(), data); err != nil {
		p.logger.Error("persist session state",
			slog.String("session_id", p.inner.SessionID()),
			slog.String("error", err.Error()),
		)
	}
}
