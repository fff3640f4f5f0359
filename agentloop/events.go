package agentloop

import (
	"sync"
	"time"

	"github.com/loopworks/taor/agentstate"
)

// EventSink receives the coordinator's progress for real-time display.
// All methods may be called from the turn's goroutine; implementations
// must not block. A nil sink on the coordinator disables emission.
type EventSink interface {
	PhaseChange(sessionID string, phase agentstate.Phase)
	ReasoningStep(sessionID string, step agentstate.ReasoningStep)
	Observation(sessionID string, obs agentstate.Observation)
	Reflection(sessionID string, refl agentstate.Reflection)
}

// EventKind identifies the type of loop event.
type EventKind string

const (
	EventPhaseChange   EventKind = "phase_change"
	EventReasoningStep EventKind = "reasoning_step"
	EventObservation   EventKind = "observation"
	EventReflection    EventKind = "reflection"
)

// Event is a typed loop event delivered by an Emitter.
type Event struct {
	Kind      EventKind      `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"session_id"`
	Data      map[string]any `json:"data,omitempty"`
}

// Emitter is a channel-backed EventSink. Emission never blocks: when
// the buffer is full the event is dropped rather than stalling the
// turn.
type Emitter struct {
	ch     chan Event
	mu     sync.Mutex
	closed bool
}

// NewEmitter creates an Emitter with the given buffer size.
func NewEmitter(bufferSize int) *Emitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Emitter{ch: make(chan Event, bufferSize)}
}

// Events returns the read-only event channel.
func (e *Emitter) Events() <-chan Event {
	return e.ch
}

// Close closes the event channel. Safe to call multiple times; events
// emitted after Close are dropped.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}

func (e *Emitter) emit(kind EventKind, sessionID string, data map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	event := Event{
		Kind:      kind,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Data:      data,
	}
	select {
	case e.ch <- event:
	default:
		// Buffer full; drop rather than block the turn.
	}
}

// PhaseChange implements EventSink.
func (e *Emitter) PhaseChange(sessionID string, phase agentstate.Phase) {
	e.emit(EventPhaseChange, sessionID, map[string]any{
		"phase": string(phase),
	})
}

// ReasoningStep implements EventSink.
func (e *Emitter) ReasoningStep(sessionID string, step agentstate.ReasoningStep) {
	e.emit(EventReasoningStep, sessionID, map[string]any{
		"step_id": step.ID,
		"phase":   string(step.Phase),
		"content": step.Content,
	})
}

// Observation implements EventSink.
func (e *Emitter) Observation(sessionID string, obs agentstate.Observation) {
	e.emit(EventObservation, sessionID, map[string]any{
		"observation_id":  obs.ID,
		"type":            string(obs.Type),
		"content":         obs.Content,
		"related_tool_id": obs.RelatedToolID,
	})
}

// Reflection implements EventSink.
func (e *Emitter) Reflection(sessionID string, refl agentstate.Reflection) {
	e.emit(EventReflection, sessionID, map[string]any{
		"reflection_id": refl.ID,
		"insight":       refl.Insight,
		"confidence":    refl.Confidence,
	})
}
