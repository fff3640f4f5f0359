package agentloop

import (
	"testing"

	"github.com/loopworks/taor/agentstate"
)

func TestEmitterDeliversEvents(t *testing.T) {
	e := NewEmitter(4)

	e.PhaseChange("s1", agentstate.PhaseThink)
	e.ReasoningStep("s1", agentstate.ReasoningStep{ID: "step-1", Phase: agentstate.PhaseThink, Content: "plan"})
	e.Close()

	var kinds []EventKind
	for event := range e.Events() {
		if event.SessionID != "s1" {
			t.Errorf("session id = %q", event.SessionID)
		}
		kinds = append(kinds, event.Kind)
	}
	if len(kinds) != 2 || kinds[0] != EventPhaseChange || kinds[1] != EventReasoningStep {
		t.Errorf("kinds = %v", kinds)
	}
}

func TestEmitterDropsWhenFull(t *testing.T) {
	e := NewEmitter(1)

	e.PhaseChange("s1", agentstate.PhaseThink)
	e.PhaseChange("s1", agentstate.PhaseAct) // buffer full, dropped
	e.Close()

	count := 0
	for range e.Events() {
		count++
	}
	if count != 1 {
		t.Errorf("delivered %d events, want 1", count)
	}
}

func TestEmitterCloseIdempotent(t *testing.T) {
	e := NewEmitter(1)
	e.Close()
	e.Close()

	// Emitting after close must not panic on the closed channel.
	e.PhaseChange("s1", agentstate.PhaseThink)
}
