package statestore

import (
	"context"
	"reflect"
	"testing"

	"github.com/loopworks/taor/agentstate"
)

func TestRegistryGetOrCreateReturnsSameManager(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	m1, err := r.GetOrCreate(ctx, "session-1", agentstate.Seed{ProjectID: "proj-1"})
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	m1.StartLoop()

	m2, err := r.GetOrCreate(ctx, "session-1", agentstate.Seed{ProjectID: "other"})
	if err != nil {
		t.Fatalf("second GetOrCreate failed: %v", err)
	}

	state := m2.State()
	if state.ProjectID != "proj-1" {
		t.Errorf("expected original seed to win, got project %q", state.ProjectID)
	}
	if state.TurnCount != 1 {
		t.Errorf("expected mutation via first handle visible, turn count = %d", state.TurnCount)
	}
}

func TestRegistryGetMissing(t *testing.T) {
	r := NewRegistry()

	_, found, err := r.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if found {
		t.Error("expected found=false for unknown session")
	}
}

func TestRegistryDelete(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	if _, err := r.GetOrCreate(ctx, "session-1", agentstate.Seed{}); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if err := r.Delete(ctx, "session-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, found, _ := r.Get(ctx, "session-1"); found {
		t.Error("session still present after delete")
	}

	// Deleting an absent session is not an error.
	if err := r.Delete(ctx, "session-1"); err != nil {
		t.Errorf("deleting absent session: %v", err)
	}
}

func TestRegistryListSorted(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	for _, id := range []string{"charlie", "alpha", "bravo"} {
		if _, err := r.GetOrCreate(ctx, id, agentstate.Seed{}); err != nil {
			t.Fatalf("GetOrCreate %s failed: %v", id, err)
		}
	}

	ids, err := r.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	want := []string{"alpha", "bravo", "charlie"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("List = %v, want %v", ids, want)
	}
	if r.Len() != 3 {
		t.Errorf("Len = %d, want 3", r.Len())
	}
}
