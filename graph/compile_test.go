package graph

import (
	"errors"
	"testing"
)

func TestCompile(t *testing.T) {
	t.Run("requires start node", func(t *testing.T) {
		eng := New(testReducer)
		mustRegister(t, eng, "a", stepNode("a", Stop()))
		if err := eng.Compile(); !errors.Is(err, ErrGraphInvalid) {
			t.Fatalf("expected ErrGraphInvalid, got %v", err)
		}
	})

	t.Run("rejects edge to unknown node", func(t *testing.T) {
		eng := New(testReducer)
		mustRegister(t, eng, "a", stepNode("a", Stop()))
		mustConnect(t, eng, "a", "ghost", nil)
		mustStartAt(t, eng, "a")
		if err := eng.Compile(); !errors.Is(err, ErrGraphInvalid) {
			t.Fatalf("expected ErrGraphInvalid, got %v", err)
		}
	})

	t.Run("rejects router with unknown target", func(t *testing.T) {
		eng := New(testReducer)
		mustRegister(t, eng, "a", stepNode("a", Stop()))
		if err := eng.ConnectRouter("a", func(testState) []string { return nil }, "ghost"); err != nil {
			t.Fatalf("ConnectRouter failed: %v", err)
		}
		mustStartAt(t, eng, "a")
		if err := eng.Compile(); !errors.Is(err, ErrGraphInvalid) {
			t.Fatalf("expected ErrGraphInvalid, got %v", err)
		}
	})

	t.Run("detects static cycle", func(t *testing.T) {
		eng := New(testReducer)
		mustRegister(t, eng, "a", stepNode("a", Stop()))
		mustRegister(t, eng, "b", stepNode("b", Stop()))
		mustConnect(t, eng, "a", "b", nil)
		mustConnect(t, eng, "b", "a", nil)
		mustStartAt(t, eng, "a")
		if err := eng.Compile(); !errors.Is(err, ErrGraphInvalid) {
			t.Fatalf("expected ErrGraphInvalid for cycle, got %v", err)
		}
	})

	t.Run("End is always a valid target", func(t *testing.T) {
		eng := New(testReducer)
		mustRegister(t, eng, "a", stepNode("a", Next{}))
		mustConnect(t, eng, "a", End, nil)
		mustStartAt(t, eng, "a")
		if err := eng.Compile(); err != nil {
			t.Fatalf("Compile failed: %v", err)
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		eng := New(testReducer)
		mustRegister(t, eng, "a", stepNode("a", Stop()))
		mustStartAt(t, eng, "a")
		if err := eng.Compile(); err != nil {
			t.Fatalf("first Compile failed: %v", err)
		}
		if err := eng.Compile(); err != nil {
			t.Fatalf("second Compile failed: %v", err)
		}
	})
}

func TestFindCycle(t *testing.T) {
	t.Run("acyclic", func(t *testing.T) {
		adj := map[string][]string{"a": {"b"}, "b": {"c"}}
		if hit := findCycle(adj); hit != "" {
			t.Errorf("expected no cycle, got %q", hit)
		}
	})

	t.Run("self loop", func(t *testing.T) {
		adj := map[string][]string{"a": {"a"}}
		if hit := findCycle(adj); hit != "a" {
			t.Errorf("expected cycle at a, got %q", hit)
		}
	})

	t.Run("diamond is not a cycle", func(t *testing.T) {
		adj := map[string][]string{"a": {"b", "c"}, "b": {"d"}, "c": {"d"}}
		if hit := findCycle(adj); hit != "" {
			t.Errorf("expected no cycle in diamond, got %q", hit)
		}
	})
}
