package graph

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// testState is the minimal state used across engine tests.
type testState struct {
	Path    []string
	Counter int
}

func testReducer(prev, delta testState) testState {
	prev.Path = append(prev.Path, delta.Path...)
	prev.Counter += delta.Counter
	return prev
}

// stepNode appends its name to the path and routes explicitly.
func stepNode(name string, route Next) Node[testState] {
	return NodeFunc[testState](func(_ context.Context, _ testState) NodeResult[testState] {
		return NodeResult[testState]{
			Delta: testState{Path: []string{name}, Counter: 1},
			Route: route,
		}
	})
}

func TestEngine_Register(t *testing.T) {
	t.Run("rejects empty ID", func(t *testing.T) {
		eng := New(testReducer)
		if err := eng.Register("", stepNode("a", Stop())); err == nil {
			t.Fatal("expected error for empty node ID")
		}
	})

	t.Run("rejects reserved End", func(t *testing.T) {
		eng := New(testReducer)
		err := eng.Register(End, stepNode("a", Stop()))
		var engErr *EngineError
		if !errors.As(err, &engErr) || engErr.Code != "RESERVED_NODE" {
			t.Fatalf("expected RESERVED_NODE error, got %v", err)
		}
	})

	t.Run("rejects duplicate ID", func(t *testing.T) {
		eng := New(testReducer)
		if err := eng.Register("a", stepNode("a", Stop())); err != nil {
			t.Fatalf("first register failed: %v", err)
		}
		err := eng.Register("a", stepNode("a", Stop()))
		var engErr *EngineError
		if !errors.As(err, &engErr) || engErr.Code != "DUPLICATE_NODE" {
			t.Fatalf("expected DUPLICATE_NODE error, got %v", err)
		}
	})

	t.Run("rejects nil node", func(t *testing.T) {
		eng := New(testReducer)
		if err := eng.Register("a", nil); err == nil {
			t.Fatal("expected error for nil node")
		}
	})
}

func TestEngine_RunLinear(t *testing.T) {
	eng := New(testReducer)
	mustRegister(t, eng, "a", stepNode("a", Goto("b")))
	mustRegister(t, eng, "b", stepNode("b", Goto("c")))
	mustRegister(t, eng, "c", stepNode("c", Stop()))
	mustStartAt(t, eng, "a")

	final, err := eng.Run(context.Background(), "run-1", testState{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := strings.Join(final.Path, ","); got != "a,b,c" {
		t.Errorf("expected path a,b,c, got %s", got)
	}
	if final.Counter != 3 {
		t.Errorf("expected counter 3, got %d", final.Counter)
	}
}

func TestEngine_RunDeclaredEdges(t *testing.T) {
	// Nodes without explicit routes follow Connect edges; a terminal edge to
	// End finishes the run.
	eng := New(testReducer)
	passthrough := func(name string) Node[testState] {
		return NodeFunc[testState](func(_ context.Context, _ testState) NodeResult[testState] {
			return NodeResult[testState]{Delta: testState{Path: []string{name}}}
		})
	}
	mustRegister(t, eng, "a", passthrough("a"))
	mustRegister(t, eng, "b", passthrough("b"))
	mustConnect(t, eng, "a", "b", nil)
	mustConnect(t, eng, "b", End, nil)
	mustStartAt(t, eng, "a")

	final, err := eng.Run(context.Background(), "run-2", testState{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := strings.Join(final.Path, ","); got != "a,b" {
		t.Errorf("expected path a,b, got %s", got)
	}
}

func TestEngine_FanOut(t *testing.T) {
	t.Run("serial when no predicate", func(t *testing.T) {
		eng := New(testReducer)
		mustRegister(t, eng, "split", stepNode("split", FanOut("x", "y")))
		mustRegister(t, eng, "x", stepNode("x", Goto("join")))
		mustRegister(t, eng, "y", stepNode("y", Goto("join")))
		mustRegister(t, eng, "join", stepNode("join", Stop()))
		mustStartAt(t, eng, "split")

		final, err := eng.Run(context.Background(), "run-3", testState{})
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		// Siblings execute in routing order; join runs once (deduped).
		if got := strings.Join(final.Path, ","); got != "split,x,y,join" {
			t.Errorf("expected split,x,y,join, got %s", got)
		}
	})

	t.Run("parallel when predicate holds", func(t *testing.T) {
		var inFlight, maxInFlight int64
		slow := func(name string) Node[testState] {
			return NodeFunc[testState](func(_ context.Context, _ testState) NodeResult[testState] {
				cur := atomic.AddInt64(&inFlight, 1)
				for {
					prev := atomic.LoadInt64(&maxInFlight)
					if cur <= prev || atomic.CompareAndSwapInt64(&maxInFlight, prev, cur) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				atomic.AddInt64(&inFlight, -1)
				return NodeResult[testState]{Delta: testState{Path: []string{name}}, Route: Goto("join")}
			})
		}

		eng := New(testReducer, WithParallelWhen[testState](func(testState) bool { return true }))
		mustRegister(t, eng, "split", stepNode("split", FanOut("x", "y")))
		mustRegister(t, eng, "x", slow("x"))
		mustRegister(t, eng, "y", slow("y"))
		mustRegister(t, eng, "join", stepNode("join", Stop()))
		mustStartAt(t, eng, "split")

		if _, err := eng.Run(context.Background(), "run-4", testState{}); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if atomic.LoadInt64(&maxInFlight) < 2 {
			t.Errorf("expected siblings to overlap, max in-flight was %d", maxInFlight)
		}
	})

	t.Run("serial siblings observe earlier deltas", func(t *testing.T) {
		var sawCounter int
		eng := New(testReducer)
		mustRegister(t, eng, "split", stepNode("split", FanOut("first", "second")))
		mustRegister(t, eng, "first", stepNode("first", Next{}))
		mustRegister(t, eng, "second", NodeFunc[testState](func(_ context.Context, st testState) NodeResult[testState] {
			sawCounter = st.Counter
			return NodeResult[testState]{Route: Stop()}
		}))
		mustConnect(t, eng, "first", End, nil)
		mustStartAt(t, eng, "split")

		if _, err := eng.Run(context.Background(), "run-5", testState{}); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		// split contributed 1, first contributed 1 before second ran.
		if sawCounter != 2 {
			t.Errorf("expected second sibling to see counter 2, got %d", sawCounter)
		}
	})
}

func TestEngine_MaxSteps(t *testing.T) {
	eng := New(testReducer, WithMaxSteps[testState](3))
	mustRegister(t, eng, "loop", stepNode("loop", Goto("loop")))
	mustStartAt(t, eng, "loop")

	_, err := eng.Run(context.Background(), "run-6", testState{})
	if !errors.Is(err, ErrMaxStepsExceeded) {
		t.Fatalf("expected ErrMaxStepsExceeded, got %v", err)
	}
}

func TestEngine_ContextCancellation(t *testing.T) {
	// On cancellation Run returns the state accumulated so far, not zero.
	ctx, cancel := context.WithCancel(context.Background())

	eng := New(testReducer)
	mustRegister(t, eng, "a", NodeFunc[testState](func(_ context.Context, _ testState) NodeResult[testState] {
		cancel()
		return NodeResult[testState]{Delta: testState{Path: []string{"a"}, Counter: 1}, Route: Goto("b")}
	}))
	mustRegister(t, eng, "b", stepNode("b", Stop()))
	mustStartAt(t, eng, "a")

	final, err := eng.Run(ctx, "run-7", testState{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(final.Path) != 1 || final.Path[0] != "a" {
		t.Errorf("expected accumulated state with path [a], got %v", final.Path)
	}
}

func TestEngine_CancelBetweenSerialSiblings(t *testing.T) {
	// A deadline that expires between serial siblings must not wipe the
	// deltas of siblings that already finished.
	ctx, cancel := context.WithCancel(context.Background())

	eng := New(testReducer)
	mustRegister(t, eng, "split", stepNode("split", FanOut("x", "y")))
	mustRegister(t, eng, "x", NodeFunc[testState](func(_ context.Context, _ testState) NodeResult[testState] {
		cancel()
		return NodeResult[testState]{Delta: testState{Path: []string{"x"}, Counter: 1}, Route: Goto("join")}
	}))
	mustRegister(t, eng, "y", stepNode("y", Goto("join")))
	mustRegister(t, eng, "join", stepNode("join", Stop()))
	mustStartAt(t, eng, "split")

	final, err := eng.Run(ctx, "run-11", testState{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if got := strings.Join(final.Path, ","); got != "split,x" {
		t.Errorf("expected accumulated path split,x, got %s", got)
	}
}

func TestEngine_NodeError(t *testing.T) {
	wantErr := errors.New("node exploded")
	eng := New(testReducer)
	mustRegister(t, eng, "a", NodeFunc[testState](func(_ context.Context, _ testState) NodeResult[testState] {
		return NodeResult[testState]{Err: wantErr}
	}))
	mustStartAt(t, eng, "a")

	_, err := eng.Run(context.Background(), "run-8", testState{})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected node error to surface, got %v", err)
	}
}

func TestEngine_NodeErrorKeepsAccumulatedState(t *testing.T) {
	wantErr := errors.New("node exploded")
	eng := New(testReducer)
	mustRegister(t, eng, "a", stepNode("a", Goto("b")))
	mustRegister(t, eng, "b", NodeFunc[testState](func(_ context.Context, _ testState) NodeResult[testState] {
		return NodeResult[testState]{Err: wantErr}
	}))
	mustStartAt(t, eng, "a")

	final, err := eng.Run(context.Background(), "run-12", testState{})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected node error to surface, got %v", err)
	}
	if got := strings.Join(final.Path, ","); got != "a" {
		t.Errorf("expected accumulated path a, got %s", got)
	}
}

func TestEngine_NoRoute(t *testing.T) {
	eng := New(testReducer)
	mustRegister(t, eng, "a", NodeFunc[testState](func(_ context.Context, _ testState) NodeResult[testState] {
		return NodeResult[testState]{}
	}))
	mustStartAt(t, eng, "a")

	_, err := eng.Run(context.Background(), "run-9", testState{})
	if !errors.Is(err, ErrNoRoute) {
		t.Fatalf("expected ErrNoRoute, got %v", err)
	}
}

func TestEngine_ConditionalEdges(t *testing.T) {
	eng := New(testReducer)
	passthrough := NodeFunc[testState](func(_ context.Context, _ testState) NodeResult[testState] {
		return NodeResult[testState]{Delta: testState{Path: []string{"a"}, Counter: 5}}
	})
	mustRegister(t, eng, "a", passthrough)
	mustRegister(t, eng, "high", stepNode("high", Stop()))
	mustRegister(t, eng, "low", stepNode("low", Stop()))
	mustConnect(t, eng, "a", "high", func(st testState) bool { return st.Counter >= 5 })
	mustConnect(t, eng, "a", "low", func(st testState) bool { return st.Counter < 5 })
	mustStartAt(t, eng, "a")

	final, err := eng.Run(context.Background(), "run-10", testState{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := strings.Join(final.Path, ","); got != "a,high" {
		t.Errorf("expected a,high, got %s", got)
	}
}

func TestEngine_ConcurrentRuns(t *testing.T) {
	// One compiled engine must serve concurrent runs without shared-state races.
	eng := New(testReducer)
	mustRegister(t, eng, "a", stepNode("a", Goto("b")))
	mustRegister(t, eng, "b", stepNode("b", Stop()))
	mustStartAt(t, eng, "a")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			final, err := eng.Run(context.Background(), "run", testState{})
			if err != nil {
				t.Errorf("Run failed: %v", err)
				return
			}
			if final.Counter != 2 {
				t.Errorf("expected counter 2, got %d", final.Counter)
			}
		}()
	}
	wg.Wait()
}

func mustRegister(t *testing.T, eng *Engine[testState], id string, n Node[testState]) {
	t.Helper()
	if err := eng.Register(id, n); err != nil {
		t.Fatalf("Register(%s) failed: %v", id, err)
	}
}

func mustConnect(t *testing.T, eng *Engine[testState], from, to string, when Predicate[testState]) {
	t.Helper()
	if err := eng.Connect(from, to, when); err != nil {
		t.Fatalf("Connect(%s, %s) failed: %v", from, to, err)
	}
}

func mustStartAt(t *testing.T, eng *Engine[testState], id string) {
	t.Helper()
	if err := eng.StartAt(id); err != nil {
		t.Fatalf("StartAt(%s) failed: %v", id, err)
	}
}
