package graph

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Reducer merges a partial state update into the accumulated state.
// It must be deterministic: lists append, maps merge, scalars overwrite.
// Only the engine calls the reducer, so implementations need no locking.
type Reducer[S any] func(prev, delta S) S

// Engine executes a compiled directed graph of nodes over a shared state.
//
// The Engine:
//   - Holds the registered node set and declared edges/routers
//   - Validates topology via Compile
//   - Executes sibling sets serially or concurrently (bounded by MaxParallel)
//   - Merges node deltas through the reducer (single-writer discipline)
//   - Enforces the MaxSteps backstop and honors context cancellation
//
// Persistence and observability are deliberately not engine concerns; the
// caller wraps nodes with whatever middleware it needs (budget, retry,
// tracing) and observes the run through those wrappers.
//
// Type parameter S is the state type shared across the graph.
type Engine[S any] struct {
	mu sync.RWMutex

	// reducer merges partial state updates deterministically
	reducer Reducer[S]

	// nodes maps node IDs to Node implementations
	nodes map[string]Node[S]

	// edges defines static and conditional transitions between nodes
	edges []Edge[S]

	// routers defines conditional multi-successor transitions
	routers []routerEdge[S]

	// startNode is the entry point for execution
	startNode string

	// opts contains execution configuration
	opts Options[S]

	// compiled is set once Compile succeeds; Run requires it
	compiled bool
}

// Options configures Engine execution behavior. Zero values are valid.
type Options[S any] struct {
	// MaxSteps limits the total number of node executions in a run.
	// If 0, a default of 256 is enforced.
	MaxSteps int

	// MaxParallel caps how many siblings execute concurrently.
	// If 0, a default of 5 is used.
	MaxParallel int

	// ParallelWhen decides, per state, whether a sibling set may execute
	// concurrently. If nil, siblings always execute serially.
	ParallelWhen Predicate[S]

	// Metrics receives execution observations when non-nil.
	Metrics *PrometheusMetrics
}

// Option is a functional option for configuring an Engine.
type Option[S any] func(*Options[S])

// WithMaxSteps sets the node-execution backstop for a run.
func WithMaxSteps[S any](n int) Option[S] {
	return func(o *Options[S]) { o.MaxSteps = n }
}

// WithMaxParallel caps concurrent sibling execution within a run.
func WithMaxParallel[S any](n int) Option[S] {
	return func(o *Options[S]) { o.MaxParallel = n }
}

// WithParallelWhen installs the predicate that gates concurrent sibling
// execution. Siblings run serially whenever the predicate returns false.
func WithParallelWhen[S any](p Predicate[S]) Option[S] {
	return func(o *Options[S]) { o.ParallelWhen = p }
}

// WithMetrics enables Prometheus metrics collection for node execution.
func WithMetrics[S any](m *PrometheusMetrics) Option[S] {
	return func(o *Options[S]) { o.Metrics = m }
}

// New creates a new Engine with the given reducer and options.
func New[S any](reducer Reducer[S], opts ...Option[S]) *Engine[S] {
	o := Options[S]{}
	for _, fn := range opts {
		fn(&o)
	}
	if o.MaxSteps <= 0 {
		o.MaxSteps = 256
	}
	if o.MaxParallel <= 0 {
		o.MaxParallel = 5
	}
	return &Engine[S]{
		reducer: reducer,
		nodes:   make(map[string]Node[S]),
		opts:    o,
	}
}

// Register adds a node to the graph. Registration is rejected for empty IDs,
// nil nodes, the reserved End name, and duplicates; a duplicate node ID is a
// configuration error, never a silent overwrite.
func (e *Engine[S]) Register(nodeID string, node Node[S]) error {
	if nodeID == "" {
		return &EngineError{Message: "node ID cannot be empty"}
	}
	if nodeID == End {
		return &EngineError{Message: "node ID " + End + " is reserved", Code: "RESERVED_NODE"}
	}
	if node == nil {
		return &EngineError{Message: "node cannot be nil"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; exists {
		return &EngineError{
			Message: "duplicate node ID: " + nodeID,
			Code:    "DUPLICATE_NODE",
		}
	}

	e.nodes[nodeID] = node
	e.compiled = false
	return nil
}

// StartAt sets the entry point for execution. The node must already be
// registered.
func (e *Engine[S]) StartAt(nodeID string) error {
	if nodeID == "" {
		return &EngineError{Message: "start node ID cannot be empty"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; !exists {
		return &EngineError{
			Message: "start node does not exist: " + nodeID,
			Code:    "NODE_NOT_FOUND",
		}
	}

	e.startNode = nodeID
	e.compiled = false
	return nil
}

// Connect declares an edge between two nodes. A nil predicate makes the edge
// unconditional; To may be End to declare a terminal edge. Node existence is
// validated by Compile, not here, so construction order is flexible.
func (e *Engine[S]) Connect(from, to string, predicate Predicate[S]) error {
	if from == "" {
		return &EngineError{Message: "from node ID cannot be empty"}
	}
	if to == "" {
		return &EngineError{Message: "to node ID cannot be empty"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.edges = append(e.edges, Edge[S]{From: from, To: to, When: predicate})
	e.compiled = false
	return nil
}

// ConnectRouter attaches a conditional multi-successor router to a node.
// targets declares every node ID the router may return (plus End, which is
// always permitted); Compile validates targets and uses them to expand the
// conditional for cycle detection.
func (e *Engine[S]) ConnectRouter(from string, router Router[S], targets ...string) error {
	if from == "" {
		return &EngineError{Message: "from node ID cannot be empty"}
	}
	if router == nil {
		return &EngineError{Message: "router cannot be nil"}
	}
	if len(targets) == 0 {
		return &EngineError{Message: "router must declare at least one target"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.routers = append(e.routers, routerEdge[S]{From: from, Route: router, Targets: targets})
	e.compiled = false
	return nil
}

// Run executes the graph from the start node until a terminal route, merging
// each node's delta into the accumulated state through the reducer.
//
// Sibling sets returned together by routing are eligible for concurrent
// execution when the ParallelWhen predicate holds for the current state;
// otherwise they execute serially in routing order. The engine waits for the
// whole sibling set to complete (or be cancelled) before routing again.
//
// Run compiles the graph on first use if Compile has not been called.
func (e *Engine[S]) Run(ctx context.Context, runID string, initial S) (S, error) {
	var zero S

	if e.reducer == nil {
		return zero, &EngineError{Message: "reducer is required", Code: "MISSING_REDUCER"}
	}

	e.mu.RLock()
	compiled := e.compiled
	e.mu.RUnlock()
	if !compiled {
		if err := e.Compile(); err != nil {
			return zero, err
		}
	}

	state := initial
	frontier := []string{e.startNode}
	steps := 0

	for len(frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return state, err
		}

		steps += len(frontier)
		if steps > e.opts.MaxSteps {
			return zero, &EngineError{
				Message: fmt.Sprintf("run %s exceeded %d steps", runID, e.opts.MaxSteps),
				Code:    "MAX_STEPS_EXCEEDED",
				Err:     ErrMaxStepsExceeded,
			}
		}

		results, execErr := e.executeSet(ctx, frontier, state)

		// Merge deltas in frontier order. Only this loop writes state.
		// Completed siblings merge even when the set was cut short, so
		// callers salvaging a cancelled run see everything that finished.
		terminal := false
		for _, res := range results {
			if res.Err != nil {
				return state, res.Err
			}
			state = e.reducer(state, res.Delta)
			if res.Route.Terminal {
				terminal = true
			}
		}
		if execErr != nil {
			return state, execErr
		}

		next := e.nextFrontier(frontier, results, state)
		if len(next) == 0 {
			if terminal || e.reachedEnd(frontier, results, state) {
				return state, nil
			}
			return zero, &EngineError{
				Message: "no valid route from nodes: " + fmt.Sprint(frontier),
				Code:    "NO_ROUTE",
				Err:     ErrNoRoute,
			}
		}
		frontier = next
	}

	return state, nil
}

// executeSet runs one sibling set and returns results in frontier order.
// When the set is cut short (context expiry or a dispatch error), the results
// already produced are returned alongside the error; unfilled slots hold zero
// deltas, which reducers treat as no-ops.
func (e *Engine[S]) executeSet(ctx context.Context, frontier []string, state S) ([]NodeResult[S], error) {
	results := make([]NodeResult[S], len(frontier))

	parallel := len(frontier) > 1 && e.opts.ParallelWhen != nil && e.opts.ParallelWhen(state)
	if !parallel {
		for i, nodeID := range frontier {
			if err := ctx.Err(); err != nil {
				return results[:i], err
			}
			res, err := e.executeOne(ctx, nodeID, state)
			if err != nil {
				return results[:i], err
			}
			results[i] = res
			// Serial siblings observe earlier siblings' writes.
			if res.Err == nil {
				state = e.reducer(state, res.Delta)
			}
		}
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.MaxParallel)
	for i, nodeID := range frontier {
		snapshot, err := deepCopy(state)
		if err != nil {
			return nil, &EngineError{Message: "state snapshot failed: " + err.Error(), Code: "SNAPSHOT_FAILED"}
		}
		g.Go(func() error {
			res, err := e.executeOne(gctx, nodeID, snapshot)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// executeOne dispatches a single node and records metrics.
func (e *Engine[S]) executeOne(ctx context.Context, nodeID string, state S) (NodeResult[S], error) {
	e.mu.RLock()
	node, exists := e.nodes[nodeID]
	e.mu.RUnlock()
	if !exists {
		return NodeResult[S]{}, &EngineError{
			Message: "node not found during execution: " + nodeID,
			Code:    "NODE_NOT_FOUND",
		}
	}

	if m := e.opts.Metrics; m != nil {
		m.AddInflight(1)
		defer m.AddInflight(-1)
		start := time.Now()
		res := node.Run(ctx, state)
		status := "success"
		if res.Err != nil {
			status = "error"
		}
		m.RecordNodeLatency(nodeID, time.Since(start), status)
		return res, nil
	}

	return node.Run(ctx, state), nil
}

// nextFrontier computes the ordered, deduplicated successor set from the
// sibling results. Explicit routes win; otherwise declared edges and routers
// for each node contribute all matching targets, in declaration order.
func (e *Engine[S]) nextFrontier(frontier []string, results []NodeResult[S], state S) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var next []string
	seen := make(map[string]bool)
	add := func(id string) {
		if id == "" || id == End || seen[id] {
			return
		}
		seen[id] = true
		next = append(next, id)
	}

	for i, res := range results {
		switch {
		case res.Route.Terminal:
			// Contributes no successors.
		case res.Route.To != "":
			add(res.Route.To)
		case len(res.Route.Many) > 0:
			for _, id := range res.Route.Many {
				add(id)
			}
		default:
			for _, id := range e.successorsLocked(frontier[i], state) {
				add(id)
			}
		}
	}
	return next
}

// reachedEnd reports whether every node in the set that lacked an explicit
// route resolved to End (or a terminal route) via its edges and routers.
func (e *Engine[S]) reachedEnd(frontier []string, results []NodeResult[S], state S) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for i, res := range results {
		if res.Route.Terminal || res.Route.To != "" || len(res.Route.Many) > 0 {
			continue
		}
		succ := e.successorsLocked(frontier[i], state)
		matchedEnd := false
		for _, id := range succ {
			if id == End {
				matchedEnd = true
			}
		}
		if !matchedEnd {
			return false
		}
	}
	return true
}

// successorsLocked evaluates all edges and routers for a node against the
// current state and returns matching targets (End included) in declaration
// order. Callers must hold at least a read lock.
func (e *Engine[S]) successorsLocked(fromNode string, state S) []string {
	var out []string
	for _, edge := range e.edges {
		if edge.From != fromNode {
			continue
		}
		if edge.When == nil || edge.When(state) {
			out = append(out, edge.To)
		}
	}
	for _, r := range e.routers {
		if r.From != fromNode {
			continue
		}
		out = append(out, r.Route(state)...)
	}
	return out
}
