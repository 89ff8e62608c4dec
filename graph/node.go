package graph

import "context"

// Node represents a processing unit in the orchestration graph.
// It receives state of type S, performs computation, and returns a NodeResult.
//
// Nodes never mutate the state they are given. All changes travel back as a
// Delta which the engine merges through the configured reducer. This keeps
// state single-writer even when siblings execute concurrently.
//
// Type parameter S is the state type shared across the graph.
type Node[S any] interface {
	// Run executes the node's logic with the given context and state.
	// The context carries the node's deadline; implementations must honor it
	// between I/O operations.
	Run(ctx context.Context, state S) NodeResult[S]
}

// NodeResult represents the output of a node execution.
type NodeResult[S any] struct {
	// Delta is the partial state update produced by this node.
	// It will be merged with the current state using the configured reducer.
	Delta S

	// Route specifies the next step(s) in graph execution.
	// Use Stop() for terminal nodes, Goto(id) for explicit routing, or
	// FanOut(ids...) for parallel-eligible successors. A zero Route falls
	// back to declared edges and routers.
	Route Next

	// Err contains any error that occurred during node execution.
	// Non-nil errors halt the run; recoverable failures should instead be
	// folded into Delta by the wrapping scheduler.
	Err error
}

// Next specifies the next step(s) in graph execution after a node completes.
//
// It supports three routing modes:
//   - Terminal: stop execution (Terminal = true)
//   - Single: go to a specific node (To = "nodeID")
//   - Fan-out: go to multiple nodes, parallel-eligible (Many = []string{...})
type Next struct {
	// To specifies the next single node to execute.
	// Mutually exclusive with Many and Terminal.
	To string

	// Many specifies multiple successor nodes (fan-out).
	// Mutually exclusive with To and Terminal.
	Many []string

	// Terminal indicates graph execution should stop.
	// Mutually exclusive with To and Many.
	Terminal bool
}

// Stop returns a Next that terminates graph execution.
func Stop() Next {
	return Next{Terminal: true}
}

// Goto returns a Next that routes to the specified node.
func Goto(nodeID string) Next {
	return Next{To: nodeID}
}

// FanOut returns a Next that routes to several successors. When the engine's
// parallel predicate holds for the current state, the successors execute
// concurrently; otherwise they run serially in the given order.
func FanOut(nodeIDs ...string) Next {
	return Next{Many: nodeIDs}
}

// NodeFunc is a function adapter that implements the Node interface.
// It allows using plain functions as nodes without creating custom types.
type NodeFunc[S any] func(ctx context.Context, state S) NodeResult[S]

// Run implements the Node interface for NodeFunc.
func (f NodeFunc[S]) Run(ctx context.Context, state S) NodeResult[S] {
	return f(ctx, state)
}

// NodeError represents an error that occurred during node execution.
type NodeError struct {
	// Message is the human-readable error description.
	Message string

	// Code is a machine-readable error code for programmatic handling.
	Code string

	// NodeID identifies which node produced this error.
	NodeID string

	// Cause is the underlying error that caused this NodeError.
	Cause error
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	if e.NodeID != "" {
		return "node " + e.NodeID + ": " + e.Message
	}
	return e.Message
}

// Unwrap returns the underlying cause error for error wrapping support.
func (e *NodeError) Unwrap() error {
	return e.Cause
}
