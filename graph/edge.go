// Package graph provides the directed-graph execution engine for bioquery-go.
package graph

// End is the reserved edge target that terminates a run. Connecting a node to
// End declares a terminal edge; routers may also return End.
const End = "__end__"

// Edge represents a connection between two nodes in the graph.
//
// Edges define control flow between nodes:
//   - Unconditional: always traverse (When = nil).
//   - Conditional: traverse only if the predicate returns true (When != nil).
//
// Unlike single-successor routing, all matching edges from a node contribute
// to the successor set, so two satisfied predicates yield two siblings.
// Explicit routing via NodeResult.Route takes precedence over edges.
//
// Type parameter S is the state type used for predicate evaluation.
type Edge[S any] struct {
	// From is the source node ID.
	From string

	// To is the destination node ID, or End for a terminal edge.
	To string

	// When is an optional predicate that determines if this edge is traversed.
	// If nil, the edge is unconditional.
	When Predicate[S]
}

// Predicate evaluates state to determine if an edge should be traversed.
// Predicates must be pure functions: deterministic and side-effect free,
// so that evaluating a router twice on the same state yields the same set.
//
// Type parameter S is the state type to evaluate.
type Predicate[S any] func(state S) bool

// Router is a conditional multi-successor function attached to a node. Given
// the current state it returns the next set of node IDs (possibly including
// End). Routers must be pure for the same reason predicates are.
type Router[S any] func(state S) []string

// routerEdge binds a Router to its source node together with the statically
// declared set of targets the router may return. Compile validates targets
// and uses them to expand conditionals for cycle detection.
type routerEdge[S any] struct {
	From    string
	Route   Router[S]
	Targets []string
}
