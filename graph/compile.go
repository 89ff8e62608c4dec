package graph

import "sort"

// Compile validates the graph topology:
//
//   - a start node is set and registered
//   - every edge endpoint and declared router target names a registered node
//     (End is always a valid target)
//   - the graph is acyclic after expanding conditionals into all statically
//     reachable successors
//
// Compile is idempotent. It fails with an error wrapping ErrGraphInvalid on
// any violation; Run refuses to execute an uncompiled graph (it compiles on
// demand and surfaces the same error).
func (e *Engine[S]) Compile() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.startNode == "" {
		return invalid("start node not set (call StartAt before Compile)")
	}
	if _, ok := e.nodes[e.startNode]; !ok {
		return invalid("start node does not exist: " + e.startNode)
	}

	// Static adjacency: every edge target plus every declared router target.
	adj := make(map[string][]string)
	for _, edge := range e.edges {
		if _, ok := e.nodes[edge.From]; !ok {
			return invalid("edge from unknown node: " + edge.From)
		}
		if edge.To != End {
			if _, ok := e.nodes[edge.To]; !ok {
				return invalid("edge targets unknown node: " + edge.To)
			}
			adj[edge.From] = append(adj[edge.From], edge.To)
		}
	}
	for _, r := range e.routers {
		if _, ok := e.nodes[r.From]; !ok {
			return invalid("router from unknown node: " + r.From)
		}
		for _, target := range r.Targets {
			if target == End {
				continue
			}
			if _, ok := e.nodes[target]; !ok {
				return invalid("router targets unknown node: " + target)
			}
			adj[r.From] = append(adj[r.From], target)
		}
	}

	if cycle := findCycle(adj); cycle != "" {
		return invalid("cycle detected through node: " + cycle)
	}

	e.compiled = true
	return nil
}

func invalid(msg string) error {
	return &EngineError{Message: msg, Code: "GRAPH_INVALID", Err: ErrGraphInvalid}
}

// findCycle runs an iterative three-color DFS over the adjacency map and
// returns the first node found on a cycle, or "" if the graph is acyclic.
// Roots are visited in sorted order so the reported node is deterministic.
func findCycle(adj map[string][]string) string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int)

	roots := make([]string, 0, len(adj))
	for n := range adj {
		roots = append(roots, n)
	}
	sort.Strings(roots)

	var visit func(n string) string
	visit = func(n string) string {
		color[n] = gray
		for _, succ := range adj[n] {
			switch color[succ] {
			case gray:
				return succ
			case white:
				if hit := visit(succ); hit != "" {
					return hit
				}
			}
		}
		color[n] = black
		return ""
	}

	for _, n := range roots {
		if color[n] == white {
			if hit := visit(n); hit != "" {
				return hit
			}
		}
	}
	return ""
}
