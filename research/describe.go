package research

import "sort"

// GraphNodeDesc describes one node for the visualization endpoint.
type GraphNodeDesc struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Type  string `json:"type"` // processor, decision, tool
}

// GraphEdgeDesc describes one static edge.
type GraphEdgeDesc struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// GraphDescription is the static shape of the run graph.
type GraphDescription struct {
	Nodes []GraphNodeDesc `json:"nodes"`
	Edges []GraphEdgeDesc `json:"edges"`
}

// Visualization returns the static graph description: the registered fetch
// sources plus the fixed parse/route/synthesize spine.
func (o *Orchestrator) Visualization() GraphDescription {
	desc := GraphDescription{
		Nodes: []GraphNodeDesc{
			{ID: NodeParse, Label: "Intent parser", Type: "processor"},
			{ID: NodeRoute, Label: "Router", Type: "decision"},
		},
		Edges: []GraphEdgeDesc{
			{From: NodeParse, To: NodeRoute},
		},
	}

	sources := make([]string, 0, len(o.fetchers))
	for src := range o.fetchers {
		sources = append(sources, src)
	}
	sort.Strings(sources)

	for _, src := range sources {
		node := FetchNodeFor(src)
		desc.Nodes = append(desc.Nodes, GraphNodeDesc{ID: node, Label: sectionTitle(src), Type: "tool"})
		desc.Edges = append(desc.Edges,
			GraphEdgeDesc{From: NodeRoute, To: node},
			GraphEdgeDesc{From: node, To: NodeSynthesize},
		)
	}

	desc.Nodes = append(desc.Nodes, GraphNodeDesc{ID: NodeSynthesize, Label: "Synthesizer", Type: "processor"})
	return desc
}

// Capabilities describes the orchestrator's static feature surface: limits,
// defaults, and the middleware applied around every node.
func (o *Orchestrator) Capabilities() map[string]interface{} {
	sources := make([]string, 0, len(o.fetchers))
	for src := range o.fetchers {
		sources = append(sources, src)
	}
	sort.Strings(sources)

	return map[string]interface{}{
		"sources":            sources,
		"default_budget_ms":  o.cfg.Defaults.BudgetMS,
		"max_budget_ms":      o.cfg.Defaults.MaxBudgetMS,
		"min_budget_ms":      MinBudgetMS,
		"max_parallel_nodes": o.cfg.MaxParallel,
		"priorities":         []string{PrioritySpeed, PriorityComprehensive, PriorityBalanced},
		"citation_formats":   []string{CitationIDOnly, CitationFull, CitationInline},
		"middleware": []string{
			"budget_deadline", "retry_classifier", "panic_guard",
			"event_emission", "metrics",
		},
	}
}
