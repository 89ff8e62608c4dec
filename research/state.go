package research

import (
	"sort"

	"github.com/dshills/bioquery-go/errclass"
)

// BudgetSnapshot is the budget tracker's view folded into state after each
// node. The tracker itself lives in the scheduler; state only carries the
// last observation.
type BudgetSnapshot struct {
	AllocatedMS int64            `json:"allocated_ms"`
	ConsumedMS  int64            `json:"consumed_ms"`
	RemainingMS int64            `json:"remaining_ms"`
	PerNodeMS   map[string]int64 `json:"per_node_ms,omitempty"`
}

// RunState is the single state threaded through a run's graph. It is mutated
// only through Reduce on the engine's merge path; nodes return deltas.
type RunState struct {
	RunID    string   `json:"run_id"`
	Query    string   `json:"query"`
	Settings Settings `json:"settings"`

	Frame           *Frame   `json:"frame,omitempty"`
	RoutingDecision []string `json:"routing_decision,omitempty"`

	// Results holds one slot per source that completed a fetch.
	Results map[string][]Item `json:"results,omitempty"`

	NodePath      []string          `json:"node_path,omitempty"`
	NodeLatencyMS map[string]int64  `json:"node_latency_ms,omitempty"`
	CacheHits     map[string]bool   `json:"cache_hits,omitempty"`
	Errors        []errclass.Record `json:"errors,omitempty"`

	Budget     BudgetSnapshot `json:"budget"`
	DangerZone bool           `json:"danger_zone,omitempty"`

	Answer        string          `json:"answer,omitempty"`
	AnswerType    AnswerType      `json:"answer_type,omitempty"`
	Citations     []Citation      `json:"citations,omitempty"`
	CitationsMore int             `json:"citations_more,omitempty"`
	Quality       *QualityMetrics `json:"quality,omitempty"`

	Partial       bool   `json:"partial,omitempty"`
	PartialReason string `json:"partial_reason,omitempty"`
	CheckpointID  string `json:"checkpoint_id,omitempty"`
}

// Reduce merges a node delta into the accumulated state: lists append, maps
// merge key-wise, scalars overwrite when the delta sets them, and boolean
// flags latch once true. It is the engine's reducer for RunState.
func Reduce(prev, delta RunState) RunState {
	out := prev

	if delta.Frame != nil {
		out.Frame = delta.Frame
	}
	if len(delta.RoutingDecision) > 0 {
		out.RoutingDecision = delta.RoutingDecision
	}

	if len(delta.Results) > 0 {
		if out.Results == nil {
			out.Results = make(map[string][]Item, len(delta.Results))
		} else {
			merged := make(map[string][]Item, len(out.Results)+len(delta.Results))
			for k, v := range out.Results {
				merged[k] = v
			}
			out.Results = merged
		}
		for k, v := range delta.Results {
			out.Results[k] = v
		}
	}

	out.NodePath = append(append([]string(nil), prev.NodePath...), delta.NodePath...)
	out.Errors = append(append([]errclass.Record(nil), prev.Errors...), delta.Errors...)
	out.NodeLatencyMS = mergeInt64(prev.NodeLatencyMS, delta.NodeLatencyMS)
	out.CacheHits = mergeBool(prev.CacheHits, delta.CacheHits)

	if delta.Budget.AllocatedMS > 0 {
		out.Budget = delta.Budget
	}
	out.DangerZone = prev.DangerZone || delta.DangerZone
	out.Partial = prev.Partial || delta.Partial

	if delta.Answer != "" {
		out.Answer = delta.Answer
	}
	if delta.AnswerType != "" {
		out.AnswerType = delta.AnswerType
	}
	if delta.Citations != nil {
		out.Citations = delta.Citations
		out.CitationsMore = delta.CitationsMore
	}
	if delta.Quality != nil {
		out.Quality = delta.Quality
	}
	if delta.PartialReason != "" {
		out.PartialReason = delta.PartialReason
	}
	if delta.CheckpointID != "" {
		out.CheckpointID = delta.CheckpointID
	}

	return out
}

func mergeInt64(a, b map[string]int64) map[string]int64 {
	if len(b) == 0 {
		return a
	}
	out := make(map[string]int64, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

func mergeBool(a, b map[string]bool) map[string]bool {
	if len(b) == 0 {
		return a
	}
	out := make(map[string]bool, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

// TotalItems counts items across all result slots.
func (s *RunState) TotalItems() int {
	n := 0
	for _, items := range s.Results {
		n += len(items)
	}
	return n
}

// AvailableSources lists the sources that produced a non-empty result slot,
// sorted for deterministic output.
func (s *RunState) AvailableSources() []string {
	out := make([]string, 0, len(s.Results))
	for src, items := range s.Results {
		if len(items) > 0 {
			out = append(out, src)
		}
	}
	sort.Strings(out)
	return out
}

// CacheHitRate returns the fraction of executed fetch nodes that were served
// from cache, or 0 when no fetch node ran.
func (s *RunState) CacheHitRate() float64 {
	if len(s.CacheHits) == 0 {
		return 0
	}
	hits := 0
	for _, hit := range s.CacheHits {
		if hit {
			hits++
		}
	}
	return float64(hits) / float64(len(s.CacheHits))
}

// RequestedSources resolves the run's source set: the request's explicit list
// when present, otherwise the sources implied by the routing decision, and
// failing that all sources.
func (s *RunState) RequestedSources() []string {
	if len(s.Settings.Sources) > 0 {
		return s.Settings.Sources
	}
	if len(s.RoutingDecision) > 0 {
		out := make([]string, 0, len(s.RoutingDecision))
		for _, node := range s.RoutingDecision {
			if src := NodeSource(node); src != "" {
				out = append(out, src)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return []string{SourcePubs, SourceTrials, SourceRAG}
}
