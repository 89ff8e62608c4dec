package emit

import "time"

// Event type names published over a run's event stream. Events are emitted in
// causal order per run; run_completed (or run_failed) is always last.
const (
	TypeRunStarted     = "run_started"
	TypeNodeStarted    = "node_started"
	TypeNodeProgress   = "node_progress"
	TypeNodeCompleted  = "node_completed"
	TypeNodeFailed     = "node_failed"
	TypeRetryAttempt   = "retry_attempt"
	TypeBudgetUpdate   = "budget_update"
	TypePartialResults = "partial_results"
	TypeSynthesisStage = "synthesis_stage"
	TypeRunCompleted   = "run_completed"
	TypeRunFailed      = "run_failed"
)

// Event represents an observability event emitted during run execution.
//
// Events provide insight into run behavior: node lifecycle, retries, budget
// consumption, partial-result salvage, and synthesis progress. They are
// emitted to an Emitter which can log them, create spans, buffer them for
// inspection, or fan them out to SSE clients.
type Event struct {
	// Type is one of the Type* constants above.
	Type string `json:"type"`

	// RunID identifies the run that emitted this event.
	RunID string `json:"run_id"`

	// Node identifies which node emitted this event.
	// Empty for run-level events (run_started, run_completed, ...).
	Node string `json:"node,omitempty"`

	// Ts records when the event was emitted (UTC).
	Ts time.Time `json:"timestamp"`

	// Meta contains the event type's required fields and any extras.
	// Common keys:
	//   - "item_count", "cache_hit", "latency_ms" (node_completed)
	//   - "attempt", "max_attempts", "delay_ms", "error_kind" (retry_attempt)
	//   - "consumed_ms", "remaining_ms", "danger_zone" (budget_update)
	//   - "reason", "completion_pct", "available_sources" (partial_results)
	//   - "stage", "percent" (synthesis_stage)
	//   - "checkpoint_id", "quality_overall", "answer_type" (run_completed)
	Meta map[string]interface{} `json:"meta,omitempty"`
}

// Terminal reports whether this event ends the run's stream.
func (e Event) Terminal() bool {
	return e.Type == TypeRunCompleted || e.Type == TypeRunFailed
}

// New builds an event with the timestamp set to now (UTC).
func New(eventType, runID, node string, meta map[string]interface{}) Event {
	return Event{
		Type:  eventType,
		RunID: runID,
		Node:  node,
		Ts:    time.Now().UTC(),
		Meta:  meta,
	}
}
