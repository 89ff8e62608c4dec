package emit

// Emitter receives and processes observability events from run execution.
//
// Emitters enable pluggable observability backends: structured logs, SSE
// fan-out, OpenTelemetry spans, buffered history for tests.
//
// Implementations should be:
//   - Non-blocking: never slow down run execution
//   - Thread-safe: events arrive concurrently from sibling nodes
//   - Resilient: a failing backend must not crash the run
type Emitter interface {
	// Emit sends an observability event to the configured backend.
	// Emit must not panic; errors are handled internally.
	Emit(event Event)
}

// Multi fans a single event out to several emitters in order.
type Multi []Emitter

// Emit implements Emitter.
func (m Multi) Emit(event Event) {
	for _, e := range m {
		e.Emit(event)
	}
}
