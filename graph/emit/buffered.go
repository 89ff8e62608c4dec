package emit

import "sync"

// BufferedEmitter implements Emitter by storing events in memory.
//
// It captures all events per run and provides query capabilities, which tests
// use to assert event ordering and the snapshot endpoint uses to show recent
// run history.
//
// Warning: events accumulate in memory; call Clear for finished runs in
// long-lived processes.
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // runID -> events in emission order
}

// HistoryFilter specifies criteria for filtering a run's event history.
// All fields are optional and combine with AND logic.
type HistoryFilter struct {
	Node string // filter by node (empty = no filter)
	Type string // filter by event type (empty = no filter)
}

// NewBufferedEmitter creates a new BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{events: make(map[string][]Event)}
}

// Emit stores an event in the buffer.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[event.RunID] = append(b.events[event.RunID], event)
}

// History retrieves all events for a run in emission order.
// Returns a copy; an unknown run yields an empty slice.
func (b *BufferedEmitter) History(runID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	events := b.events[runID]
	result := make([]Event, len(events))
	copy(result, events)
	return result
}

// HistoryWithFilter retrieves the run's events matching the filter, in
// emission order.
func (b *BufferedEmitter) HistoryWithFilter(runID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := []Event{}
	for _, event := range b.events[runID] {
		if filter.Node != "" && event.Node != filter.Node {
			continue
		}
		if filter.Type != "" && event.Type != filter.Type {
			continue
		}
		result = append(result, event)
	}
	return result
}

// Clear removes stored events for a run, or every run when runID is empty.
func (b *BufferedEmitter) Clear(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if runID == "" {
		b.events = make(map[string][]Event)
		return
	}
	delete(b.events, runID)
}
