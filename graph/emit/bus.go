package emit

import "sync"

// subscriberBuffer bounds each subscriber channel. A consumer that falls this
// far behind is dropped rather than blocking publishers.
const subscriberBuffer = 256

// Bus is a process-wide, per-run event broadcaster implementing Emitter.
//
// Each run gets its own fan-out: Subscribe(runID) returns a channel that
// replays the run's history so far and then receives live events. Publication
// is fire-and-forget; slow consumers are dropped once their buffer fills.
//
// After a terminal event (run_completed / run_failed) the run's stream is
// closed, but the terminal event is retained so late or reconnecting
// subscribers still receive it.
type Bus struct {
	mu   sync.Mutex
	runs map[string]*runStream
}

type runStream struct {
	history  []Event
	subs     map[uint64]chan Event
	nextID   uint64
	closed   bool
	terminal *Event
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{runs: make(map[string]*runStream)}
}

// Emit publishes an event to the run's subscribers. The first terminal event
// closes the run's stream.
func (b *Bus) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rs := b.runs[event.RunID]
	if rs == nil {
		rs = &runStream{subs: make(map[uint64]chan Event)}
		b.runs[event.RunID] = rs
	}
	if rs.closed {
		return
	}

	rs.history = append(rs.history, event)
	for id, ch := range rs.subs {
		select {
		case ch <- event:
		default:
			// Slow consumer: drop to keep publication non-blocking.
			close(ch)
			delete(rs.subs, id)
		}
	}

	if event.Terminal() {
		rs.closed = true
		ev := event
		rs.terminal = &ev
		for id, ch := range rs.subs {
			close(ch)
			delete(rs.subs, id)
		}
	}
}

// Subscribe returns a channel of the run's events and an unsubscribe
// function. The channel first replays the run's history (or just the retained
// terminal event if history was evicted), then delivers live events. The
// channel is closed after the terminal event or on unsubscribe.
func (b *Bus) Subscribe(runID string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rs := b.runs[runID]
	if rs == nil {
		rs = &runStream{subs: make(map[uint64]chan Event)}
		b.runs[runID] = rs
	}

	replay := rs.history
	if len(replay) == 0 && rs.terminal != nil {
		replay = []Event{*rs.terminal}
	}

	ch := make(chan Event, len(replay)+subscriberBuffer)
	for _, ev := range replay {
		ch <- ev
	}

	if rs.closed {
		close(ch)
		return ch, func() {}
	}

	id := rs.nextID
	rs.nextID++
	rs.subs[id] = ch

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := rs.subs[id]; ok {
			delete(rs.subs, id)
			close(ch)
		}
	}
	return ch, unsub
}

// History returns a copy of the run's most recent events, up to limit
// (limit <= 0 means all retained events).
func (b *Bus) History(runID string, limit int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	rs := b.runs[runID]
	if rs == nil {
		return nil
	}
	events := rs.history
	if len(events) == 0 && rs.terminal != nil {
		events = []Event{*rs.terminal}
	}
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return append([]Event(nil), events...)
}

// Terminal returns the retained terminal event for a run, if the run has
// finished.
func (b *Bus) Terminal(runID string) (Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rs := b.runs[runID]
	if rs == nil || rs.terminal == nil {
		return Event{}, false
	}
	return *rs.terminal, true
}

// Evict drops a run's history and subscribers. The terminal event is kept so
// reconnecting clients can still observe that the run finished.
func (b *Bus) Evict(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rs := b.runs[runID]
	if rs == nil {
		return
	}
	for id, ch := range rs.subs {
		close(ch)
		delete(rs.subs, id)
	}
	rs.history = nil
	rs.closed = true
}
