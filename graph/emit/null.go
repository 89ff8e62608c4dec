package emit

// NullEmitter implements Emitter by discarding all events.
//
// Use it to disable event emission without changing wiring, or in tests that
// do not assert on events.
type NullEmitter struct{}

// NewNullEmitter creates a new NullEmitter.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit discards the event. The value receiver lets both NullEmitter{} and
// *NullEmitter satisfy Emitter.
func (n NullEmitter) Emit(event Event) {}

var (
	_ Emitter = NullEmitter{}
	_ Emitter = (*NullEmitter)(nil)
)
