package progress

import "context"

// Sink consumes batches of progress events. Implementations must be safe
// for repeated calls, honor ctx deadlines, and may be invoked concurrently.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events; Hub satisfies this interface so
// orchestrators stay agnostic about buffering and persistence.
type Emitter interface {
	Emit(evt Event)
}

// Nop discards every event. Useful as a default wiring.
type Nop struct{}

func (Nop) Emit(Event) {}
