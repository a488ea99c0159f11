package progress

import "context"

// Sink consumes batches of progress events. Implementations must be safe for
// repeated calls and honor ctx deadlines.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events. Hub satisfies it, so stages stay
// agnostic about how events are buffered or persisted.
type Emitter interface {
	Emit(evt Event)
}

// Discard is an Emitter that drops every event.
type Discard struct{}

// Emit implements Emitter.
func (Discard) Emit(Event) {}
