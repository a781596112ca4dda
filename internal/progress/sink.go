package progress

import "context"

// Sink consumes batches of progress events. Implementations must honor ctx
// deadlines and tolerate being called concurrently with Close.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events. Hub satisfies this; the batch and
// crawl runners depend only on this interface so a nil emitter or a test stub
// drops in cleanly.
type Emitter interface {
	Emit(evt Event)
}
