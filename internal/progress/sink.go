package progress

import "context"

// Sink consumes batches of progress events. Implementations must honor ctx
// deadlines; the Hub calls them from a single goroutine.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events. The orchestrator depends on this
// rather than on Hub so tests can capture events directly.
type Emitter interface {
	Emit(evt Event)
}

// Nop discards every event.
type Nop struct{}

// Emit implements Emitter.
func (Nop) Emit(Event) {}
