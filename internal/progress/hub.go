package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config controls buffering and batching for the Hub.
//   - BufferSize: size of the internal channel (default 4096).
//   - MaxBatchEvents: flush once this many events queue (default 500).
//   - MaxBatchWait: flush after this duration even if the batch is small (default 250ms).
//   - SinkTimeout: per-sink timeout while flushing (default 5s).
type Config struct {
	BufferSize     int
	MaxBatchEvents int
	MaxBatchWait   time.Duration
	SinkTimeout    time.Duration
	Logger         *zap.Logger
}

const (
	defaultBufferSize     = 4096
	defaultMaxBatchEvents = 500
	defaultMaxBatchWait   = 250 * time.Millisecond
	defaultSinkTimeout    = 5 * time.Second
	dropLogInterval       = 5 * time.Second
)

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.MaxBatchEvents <= 0 {
		c.MaxBatchEvents = defaultMaxBatchEvents
	}
	if c.MaxBatchWait <= 0 {
		c.MaxBatchWait = defaultMaxBatchWait
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = defaultSinkTimeout
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Hub fans events out to sinks in batches. Emit is safe for concurrent use
// and never blocks; when the buffer is full events are dropped and counted.
type Hub struct {
	cfg    Config
	sinks  []Sink
	events chan Event
	stop   chan struct{}
	done   chan struct{}

	dropped     atomic.Int64
	lastDropLog atomic.Int64
	closed      atomic.Bool
	closeOnce   sync.Once
	closeCtx    context.Context
}

// NewHub starts the batching goroutine and returns a Hub ready for events.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	cfg = cfg.withDefaults()
	h := &Hub{
		cfg:    cfg,
		sinks:  append([]Sink(nil), sinks...),
		events: make(chan Event, cfg.BufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go h.run()
	return h
}

// Emit enqueues evt. Invalid events and events emitted after Close are
// discarded.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.cfg.Logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
	default:
		total := h.dropped.Add(1)
		now := time.Now().UnixNano()
		last := h.lastDropLog.Load()
		if now-last >= dropLogInterval.Nanoseconds() && h.lastDropLog.CompareAndSwap(last, now) {
			h.cfg.Logger.Warn("progress events dropped due to backpressure", zap.Int64("dropped_total", total))
		}
	}
}

// Dropped reports how many events were discarded for lack of buffer space.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Close flushes buffered events, closes the sinks and waits for the
// background goroutine. Later calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stop)
	})
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.done)

	batch := make([]Event, 0, h.cfg.MaxBatchEvents)
	timer := time.NewTimer(h.cfg.MaxBatchWait)
	timer.Stop()
	// flushC is nil while the batch is empty so an idle hub never wakes.
	var flushC <-chan time.Time

	flush := func() {
		h.flush(batch)
		batch = batch[:0]
		timer.Stop()
		flushC = nil
	}

	for {
		select {
		case evt := <-h.events:
			batch = append(batch, evt)
			if len(batch) >= h.cfg.MaxBatchEvents {
				flush()
			} else if flushC == nil {
				timer.Reset(h.cfg.MaxBatchWait)
				flushC = timer.C
			}
		case <-flushC:
			flush()
		case <-h.stop:
			for drained := false; !drained; {
				select {
				case evt := <-h.events:
					batch = append(batch, evt)
					if len(batch) >= h.cfg.MaxBatchEvents {
						flush()
					}
				default:
					drained = true
				}
			}
			flush()
			h.closeSinks()
			return
		}
	}
}

func (h *Hub) flush(batch []Event) {
	if len(batch) == 0 {
		return
	}
	snapshot := append([]Event(nil), batch...)
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, snapshot); err != nil {
			h.cfg.Logger.Warn("progress sink consume failed", zap.Error(err))
		}
		cancel()
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.cfg.Logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}
