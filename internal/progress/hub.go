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
type Config struct {
	// BufferSize is the internal channel capacity (default 1024).
	BufferSize int
	// MaxBatch flushes once this many events queue (default 256).
	MaxBatch int
	// MaxWait flushes a partial batch after this duration (default 250ms).
	MaxWait time.Duration
	// SinkTimeout bounds each sink call while flushing (default 10s).
	SinkTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = 1024
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = 256
	}
	if c.MaxWait <= 0 {
		c.MaxWait = 250 * time.Millisecond
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = 10 * time.Second
	}
	return c
}

// Hub buffers events and fans them out to sinks in batches. Emit never
// blocks the caller: when the buffer is full the event is dropped and
// counted.
type Hub struct {
	cfg    Config
	sinks  []Sink
	log    *zap.Logger
	events chan Event
	stop   chan struct{}
	done   chan struct{}

	dropped atomic.Int64
	closed  atomic.Bool
	once    sync.Once
}

// NewHub starts the batching goroutine and returns a ready Hub.
func NewHub(cfg Config, log *zap.Logger, sinks ...Sink) *Hub {
	h := &Hub{
		cfg:    cfg.withDefaults(),
		sinks:  append([]Sink(nil), sinks...),
		log:    log.Named("progress"),
		events: make(chan Event, cfg.withDefaults().BufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go h.run()
	return h
}

// Emit enqueues one event. Invalid events are discarded with a debug log.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.log.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
	default:
		h.dropped.Add(1)
	}
}

// Dropped reports how many events were lost to backpressure.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// Close drains buffered events, flushes and closes the sinks, and waits
// for the background goroutine, bounded by ctx.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	h.once.Do(func() {
		h.closed.Store(true)
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

	batch := make([]Event, 0, h.cfg.MaxBatch)
	ticker := time.NewTicker(h.cfg.MaxWait)
	defer ticker.Stop()

	for {
		select {
		case evt := <-h.events:
			batch = append(batch, evt)
			if len(batch) >= h.cfg.MaxBatch {
				h.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				h.flush(batch)
				batch = batch[:0]
			}
			if n := h.dropped.Swap(0); n > 0 {
				h.log.Warn("progress events dropped due to backpressure", zap.Int64("dropped", n))
			}
		case <-h.stop:
			h.drain(batch)
			return
		}
	}
}

// drain empties the channel after stop, then flushes and closes sinks.
func (h *Hub) drain(batch []Event) {
	for {
		select {
		case evt := <-h.events:
			batch = append(batch, evt)
			if len(batch) >= h.cfg.MaxBatch {
				h.flush(batch)
				batch = batch[:0]
			}
		default:
			h.flush(batch)
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
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, snapshot); err != nil {
			h.log.Warn("progress sink consume failed", zap.Error(err))
		}
		cancel()
	}
}

func (h *Hub) closeSinks() {
	for _, sink := range h.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
		if err := sink.Close(ctx); err != nil {
			h.log.Warn("progress sink close failed", zap.Error(err))
		}
		cancel()
	}
}
