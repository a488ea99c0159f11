package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config controls buffering and batching for the Hub. Zero values fall back
// to a 1024 event buffer, 200 event batches, a 250ms flush interval and a 5s
// per-sink timeout.
type Config struct {
	BufferSize     int
	MaxBatchEvents int
	MaxBatchWait   time.Duration
	SinkTimeout    time.Duration
	BaseContext    context.Context
	Logger         *zap.Logger
}

const (
	defaultBufferSize     = 1024
	defaultMaxBatchEvents = 200
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
	if c.BaseContext == nil {
		c.BaseContext = context.Background()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Hub aggregates the events of pipeline workers and fans them out to
// registered sinks in batches. Emit is safe for concurrent use and never
// blocks; when the buffer is full the event is dropped. A terminal run event
// flushes the pending batch at once so sinks see the end of a run promptly.
type Hub struct {
	cfg    Config
	sinks  []Sink
	events chan Event
	stop   chan struct{}
	done   chan struct{}
	logger *zap.Logger

	dropped    atomic.Int64
	dropReport rate.Sometimes
	closed     atomic.Bool
	closeOnce  sync.Once
	closeCtx   context.Context
}

// NewHub starts the batching goroutine for the supplied sinks.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	cfg = cfg.withDefaults()
	h := &Hub{
		cfg:        cfg,
		sinks:      append([]Sink(nil), sinks...),
		events:     make(chan Event, cfg.BufferSize),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		logger:     cfg.Logger,
		dropReport: rate.Sometimes{Interval: dropLogInterval},
	}
	go h.run()
	return h
}

// Emit validates evt and enqueues it for batching.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event",
			zap.String("stage", string(evt.Stage)),
			zap.Error(err),
		)
		return
	}
	select {
	case h.events <- evt:
	default:
		total := h.dropped.Add(1)
		h.dropReport.Do(func() {
			h.logger.Warn("progress events dropped due to backpressure", zap.Int64("dropped_total", total))
		})
	}
}

// Dropped reports how many events were discarded because the buffer was full.
func (h *Hub) Dropped() int64 {
	if h == nil {
		return 0
	}
	return h.dropped.Load()
}

// Close drains remaining events, flushes and closes the sinks and waits for
// the batching goroutine to exit. Repeated calls only wait.
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
	// deadline is nil while the batch is empty, which disables that case.
	var deadline <-chan time.Time
	var timer *time.Timer

	flush := func() {
		if timer != nil {
			timer.Stop()
		}
		deadline = nil
		if len(batch) == 0 {
			return
		}
		h.deliver(batch)
		batch = batch[:0]
	}

	for {
		select {
		case evt := <-h.events:
			batch = append(batch, evt)
			switch {
			case evt.Terminal(), len(batch) >= h.cfg.MaxBatchEvents:
				flush()
			case deadline == nil:
				timer = time.NewTimer(h.cfg.MaxBatchWait)
				deadline = timer.C
			}
		case <-deadline:
			deadline = nil
			flush()
		case <-h.stop:
			if timer != nil {
				timer.Stop()
			}
			h.drain(batch)
			h.closeSinks()
			if n := h.dropped.Load(); n > 0 {
				h.logger.Warn("progress hub closed with dropped events", zap.Int64("dropped_total", n))
			}
			return
		}
	}
}

// drain delivers batch together with every buffered event.
func (h *Hub) drain(batch []Event) {
	for {
		select {
		case evt := <-h.events:
			batch = append(batch, evt)
			if len(batch) >= h.cfg.MaxBatchEvents {
				h.deliver(batch)
				batch = batch[:0]
			}
		default:
			h.deliver(batch)
			return
		}
	}
}

func (h *Hub) deliver(batch []Event) {
	if len(batch) == 0 {
		return
	}
	snapshot := append([]Event(nil), batch...)
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, snapshot); err != nil {
			h.logger.Warn("progress sink consume failed",
				zap.Int("batch_size", len(snapshot)),
				zap.Error(err),
			)
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
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}
