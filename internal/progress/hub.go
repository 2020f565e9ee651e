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

const (
	defaultBufferSize     = 4096
	defaultMaxBatchEvents = 1000
	defaultMaxBatchWait   = 500 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
	dropWarnInterval      = 5 * time.Second
)

// Config controls buffering and batching for the Hub. Zero values take the
// defaults above.
type Config struct {
	// BufferSize is the capacity of the queue between Emit and the batcher.
	BufferSize int
	// MaxBatchEvents flushes once this many events are pending.
	MaxBatchEvents int
	// MaxBatchWait flushes a partial batch this long after its first event.
	MaxBatchWait time.Duration
	// SinkTimeout bounds each Consume call.
	SinkTimeout time.Duration
	// BaseContext parents sink calls; it outlives individual runs.
	BaseContext context.Context
	Logger      *zap.Logger
}

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

// Hub batches run events and fans them out to sinks on one goroutine. Emit
// never blocks the task goroutines that call it: when the queue is full the
// event is dropped and counted. Run-level completion events flush at once so
// sinks see a finished run without waiting for the batch timer.
type Hub struct {
	cfg    Config
	sinks  []Sink
	events chan Event
	stop   chan struct{}
	done   chan struct{}
	logger *zap.Logger

	dropWarn rate.Sometimes
	dropped  atomic.Int64
	closed   atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts the batcher. The Hub accepts events immediately.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	cfg = cfg.withDefaults()
	h := &Hub{
		cfg:      cfg,
		sinks:    append([]Sink(nil), sinks...),
		events:   make(chan Event, cfg.BufferSize),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		logger:   cfg.Logger.Named("progress"),
		dropWarn: rate.Sometimes{Interval: dropWarnInterval},
	}
	go h.loop()
	return h
}

// Emit queues evt, stamping TS when unset. Invalid events and events emitted
// after Close are discarded.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if evt.TS.IsZero() {
		evt.TS = time.Now().UTC()
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
	default:
		total := h.dropped.Add(1)
		h.dropWarn.Do(func() {
			h.logger.Warn("progress queue full, dropping events",
				zap.Int64("dropped_total", total),
				zap.String("stage", string(evt.Stage)),
			)
		})
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (h *Hub) Dropped() int64 {
	if h == nil {
		return 0
	}
	return h.dropped.Load()
}

// Close stops intake, flushes what is queued, closes the sinks, and waits for
// the batcher to exit or ctx to end. Repeated calls only wait.
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
		return fmt.Errorf("wait for progress hub: %w", ctx.Err())
	}
}

func (h *Hub) loop() {
	defer close(h.done)
	pending := make([]Event, 0, h.cfg.MaxBatchEvents)
	timer := time.NewTimer(h.cfg.MaxBatchWait)
	stopTimer(timer)
	// deadline is nil while nothing is pending.
	var deadline <-chan time.Time

	flush := func() {
		h.deliver(pending)
		pending = pending[:0]
		stopTimer(timer)
		deadline = nil
	}
	for {
		select {
		case evt := <-h.events:
			pending = append(pending, evt)
			if len(pending) >= h.cfg.MaxBatchEvents || evt.Stage.endsRun() {
				flush()
				continue
			}
			if deadline == nil {
				timer.Reset(h.cfg.MaxBatchWait)
				deadline = timer.C
			}
		case <-deadline:
			deadline = nil
			h.deliver(pending)
			pending = pending[:0]
		case <-h.stop:
			pending = h.drain(pending)
			flush()
			h.closeSinks()
			return
		}
	}
}

// drain moves everything still queued into pending, flushing full batches.
func (h *Hub) drain(pending []Event) []Event {
	for {
		select {
		case evt := <-h.events:
			pending = append(pending, evt)
			if len(pending) >= h.cfg.MaxBatchEvents {
				h.deliver(pending)
				pending = pending[:0]
			}
		default:
			return pending
		}
	}
}

func (h *Hub) deliver(batch []Event) {
	if len(batch) == 0 {
		return
	}
	// Sinks may retain the slice; pending is reused.
	out := append([]Event(nil), batch...)
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, out); err != nil {
			h.logger.Warn("progress sink consume failed",
				zap.String("sink", fmt.Sprintf("%T", sink)),
				zap.Int("batch", len(out)),
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
			h.logger.Warn("progress sink close failed", zap.String("sink", fmt.Sprintf("%T", sink)), zap.Error(err))
		}
	}
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
