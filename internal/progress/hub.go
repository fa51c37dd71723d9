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
	// BufferSize is the capacity of the event channel (default 256).
	BufferSize int
	// MaxBatchEvents flushes once this many events are pending (default 64).
	MaxBatchEvents int
	// MaxBatchWait flushes a partial batch after this long (default 500ms).
	MaxBatchWait time.Duration
	// SinkTimeout bounds each Consume call (default 10s).
	SinkTimeout time.Duration
	Logger      *zap.Logger
}

const dropLogInterval = 5 * time.Second

// Hub fans events out to sinks. It is safe for concurrent use.
type Hub struct {
	cfg     Config
	sinks   []Sink
	events  chan Event
	stop    chan struct{}
	done    chan struct{}
	logger  *zap.Logger
	dropped atomic.Int64
	lastLog atomic.Int64
	closed  atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts the background batching goroutine.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = 64
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = 500 * time.Millisecond
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:    cfg,
		sinks:  append([]Sink(nil), sinks...),
		events: make(chan Event, cfg.BufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger,
	}
	go h.run()
	return h
}

// Emit enqueues evt. When the buffer is full the event is dropped and a
// rate-limited warning is logged.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
	default:
		h.dropped.Add(1)
		now := time.Now().UnixNano()
		last := h.lastLog.Load()
		if now-last >= dropLogInterval.Nanoseconds() && h.lastLog.CompareAndSwap(last, now) {
			h.logger.Warn("progress events dropped", zap.Int64("dropped", h.dropped.Swap(0)))
		}
	}
}

// Close flushes pending events, closes the sinks, and waits for the
// background goroutine. Later calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
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
		return fmt.Errorf("progress hub close: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.done)
	batch := make([]Event, 0, h.cfg.MaxBatchEvents)
	// deadline is nil while the batch is empty.
	var deadline <-chan time.Time
	for {
		select {
		case evt := <-h.events:
			batch = append(batch, evt)
			if len(batch) >= h.cfg.MaxBatchEvents {
				h.flush(batch)
				batch, deadline = batch[:0], nil
			} else if deadline == nil {
				deadline = time.After(h.cfg.MaxBatchWait)
			}
		case <-deadline:
			h.flush(batch)
			batch, deadline = batch[:0], nil
		case <-h.stop:
			for {
				select {
				case evt := <-h.events:
					batch = append(batch, evt)
					continue
				default:
				}
				break
			}
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
	out := append([]Event(nil), batch...)
	for _, sink := range h.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, out); err != nil {
			h.logger.Warn("progress sink consume failed", zap.Error(err))
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
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}
