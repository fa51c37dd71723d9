package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// TestHubBatchBySize verifies the hub flushes once the batch size limit is reached.
func TestHubBatchBySize(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     8,
		MaxBatchEvents: 2,
		MaxBatchWait:   time.Minute,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StageTransition))
	hub.Emit(sampleEvent(StageHeartbeat))
	require.Eventually(t, func() bool {
		b := sink.Batches()
		return len(b) == 1 && len(b[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

// TestHubBatchByTimer verifies a small batch is flushed after MaxBatchWait.
func TestHubBatchByTimer(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 10,
		MaxBatchWait:   25 * time.Millisecond,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StageTransition))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHubEmitNonBlockingWhenFull(t *testing.T) {
	t.Parallel()

	hub := &Hub{
		cfg:    Config{},
		events: make(chan Event),
		logger: zap.NewNop(),
	}
	start := time.Now()
	hub.Emit(sampleEvent(StageTransition))
	hub.Emit(sampleEvent(StageTransition))
	require.Less(t, time.Since(start), 50*time.Millisecond)
	// The first drop is logged and resets the counter; the second is held back.
	require.Equal(t, int64(1), hub.dropped.Load())
}

func TestHubDropsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{MaxBatchWait: time.Minute}, sink)

	hub.Emit(Event{Stage: StageHeartbeat, TS: time.Now()})
	hub.Emit(Event{CrawlID: "c1", Stage: StageTransition, TS: time.Now()})
	hub.Emit(Event{CrawlID: "c1", Stage: "BOGUS", TS: time.Now()})

	require.NoError(t, hub.Close(context.Background()))
	require.Empty(t, sink.Batches())
	require.True(t, sink.Closed())
}

// TestHubFlushOnClose ensures Close drains buffered events before returning.
func TestHubFlushOnClose(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 100,
		MaxBatchWait:   time.Minute,
	}, sink)

	hub.Emit(sampleEvent(StageTransition))

	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.Len(t, sink.Batches()[0], 1)

	// Emit after close is ignored.
	hub.Emit(sampleEvent(StageTransition))
	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
}

func TestNilHubIsSafe(t *testing.T) {
	t.Parallel()

	var hub *Hub
	hub.Emit(sampleEvent(StageHeartbeat))
	require.NoError(t, hub.Close(context.Background()))
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  bool
}

func newStubSink() *stubSink {
	return &stubSink{}
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return nil
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]Event(nil), s.batches...)
}

func (s *stubSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func sampleEvent(stage Stage) Event {
	evt := Event{
		CrawlID: "crawl-1",
		TS:      time.Now(),
		Stage:   stage,
	}
	if stage == StageTransition {
		evt.From, evt.To = "STARTING", "CRAWLING"
	}
	return evt
}
