package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHubFlushesWhenBatchFills(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{BufferSize: 8, MaxBatchEvents: 2, MaxBatchWait: time.Minute}, sink)
	t.Cleanup(func() { require.NoError(t, hub.Close(context.Background())) })

	hub.Emit(sampleEvent(StageRequestStart))
	hub.Emit(sampleEvent(StageProbeDone))
	require.Eventually(t, func() bool {
		batches := sink.Batches()
		return len(batches) == 1 && len(batches[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestHubFlushesOnTick(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 10, MaxBatchWait: 20 * time.Millisecond}, sink)
	t.Cleanup(func() { require.NoError(t, hub.Close(context.Background())) })

	hub.Emit(sampleEvent(StageRequestStart))
	require.Eventually(t, func() bool { return len(sink.Batches()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestHubEmitDoesNotBlock(t *testing.T) {
	t.Parallel()

	hub := &Hub{events: make(chan Event), logger: zap.NewNop()}
	hub.lastLog.Store(time.Now().UnixNano())
	start := time.Now()
	hub.Emit(sampleEvent(StageRequestStart))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	assert.EqualValues(t, 1, hub.Dropped())
}

func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{MaxBatchWait: time.Minute}, sink)
	hub.Emit(Event{Stage: StageRequestStart})
	hub.Emit(Event{RequestID: sampleEvent(StageRequestStart).RequestID, TS: time.Now(), Stage: StageFetchDone})
	require.NoError(t, hub.Close(context.Background()))
	assert.Empty(t, sink.Batches())
}

func TestHubCloseDrainsBuffer(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 100, MaxBatchWait: time.Minute}, sink)
	hub.Emit(sampleEvent(StageRequestStart))

	require.NoError(t, hub.Close(context.Background()))
	require.NoError(t, hub.Close(context.Background()))
	batches := sink.Batches()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 1)
	assert.True(t, sink.closed)

	hub.Emit(sampleEvent(StageRequestStart))
	assert.Len(t, sink.Batches(), 1)
}

func TestNilHubIsSafe(t *testing.T) {
	t.Parallel()

	var hub *Hub
	hub.Emit(sampleEvent(StageRequestStart))
	assert.NoError(t, hub.Close(context.Background()))
	assert.Zero(t, hub.Dropped())
}

func TestClassifyStatus(t *testing.T) {
	t.Parallel()

	cases := map[int]StatusClass{200: Status2xx, 204: Status2xx, 302: Status3xx, 404: Status4xx, 503: Status5xx, 0: StatusOther}
	for code, want := range cases {
		assert.Equal(t, want, ClassifyStatus(code), "code %d", code)
	}
}

func TestParseRequestID(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	assert.Equal(t, UUIDToBytes(id), ParseRequestID(id.String()))
	assert.Equal(t, [16]byte{}, ParseRequestID("nope"))
	assert.Equal(t, id, Event{RequestID: UUIDToBytes(id)}.RequestUUID())
}

type recordingSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  bool
}

func (s *recordingSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return nil
}

func (s *recordingSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]Event(nil), s.batches...)
}

func sampleEvent(stage Stage) Event {
	evt := Event{
		RequestID: UUIDToBytes(uuid.New()),
		TS:        time.Now(),
		Stage:     stage,
		Node:      "vald.example.org",
	}
	if stage == StageFetchDone {
		evt.StatusClass = Status2xx
	}
	return evt
}
