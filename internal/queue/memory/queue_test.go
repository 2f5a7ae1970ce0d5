package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type task struct {
	Index int
	Name  string
}

func TestQueueFIFO(t *testing.T) {
	t.Parallel()

	q := NewQueue[task](3)
	ctx := context.Background()
	for i, name := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(ctx, task{Index: i, Name: name}))
	}
	assert.Equal(t, 3, q.Len())
	for i := range 3 {
		got, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, got.Index)
	}
}

func TestQueueDequeueWaitsForProducer(t *testing.T) {
	t.Parallel()

	q := NewQueue[task](1)
	result := make(chan task, 1)
	go func() {
		item, err := q.Dequeue(context.Background())
		if err == nil {
			result <- item
		}
	}()

	require.NoError(t, q.Enqueue(context.Background(), task{Name: "late"}))
	select {
	case got := <-result:
		assert.Equal(t, "late", got.Name)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return item")
	}
}

func TestQueueCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	q := NewQueue[task](1)
	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.NoError(t, q.Enqueue(context.Background(), task{Name: "primed"}))
	err = q.Enqueue(ctx, task{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestQueueCloseDrainsThenReportsClosed(t *testing.T) {
	t.Parallel()

	q := NewQueue[task](2)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, task{Name: "pending"}))
	q.Close()
	q.Close()

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "pending", got.Name)

	_, err = q.Dequeue(ctx)
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, q.Enqueue(ctx, task{}), ErrClosed)
}
