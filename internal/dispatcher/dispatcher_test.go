package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/vamdc-lines/internal/vamdc"
)

type handlerFunc func(ctx context.Context, d vamdc.QueryDescriptor, mode vamdc.OutputMode) vamdc.SubQueryResult

type countingHandler struct {
	mu       sync.Mutex
	calls    map[string]int
	inflight atomic.Int32
	peak     atomic.Int32
	fn       handlerFunc
}

func newCountingHandler(fn handlerFunc) *countingHandler {
	return &countingHandler{calls: map[string]int{}, fn: fn}
}

func (h *countingHandler) Handle(ctx context.Context, d vamdc.QueryDescriptor, mode vamdc.OutputMode) vamdc.SubQueryResult {
	cur := h.inflight.Add(1)
	defer h.inflight.Add(-1)
	for {
		peak := h.peak.Load()
		if cur <= peak || h.peak.CompareAndSwap(peak, cur) {
			break
		}
	}
	h.mu.Lock()
	h.calls[d.String()]++
	h.mu.Unlock()
	return h.fn(ctx, d, mode)
}

func descriptors(n int) []vamdc.QueryDescriptor {
	out := make([]vamdc.QueryDescriptor, n)
	for i := range out {
		out[i] = vamdc.QueryDescriptor{
			SpeciesID:     fmt.Sprintf("S%02d", i),
			NodeShortName: "N",
			LambdaMin:     float64(i),
			LambdaMax:     float64(i + 1),
		}
	}
	return out
}

func TestDispatchPreservesSubmissionOrder(t *testing.T) {
	t.Parallel()

	h := newCountingHandler(func(_ context.Context, d vamdc.QueryDescriptor, _ vamdc.OutputMode) vamdc.SubQueryResult {
		// Later descriptors finish first.
		time.Sleep(time.Duration(10-int(d.LambdaMin)) * time.Millisecond)
		return vamdc.SubQueryResult{Descriptor: d, Counters: vamdc.Counters{"VAMDC-COUNT-RADIATIVE": d.LambdaMin}}
	})
	descs := descriptors(10)
	results, err := New(h, 4, nil).Dispatch(context.Background(), descs, vamdc.OutputRows)
	require.NoError(t, err)
	require.Len(t, results, 10)
	for i, r := range results {
		assert.Equal(t, descs[i], r.Descriptor)
	}
}

func TestDispatchCallsEachDescriptorOnceWithinPool(t *testing.T) {
	t.Parallel()

	h := newCountingHandler(func(_ context.Context, d vamdc.QueryDescriptor, mode vamdc.OutputMode) vamdc.SubQueryResult {
		time.Sleep(2 * time.Millisecond)
		assert.True(t, mode.Has(vamdc.OutputPayload))
		return vamdc.SubQueryResult{Descriptor: d}
	})
	descs := descriptors(25)
	_, err := New(h, 3, nil).Dispatch(context.Background(), descs, vamdc.OutputRows|vamdc.OutputPayload)
	require.NoError(t, err)

	require.Len(t, h.calls, 25)
	for key, n := range h.calls {
		assert.Equal(t, 1, n, key)
	}
	assert.LessOrEqual(t, h.peak.Load(), int32(3))
}

func TestDispatchSoftFailuresDoNotAbortSiblings(t *testing.T) {
	t.Parallel()

	h := newCountingHandler(func(_ context.Context, d vamdc.QueryDescriptor, _ vamdc.OutputMode) vamdc.SubQueryResult {
		if d.LambdaMin == 1 {
			return vamdc.FailedResult(d, errors.New("connection refused"))
		}
		return vamdc.SubQueryResult{Descriptor: d, Counters: vamdc.Counters{"VAMDC-COUNT-RADIATIVE": 5}}
	})
	results, err := New(h, 2, nil).Dispatch(context.Background(), descriptors(3), vamdc.OutputRows)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.False(t, results[0].Failed())
	assert.True(t, results[1].Failed())
	assert.Empty(t, results[1].Counters)
	assert.False(t, results[2].Failed())
}

func TestDispatchAllFailed(t *testing.T) {
	t.Parallel()

	h := newCountingHandler(func(_ context.Context, d vamdc.QueryDescriptor, _ vamdc.OutputMode) vamdc.SubQueryResult {
		return vamdc.FailedResult(d, vamdc.ErrNoData)
	})
	_, err := New(h, 2, nil).Dispatch(context.Background(), descriptors(2), vamdc.OutputRows)
	require.ErrorIs(t, err, vamdc.ErrAllFailed)
	var allFailed *vamdc.AllFailedError
	require.ErrorAs(t, err, &allFailed)
	assert.Equal(t, 2, allFailed.Count)
	assert.ErrorIs(t, allFailed.First, vamdc.ErrNoData)
}

func TestDispatchNoDescriptors(t *testing.T) {
	t.Parallel()

	_, err := New(newCountingHandler(nil), 2, nil).Dispatch(context.Background(), nil, vamdc.OutputRows)
	require.ErrorIs(t, err, vamdc.ErrNoDescriptors)
}

func TestDispatchCancellationReturnsNoPartialResult(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{}, 8)
	h := newCountingHandler(func(ctx context.Context, d vamdc.QueryDescriptor, _ vamdc.OutputMode) vamdc.SubQueryResult {
		started <- struct{}{}
		<-ctx.Done()
		return vamdc.FailedResult(d, ctx.Err())
	})

	errCh := make(chan error, 1)
	go func() {
		results, err := New(h, 2, nil).Dispatch(ctx, descriptors(4), vamdc.OutputRows)
		assert.Nil(t, results)
		errCh <- err
	}()
	<-started
	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch did not return after cancel")
	}
}
