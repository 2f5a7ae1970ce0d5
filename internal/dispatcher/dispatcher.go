// Package dispatcher fans leaf descriptors out to a bounded worker pool and
// joins their results in submission order.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/vamdc-lines/internal/queue/memory"
	"github.com/JakeFAU/vamdc-lines/internal/vamdc"
)

// DefaultConcurrency is the worker-pool cap used when none is configured.
const DefaultConcurrency = 8

// Handler executes one descriptor; *worker.Worker satisfies it.
type Handler interface {
	Handle(ctx context.Context, d vamdc.QueryDescriptor, mode vamdc.OutputMode) vamdc.SubQueryResult
}

// Dispatcher runs leaf descriptors through a Handler.
type Dispatcher struct {
	handler     Handler
	concurrency int
	logger      *zap.Logger
}

// New creates a Dispatcher with at most concurrency workers in flight.
func New(handler Handler, concurrency int, logger *zap.Logger) *Dispatcher {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{handler: handler, concurrency: concurrency, logger: logger}
}

type task struct {
	index int
	desc  vamdc.QueryDescriptor
}

type completion struct {
	index  int
	result vamdc.SubQueryResult
}

// Dispatch handles every descriptor exactly once and returns the results in
// the order of descs. Individual failures are kept as soft-failed results;
// the call fails only when every descriptor failed, when descs is empty, or
// when ctx ends before all workers finish.
func (d *Dispatcher) Dispatch(ctx context.Context, descs []vamdc.QueryDescriptor, mode vamdc.OutputMode) ([]vamdc.SubQueryResult, error) {
	if len(descs) == 0 {
		return nil, vamdc.ErrNoDescriptors
	}
	poolSize := min(len(descs), d.concurrency)

	tasks := memory.NewQueue[task](len(descs))
	for i, desc := range descs {
		if err := tasks.Enqueue(ctx, task{index: i, desc: desc}); err != nil {
			return nil, fmt.Errorf("dispatch: %w", err)
		}
	}
	tasks.Close()

	done := make(chan completion, len(descs))
	var wg sync.WaitGroup
	for range poolSize {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.drain(ctx, tasks, mode, done)
		}()
	}
	go func() {
		wg.Wait()
		close(done)
	}()

	results := make([]vamdc.SubQueryResult, len(descs))
	received := 0
	for c := range done {
		results[c.index] = c.result
		received++
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("dispatch aborted: %w", err)
	}
	if received != len(descs) {
		return nil, fmt.Errorf("dispatch: %d of %d results collected", received, len(descs))
	}

	failed := 0
	var first error
	for _, r := range results {
		if r.Failed() {
			failed++
			if first == nil {
				first = r.Err
			}
		}
	}
	d.logger.Debug("dispatch complete",
		zap.Int("descriptors", len(descs)),
		zap.Int("workers", poolSize),
		zap.Int("failed", failed))
	if failed == len(results) {
		return nil, &vamdc.AllFailedError{Count: failed, First: first}
	}
	return results, nil
}

func (d *Dispatcher) drain(ctx context.Context, tasks *memory.Queue[task], mode vamdc.OutputMode, done chan<- completion) {
	for {
		t, err := tasks.Dequeue(ctx)
		if err != nil {
			if !errors.Is(err, memory.ErrClosed) && ctx.Err() == nil {
				d.logger.Error("task dequeue failed", zap.Error(err))
			}
			return
		}
		done <- completion{index: t.index, result: d.handler.Handle(ctx, t.desc, mode)}
	}
}
