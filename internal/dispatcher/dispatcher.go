// Package dispatcher fans a fixed batch of work out to a bounded worker pool.
package dispatcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/JakeFAU/gazette-watch/internal/metrics"
	"github.com/JakeFAU/gazette-watch/internal/queue/memory"
)

// Handler processes the item at position i of the batch.
type Handler[T any] func(ctx context.Context, i int, item T)

// Dispatcher runs handlers on at most Workers goroutines.
type Dispatcher[T any] struct {
	workers int
	logger  *zap.Logger
}

type job[T any] struct {
	index int
	item  T
}

// New creates a Dispatcher. A non-positive worker count means one worker.
func New[T any](workers int, logger *zap.Logger) *Dispatcher[T] {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher[T]{workers: workers, logger: logger}
}

// Run hands every item to handle and blocks until all workers stop. Workers
// check ctx before taking the next item, so after cancellation no new item
// starts. Run returns how many items were started.
func (d *Dispatcher[T]) Run(ctx context.Context, items []T, handle Handler[T]) int {
	if len(items) == 0 {
		return 0
	}
	q := memory.NewQueue[job[T]](len(items))
	for i, item := range items {
		// Capacity equals the batch size, so this never blocks.
		if err := q.Enqueue(context.Background(), job[T]{index: i, item: item}); err != nil {
			d.logger.Error("enqueue failed", zap.Int("index", i), zap.Error(err))
		}
	}
	q.Close()

	workers := min(d.workers, len(items))
	var (
		wg      sync.WaitGroup
		started atomic.Int64
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			metrics.IncActiveWorkers()
			defer metrics.DecActiveWorkers()
			for {
				j, err := q.Dequeue(ctx)
				if err != nil {
					if !errors.Is(err, memory.ErrClosed) {
						d.logger.Debug("worker stopping", zap.Error(err))
					}
					return
				}
				started.Add(1)
				handle(ctx, j.index, j.item)
			}
		}()
	}
	wg.Wait()
	return int(started.Load())
}
