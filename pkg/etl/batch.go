package etl

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// BatchResult aggregates outcomes across every batch processed.
type BatchResult struct {
	TotalProcessed  int
	TotalSuccess    int
	TotalFailed     int
	BatchesProcessed int
}

// BatchProcessFunc handles one batch; an error marks every record in
// that batch as failed (no per-item rollback, §4.7).
type BatchProcessFunc func(ctx context.Context, batch []Record) error

// BatchProcessor groups a record source into fixed-size batches and
// runs them concurrently through a bounded worker pool. Grounded on
// erip-platform's etl.py BatchProcessor (ThreadPoolExecutor-backed),
// reworked onto golang.org/x/sync/errgroup's concurrency-limited group.
type BatchProcessor struct {
	batchSize int
	workers   int
}

func NewBatchProcessor(batchSize, workers int) *BatchProcessor {
	if batchSize <= 0 {
		batchSize = 1000
	}
	if workers <= 0 {
		workers = 4
	}
	return &BatchProcessor{batchSize: batchSize, workers: workers}
}

// Process drains source into batches of batchSize and runs process
// over each, up to b.workers concurrently. It returns no error: a
// failing batch counts its records as failed and the remaining batches
// still run.
func (b *BatchProcessor) Process(ctx context.Context, source <-chan Record, process BatchProcessFunc) BatchResult {
	var processed, success, failed, batches int64

	g, gctx := errgroup.WithContext(context.Background())
	g.SetLimit(b.workers)

	batch := make([]Record, 0, b.batchSize)
	dispatch := func(items []Record) {
		g.Go(func() error {
			err := process(gctx, items)
			atomic.AddInt64(&processed, int64(len(items)))
			atomic.AddInt64(&batches, 1)
			if err != nil {
				atomic.AddInt64(&failed, int64(len(items)))
			} else {
				atomic.AddInt64(&success, int64(len(items)))
			}
			return nil
		})
	}

drain:
	for {
		select {
		case <-ctx.Done():
			break drain
		case item, ok := <-source:
			if !ok {
				break drain
			}
			batch = append(batch, item)
			if len(batch) >= b.batchSize {
				dispatch(batch)
				batch = make([]Record, 0, b.batchSize)
			}
		}
	}
	if len(batch) > 0 {
		dispatch(batch)
	}
	_ = g.Wait()

	return BatchResult{
		TotalProcessed:   int(processed),
		TotalSuccess:     int(success),
		TotalFailed:      int(failed),
		BatchesProcessed: int(batches),
	}
}
