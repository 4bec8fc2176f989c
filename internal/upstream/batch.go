package upstream

import (
	"context"
	"fmt"
	"time"
)

// BatchFn fetches one chunk of IDs.
type BatchFn[T any] func(ctx context.Context, ids []int) ([]T, error)

// RunBatched splits ids into chunks of at most maxBatchSize, invokes batchFn
// for each chunk strictly in order, and merges the results preserving input
// order. When more than one batch is needed, perBatchDelay is inserted
// between consecutive chunks as courtesy pacing beyond the hard rate limit.
// A failure in any batch aborts the whole operation; the error names the
// failed batch for diagnostics.
func RunBatched[T any](ctx context.Context, ids []int, maxBatchSize int, perBatchDelay time.Duration, batchFn BatchFn[T]) ([]T, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if maxBatchSize <= 0 {
		maxBatchSize = 200
	}

	batches := partition(ids, maxBatchSize)
	merged := make([]T, 0, len(ids))

	for i, batch := range batches {
		if i > 0 && perBatchDelay > 0 {
			timer := time.NewTimer(perBatchDelay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, fmt.Errorf("batch %d/%d cancelled: %w", i+1, len(batches), ctx.Err())
			}
		}

		results, err := batchFn(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("batch %d/%d (ids %d..%d) failed: %w",
				i+1, len(batches), batch[0], batch[len(batch)-1], err)
		}
		merged = append(merged, results...)
	}

	return merged, nil
}

// partition splits ids into ceil(n/size) ordered chunks; the last chunk may
// be smaller. Concatenating the chunks reproduces the input sequence.
func partition(ids []int, size int) [][]int {
	batches := make([][]int, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		batches = append(batches, ids[start:end])
	}
	return batches
}
