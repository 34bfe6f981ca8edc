package config

import (
	"context"
	"sync"
)

// BatchOptions controls EvaluateAll.
type BatchOptions struct {
	// MaxParallel is the maximum number of concurrent evaluations.
	// Zero means DefaultMaxParallel.
	MaxParallel int

	// FailFast skips the remaining evaluations after the first failure.
	FailFast bool
}

// DefaultMaxParallel bounds concurrent evaluations in EvaluateAll.
const DefaultMaxParallel = 4

// BatchResult is the outcome of one evaluation in a batch. Exactly one of
// Result and Err is set, unless the evaluation was skipped.
type BatchResult struct {
	Options EvaluateOptions
	Result  *Result
	Err     error
	Skipped bool
}

// EvaluateAll evaluates every entry of batch using a pool of workers. The
// returned slice is in batch order.
func (e *Evaluator) EvaluateAll(ctx context.Context, batch []EvaluateOptions, opts BatchOptions) []BatchResult {
	results := make([]BatchResult, len(batch))
	if len(batch) == 0 {
		return results
	}

	// Determine worker count (min of MaxParallel and number of entries)
	workerCount := opts.MaxParallel
	if workerCount <= 0 {
		workerCount = DefaultMaxParallel
	}
	if len(batch) < workerCount {
		workerCount = len(batch)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workQueue := make(chan int, len(batch))
	for i := range batch {
		workQueue <- i
	}
	close(workQueue)

	var wg sync.WaitGroup
	for w := 0; w < workerCount; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for i := range workQueue {
				results[i].Options = batch[i]

				select {
				case <-ctx.Done():
					results[i].Skipped = true
					continue
				default:
				}

				res, err := e.Evaluate(ctx, batch[i])
				results[i].Result = res
				results[i].Err = err
				if err != nil && opts.FailFast {
					cancel()
				}
			}
		}()
	}

	wg.Wait()

	e.logger.Debug().
		Int("evaluations", len(batch)).
		Int("workers", workerCount).
		Msg("Batch evaluation completed")

	return results
}
