package batch

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/ryansmccoy/spine-core-sub000/internal/domain"
)

// Cooperative bounds a batch's concurrency with a weighted semaphore
// instead of errgroup's goroutine-per-task limiter, for callers already
// structured around semaphore-style cooperative scheduling (the same
// rationale as executor.Cooperative).
type Cooperative struct {
	submitter Submitter
	sem       *semaphore.Weighted
}

func NewCooperative(submitter Submitter, maxConcurrent int64) *Cooperative {
	return &Cooperative{submitter: submitter, sem: semaphore.NewWeighted(maxConcurrent)}
}

func (c *Cooperative) RunAll(ctx context.Context, specs []domain.WorkSpec) (BatchResult, error) {
	results := make([]Result, len(specs))
	var wg sync.WaitGroup

	for i, spec := range specs {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return BatchResult{Results: results}, err
		}
		wg.Add(1)
		go func(i int, spec domain.WorkSpec) {
			defer wg.Done()
			defer c.sem.Release(1)
			run, err := c.submitter.Submit(ctx, spec)
			results[i] = Result{Spec: spec, Run: run, Err: err}
		}(i, spec)
	}
	wg.Wait()
	return BatchResult{Results: results}, nil
}
