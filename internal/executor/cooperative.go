package executor

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/ryansmccoy/spine-core-sub000/internal/domain"
	"github.com/ryansmccoy/spine-core-sub000/internal/registry"
)

// Cooperative bounds concurrency with a weighted semaphore instead of a
// buffered channel, so Submit can honor ctx cancellation while waiting
// for a slot rather than blocking indefinitely — the "single-threaded,
// semaphore-bounded" model for environments with no real OS threads to
// spare (small containers, constrained workers).
type Cooperative struct {
	sem      *semaphore.Weighted
	onResult func(domain.WorkSpec, *Result)
}

func NewCooperative(maxConcurrent int64, onResult func(domain.WorkSpec, *Result)) *Cooperative {
	return &Cooperative{sem: semaphore.NewWeighted(maxConcurrent), onResult: onResult}
}

func (c *Cooperative) Submit(ctx context.Context, spec domain.WorkSpec, reg *registry.Registry) (*Result, bool, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, false, err
	}
	go func() {
		defer c.sem.Release(1)
		res := run(ctx, spec, reg)
		if c.onResult != nil {
			c.onResult(spec, res)
		}
	}()
	return nil, false, nil
}
