package executor

import (
	"context"
	"sync"

	"github.com/ryansmccoy/spine-core-sub000/internal/domain"
	"github.com/ryansmccoy/spine-core-sub000/internal/registry"
)

// ThreadPool runs each submission on its own goroutine, fire-and-forget,
// mirroring the teacher worker's "one goroutine per claimed job plus a
// WaitGroup" shape. onResult is invoked from the spawned goroutine once
// the handler returns, so the caller learns the outcome asynchronously.
type ThreadPool struct {
	sem      chan struct{}
	wg       sync.WaitGroup
	onResult func(spec domain.WorkSpec, res *Result)
}

func NewThreadPool(concurrency int, onResult func(domain.WorkSpec, *Result)) *ThreadPool {
	return &ThreadPool{sem: make(chan struct{}, concurrency), onResult: onResult}
}

func (t *ThreadPool) Submit(ctx context.Context, spec domain.WorkSpec, reg *registry.Registry) (*Result, bool, error) {
	t.sem <- struct{}{}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer func() { <-t.sem }()
		res := run(ctx, spec, reg)
		if t.onResult != nil {
			t.onResult(spec, res)
		}
	}()
	return nil, false, nil
}

// Wait blocks until every submitted job has finished — used by tests and
// graceful shutdown.
func (t *ThreadPool) Wait() { t.wg.Wait() }
