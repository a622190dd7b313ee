// Package executor implements the Executor protocol over six concurrency
// models (memory, thread pool, cooperative, process pool, broker, stub).
// Every implementation honors the same contract so the dispatcher and
// worker loop never need to know which one is in play.
package executor

import (
	"context"
	"time"

	"github.com/ryansmccoy/spine-core-sub000/internal/domain"
	"github.com/ryansmccoy/spine-core-sub000/internal/registry"
)

// Result is the outcome of running one WorkSpec to completion.
type Result struct {
	Output   map[string]any
	Err      error
	Duration time.Duration
}

// Executor submits a WorkSpec for execution. Synchronous executors
// (Memory) return the Result directly from Submit; asynchronous ones
// (ThreadPool, Broker) return immediately and the caller polls or awaits
// notification separately — Submit's bool return reports whether the
// call was synchronous, so callers know whether to also poll.
type Executor interface {
	// Submit runs spec via reg's resolved handler. For synchronous
	// executors res is populated and sync is true; for asynchronous ones
	// sync is false and res is nil — the caller learns the outcome later
	// through the ledger.
	Submit(ctx context.Context, spec domain.WorkSpec, reg *registry.Registry) (res *Result, sync bool, err error)
}

// handlerRef builds the "kind:name" lookup convention from a WorkSpec.
func handlerRef(spec domain.WorkSpec) string {
	return string(spec.Kind) + ":" + spec.Name
}

func run(ctx context.Context, spec domain.WorkSpec, reg *registry.Registry) *Result {
	start := time.Now()
	h, err := reg.Get(spec.Kind, spec.Name)
	if err != nil {
		return &Result{Err: err, Duration: time.Since(start)}
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if spec.TimeoutSeconds > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(spec.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	out, err := h(runCtx, spec.Payload)
	return &Result{Output: out, Err: err, Duration: time.Since(start)}
}
