// Package batch runs many WorkSpecs together and collects their results,
// either in parallel over a fixed worker pool or sequentially with
// optional stop-on-first-failure semantics.
package batch

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/ryansmccoy/spine-core-sub000/internal/domain"
)

// Submitter is the narrow interface batch needs from a dispatcher.
type Submitter interface {
	Submit(ctx context.Context, spec domain.WorkSpec) (*domain.RunRecord, error)
}

// Result is one spec's outcome within a batch.
type Result struct {
	Spec domain.WorkSpec
	Run  *domain.RunRecord
	Err  error
}

// BatchResult aggregates a whole batch's outcomes.
type BatchResult struct {
	Results []Result
}

// Succeeded returns the subset of results whose run completed.
func (r BatchResult) Succeeded() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Err == nil && res.Run != nil && res.Run.Status == domain.StatusCompleted {
			out = append(out, res)
		}
	}
	return out
}

// Failed returns the subset of results that errored or did not complete.
func (r BatchResult) Failed() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Err != nil || res.Run == nil || res.Run.Status != domain.StatusCompleted {
			out = append(out, res)
		}
	}
	return out
}

// Sync is a fluent builder over a fixed-concurrency parallel submit.
type Sync struct {
	submitter   Submitter
	concurrency int
	specs       []domain.WorkSpec
	onProgress  func(completed, total int)
}

func NewSync(submitter Submitter, concurrency int) *Sync {
	return &Sync{submitter: submitter, concurrency: concurrency}
}

func (s *Sync) Add(spec domain.WorkSpec) *Sync {
	s.specs = append(s.specs, spec)
	return s
}

func (s *Sync) OnProgress(fn func(completed, total int)) *Sync {
	s.onProgress = fn
	return s
}

// RunAll submits every added spec, bounded by concurrency, and returns
// once every Submit call has returned. Runs handed to an asynchronous
// executor may still be non-terminal at that point.
func (s *Sync) RunAll(ctx context.Context) BatchResult {
	results := make([]Result, len(s.specs))
	completed := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i, spec := range s.specs {
		i, spec := i, spec
		g.Go(func() error {
			run, err := s.submitter.Submit(gctx, spec)
			results[i] = Result{Spec: spec, Run: run, Err: err}
			if s.onProgress != nil {
				completed++
				s.onProgress(completed, len(s.specs))
			}
			return nil // individual failures are reported per-result, not aborted
		})
	}
	_ = g.Wait()

	return BatchResult{Results: results}
}

// RunSequential submits specs one at a time in order, optionally
// stopping at the first failure rather than running the whole batch.
func RunSequential(ctx context.Context, submitter Submitter, specs []domain.WorkSpec, stopOnFailure bool) BatchResult {
	var results []Result
	for _, spec := range specs {
		run, err := submitter.Submit(ctx, spec)
		results = append(results, Result{Spec: spec, Run: run, Err: err})
		failed := err != nil || run == nil || run.Status != domain.StatusCompleted
		if failed && stopOnFailure {
			break
		}
	}
	return BatchResult{Results: results}
}
