// Package trackedexec provides a scoped helper for callers that want a
// unit of work tracked as a run, guarded by a concurrency lock, and
// captured to the dead-letter queue on failure, without going through
// the full submit/poll dispatcher flow (e.g. an in-process cron job
// that wants ledger visibility and exclusivity but already knows it is
// the only caller).
package trackedexec

import (
	"context"
	"fmt"
	"time"

	"github.com/ryansmccoy/spine-core-sub000/internal/concurrency"
	"github.com/ryansmccoy/spine-core-sub000/internal/dlq"
	"github.com/ryansmccoy/spine-core-sub000/internal/domain"
	"github.com/ryansmccoy/spine-core-sub000/internal/ledger"
)

type Context struct {
	ledger *ledger.Ledger
	guard  *concurrency.Guard
	dlq    *dlq.Manager
	owner  string
}

func New(l *ledger.Ledger, guard *concurrency.Guard, d *dlq.Manager, owner string) *Context {
	return &Context{ledger: l, guard: guard, dlq: d, owner: owner}
}

// Handle is yielded to the caller's function for the duration of the
// tracked block.
type Handle struct {
	ctx    context.Context
	tc     *Context
	runID  string
	result map[string]any
}

// SetResult is called once the caller has a result to persist; it does
// not by itself complete the run — that happens when Run's callback
// returns without error.
func (h *Handle) SetResult(result map[string]any) {
	h.result = result
}

func (h *Handle) LogProgress(ctx context.Context, message string) error {
	return h.tc.ledger.RecordEvent(ctx, h.runID, domain.EventProgress, message, nil)
}

// Run creates a tracked PENDING run for spec, acquires lockKey (if the
// lock is held elsewhere the run is cancelled and domain.ErrExecutionLocked
// returned), claims the run into RUNNING, invokes fn, and resolves the run
// to COMPLETED or FAILED (capturing to the DLQ on failure) before
// releasing the lock. The release runs via defer, so it also happens if fn
// panics; in that case the run is left RUNNING.
func (tc *Context) Run(ctx context.Context, lockKey string, spec domain.WorkSpec, ttl time.Duration, fn func(ctx context.Context, h *Handle) error) error {
	run, created, err := tc.ledger.CreateRun(ctx, spec)
	if err != nil {
		return fmt.Errorf("create tracked run: %w", err)
	}
	if !created {
		// Idempotent resubmit under the same key: nothing new to run.
		return nil
	}

	if err := tc.guard.Acquire(ctx, lockKey, tc.owner, ttl); err != nil {
		if _, ferr := tc.ledger.TransitionStatus(ctx, run.ID, domain.StatusPending, domain.StatusCancelled, nil); ferr != nil {
			_ = ferr
		}
		return fmt.Errorf("%w: %s", domain.ErrExecutionLocked, lockKey)
	}
	defer func() {
		if relErr := tc.guard.Release(ctx, lockKey, tc.owner); relErr != nil {
			_ = relErr // best-effort; the lock will expire on its own via TTL
		}
	}()

	if ok, err := tc.ledger.Claim(ctx, run.ID, tc.owner, domain.StatusPending); err != nil || !ok {
		return fmt.Errorf("claim tracked run: %w", err)
	}

	h := &Handle{ctx: ctx, tc: tc, runID: run.ID}
	runErr := fn(ctx, h)

	if runErr != nil {
		if _, err := tc.ledger.MarkFailed(ctx, run.ID, runErr.Error()); err != nil {
			return fmt.Errorf("mark tracked run failed: %w", err)
		}
		if _, err := tc.dlq.Add(ctx, run, spec.ID, spec.Payload, runErr.Error()); err != nil {
			return fmt.Errorf("capture to dlq: %w", err)
		}
		return runErr
	}

	if _, err := tc.ledger.MarkCompleted(ctx, run.ID, h.result); err != nil {
		return fmt.Errorf("mark tracked run completed: %w", err)
	}
	return nil
}
