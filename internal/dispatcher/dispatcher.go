// Package dispatcher is the single public submission API: every WorkSpec
// a caller wants run — a one-off task, a pipeline, a workflow, or one
// step of either — enters the system through here.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ryansmccoy/spine-core-sub000/internal/domain"
	"github.com/ryansmccoy/spine-core-sub000/internal/executor"
	"github.com/ryansmccoy/spine-core-sub000/internal/ledger"
	"github.com/ryansmccoy/spine-core-sub000/internal/registry"
)

type Dispatcher struct {
	ledger   *ledger.Ledger
	executor executor.Executor
	registry *registry.Registry
	logger   *slog.Logger
}

func New(l *ledger.Ledger, ex executor.Executor, reg *registry.Registry, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{ledger: l, executor: ex, registry: reg, logger: logger.With("component", "dispatcher")}
}

// Submit is the core entry point: idempotency check, create PENDING run,
// hand off to the executor, and — for synchronous executors — drive the
// run to its terminal state before returning.
func (d *Dispatcher) Submit(ctx context.Context, spec domain.WorkSpec) (*domain.RunRecord, error) {
	run, created, err := d.ledger.CreateRun(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	if !created {
		d.logger.Info("idempotent resubmit, returning existing run", "run_id", run.ID, "idempotency_key", spec.IdempotencyKey)
		return run, nil
	}

	ok, err := d.ledger.TransitionStatus(ctx, run.ID, domain.StatusPending, domain.StatusQueued, nil)
	if err != nil {
		return nil, fmt.Errorf("transition to queued: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("run %s was not in pending state", run.ID)
	}
	run.Status = domain.StatusQueued
	_ = d.ledger.RecordEvent(ctx, run.ID, domain.EventQueued, "", nil)

	spec.ID = run.WorkSpecID
	res, synchronous, err := d.executor.Submit(ctx, spec, d.registry)
	if err != nil {
		if _, ferr := d.ledger.Fail(ctx, run.ID, domain.StatusQueued, err.Error()); ferr != nil {
			d.logger.Warn("failed to mark run failed after submit error", "run_id", run.ID, "error", ferr)
		}
		_ = d.ledger.RecordEvent(ctx, run.ID, domain.EventFailed, err.Error(), nil)
		return run, fmt.Errorf("executor submit: %w", err)
	}
	if !synchronous {
		// Outcome will arrive later via MarkStarted/MarkCompleted/MarkFailed
		// called by a remote worker or poller.
		return run, nil
	}

	d.applySyncResult(ctx, run, res)
	if fresh, err := d.ledger.GetRun(ctx, run.ID); err == nil {
		run = fresh
	}
	return run, nil
}

// HandleAsyncResult is the callback wired into asynchronous executors
// (ThreadPool, Cooperative) — it correlates the finished spec
// back to its run and drives the same completion path Submit uses
// inline for synchronous executors.
func (d *Dispatcher) HandleAsyncResult(ctx context.Context, spec domain.WorkSpec, res *executor.Result) {
	run, err := d.ledger.GetRunByWorkSpecID(ctx, spec.ID)
	if err != nil {
		d.logger.Error("async result for unknown work spec", "work_spec_id", spec.ID, "error", err)
		return
	}
	d.applySyncResult(ctx, run, res)
}

func (d *Dispatcher) applySyncResult(ctx context.Context, run *domain.RunRecord, res *executor.Result) {
	d.markStarted(ctx, run.ID, "dispatcher")
	if res.Err != nil {
		d.failRun(ctx, run.ID, res.Err.Error())
		return
	}
	d.completeRun(ctx, run.ID, res.Output)
}

// submit_task/pipeline/workflow/step are thin convenience wrappers over
// Submit that pin the Kind field; SubmitStep also sets the parent run.
func (d *Dispatcher) SubmitTask(ctx context.Context, name string, payload map[string]any, opts ...Option) (*domain.RunRecord, error) {
	return d.submitKind(ctx, domain.KindTask, name, payload, opts...)
}

func (d *Dispatcher) SubmitPipeline(ctx context.Context, name string, payload map[string]any, opts ...Option) (*domain.RunRecord, error) {
	return d.submitKind(ctx, domain.KindPipeline, name, payload, opts...)
}

func (d *Dispatcher) SubmitWorkflow(ctx context.Context, name string, payload map[string]any, opts ...Option) (*domain.RunRecord, error) {
	return d.submitKind(ctx, domain.KindWorkflow, name, payload, opts...)
}

func (d *Dispatcher) SubmitStep(ctx context.Context, name string, parentRunID string, payload map[string]any, opts ...Option) (*domain.RunRecord, error) {
	opts = append(opts, WithParent(parentRunID))
	return d.submitKind(ctx, domain.KindStep, name, payload, opts...)
}

func (d *Dispatcher) submitKind(ctx context.Context, kind domain.Kind, name string, payload map[string]any, opts ...Option) (*domain.RunRecord, error) {
	spec := domain.WorkSpec{
		Kind:          kind,
		Name:          name,
		Payload:       payload,
		TriggerSource: domain.TriggerManual,
		Priority:      domain.PriorityNormal,
	}
	for _, opt := range opts {
		opt(&spec)
	}
	return d.Submit(ctx, spec)
}

// Option customizes a WorkSpec before submission.
type Option func(*domain.WorkSpec)

func WithIdempotencyKey(key string) Option {
	return func(s *domain.WorkSpec) { s.IdempotencyKey = key }
}

func WithMaxRetries(n int) Option {
	return func(s *domain.WorkSpec) { s.MaxRetries = n }
}

func WithTimeout(seconds int) Option {
	return func(s *domain.WorkSpec) { s.TimeoutSeconds = seconds }
}

func WithPriority(p domain.Priority) Option {
	return func(s *domain.WorkSpec) { s.Priority = p }
}

func WithParent(runID string) Option {
	return func(s *domain.WorkSpec) {
		id := runID
		s.ParentRunID = &id
		s.TriggerSource = domain.TriggerParent
	}
}

// GetRun, ListRuns-by-parent (GetChildren) and GetEvents are read paths
// exposed directly from the ledger.
func (d *Dispatcher) GetRun(ctx context.Context, id string) (*domain.RunRecord, error) {
	return d.ledger.GetRun(ctx, id)
}

func (d *Dispatcher) GetEvents(ctx context.Context, runID string) ([]*domain.RunEvent, error) {
	return d.ledger.GetEvents(ctx, runID)
}

func (d *Dispatcher) GetChildren(ctx context.Context, parentRunID string) ([]*domain.RunRecord, error) {
	return d.ledger.GetChildren(ctx, parentRunID)
}

// GetWorkflowTree recursively assembles a run and all its descendants —
// the shape a caller wants when rendering a pipeline/workflow's full
// execution tree rather than a single run.
type RunNode struct {
	Run      *domain.RunRecord
	Children []*RunNode
}

func (d *Dispatcher) GetWorkflowTree(ctx context.Context, rootRunID string) (*RunNode, error) {
	run, err := d.ledger.GetRun(ctx, rootRunID)
	if err != nil {
		return nil, err
	}
	return d.buildTree(ctx, run)
}

func (d *Dispatcher) buildTree(ctx context.Context, run *domain.RunRecord) (*RunNode, error) {
	node := &RunNode{Run: run}
	children, err := d.ledger.GetChildren(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		childNode, err := d.buildTree(ctx, child)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, childNode)
	}
	return node, nil
}

// Cancel moves a run to CANCELLED from any non-terminal state.
func (d *Dispatcher) Cancel(ctx context.Context, runID string) error {
	run, err := d.ledger.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return fmt.Errorf("run %s is already terminal (%s)", runID, run.Status)
	}
	ok, err := d.ledger.TransitionStatus(ctx, runID, run.Status, domain.StatusCancelled, nil)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("run %s changed state concurrently, retry cancel", runID)
	}
	return d.ledger.RecordEvent(ctx, runID, domain.EventCancelled, "", nil)
}

// Retry resubmits a failed/timed-out/cancelled run as a new WorkSpec
// linked by TriggerRetry, carrying forward its original kind/name.
func (d *Dispatcher) Retry(ctx context.Context, runID string) (*domain.RunRecord, error) {
	run, err := d.ledger.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	switch run.Status {
	case domain.StatusFailed, domain.StatusTimedOut, domain.StatusCancelled:
	default:
		return nil, fmt.Errorf("run %s is %s; only failed, timed-out or cancelled runs can be retried", runID, run.Status)
	}
	if !run.CanRetry() {
		return nil, fmt.Errorf("run %s has exhausted its retry budget", runID)
	}
	spec := domain.WorkSpec{
		Kind:          run.Kind,
		Name:          run.Name,
		TriggerSource: domain.TriggerRetry,
		Priority:      run.Priority,
		MaxRetries:    run.MaxRetries,
	}
	return d.Submit(ctx, spec)
}

func (d *Dispatcher) markStarted(ctx context.Context, runID, owner string) {
	now := time.Now()
	if _, err := d.ledger.Claim(ctx, runID, owner, domain.StatusQueued); err != nil {
		d.logger.Warn("transition to running failed", "run_id", runID, "error", err)
	}
	_ = d.ledger.RecordEvent(ctx, runID, domain.EventStarted, "", map[string]any{"started_at": now})
}

func (d *Dispatcher) completeRun(ctx context.Context, runID string, output map[string]any) {
	if _, err := d.ledger.MarkCompleted(ctx, runID, output); err != nil {
		d.logger.Warn("transition to completed failed", "run_id", runID, "error", err)
	}
	_ = d.ledger.RecordEvent(ctx, runID, domain.EventCompleted, "", nil)
}

func (d *Dispatcher) failRun(ctx context.Context, runID, message string) {
	if _, err := d.ledger.MarkFailed(ctx, runID, message); err != nil {
		d.logger.Warn("transition to failed failed", "run_id", runID, "error", err)
	}
	_ = d.ledger.RecordEvent(ctx, runID, domain.EventFailed, message, nil)
}

// RecordProgress appends a progress note without changing status —
// used by long-running handlers to report intermediate state.
func (d *Dispatcher) RecordProgress(ctx context.Context, runID, message string) error {
	return d.ledger.RecordEvent(ctx, runID, domain.EventProgress, message, nil)
}
