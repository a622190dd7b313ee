// Package worker implements the poll-claim-dispatch loop that turns
// QUEUED runs into RUNNING ones and drives them to a terminal
// state, generalizing the teacher's HTTP-callback worker to arbitrary
// registry-resolved handlers.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ryansmccoy/spine-core-sub000/internal/dlq"
	"github.com/ryansmccoy/spine-core-sub000/internal/domain"
	"github.com/ryansmccoy/spine-core-sub000/internal/ledger"
	"github.com/ryansmccoy/spine-core-sub000/internal/registry"
	"github.com/ryansmccoy/spine-core-sub000/internal/store"
)

// Worker polls the ledger for queued runs, claims one at a time up to
// concurrency, and executes each claimed run's handler on its own
// goroutine, tracked by a WaitGroup for graceful shutdown.
type Worker struct {
	id                string
	ledger            *ledger.Ledger
	registry          *registry.Registry
	conn              store.Conn
	dlq               *dlq.Manager
	pollInterval      time.Duration
	heartbeatInterval time.Duration
	concurrency       int
	lanes             []string
	logger            *slog.Logger

	wg      sync.WaitGroup
	sem     chan struct{}
	mu      sync.Mutex
	running map[string]struct{}
}

// Option customizes a Worker before it starts polling.
type Option func(*Worker)

// WithLanes restricts this worker to claiming runs whose lane is one of
// lanes, instead of every lane. Leave unset to serve all lanes.
func WithLanes(lanes ...string) Option {
	return func(w *Worker) { w.lanes = lanes }
}

func New(l *ledger.Ledger, reg *registry.Registry, conn store.Conn, d *dlq.Manager, pollInterval, heartbeatInterval time.Duration, concurrency int, logger *slog.Logger, opts ...Option) *Worker {
	host, _ := os.Hostname()
	w := &Worker{
		id:                fmt.Sprintf("%s-%d", host, os.Getpid()),
		ledger:            l,
		registry:          reg,
		conn:              conn,
		dlq:               d,
		pollInterval:      pollInterval,
		heartbeatInterval: heartbeatInterval,
		concurrency:       concurrency,
		logger:            logger.With("component", "worker", "worker_id", host),
		sem:               make(chan struct{}, concurrency),
		running:           make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start runs the poll loop until ctx is cancelled, then waits up to
// gracePeriod for in-flight runs to finish before returning.
func (w *Worker) Start(ctx context.Context, gracePeriod time.Duration) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.logger.Info("worker started", "concurrency", w.concurrency, "poll_interval", w.pollInterval)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker shutting down, draining in-flight runs", "grace_period", gracePeriod)
			done := make(chan struct{})
			go func() { w.wg.Wait(); close(done) }()
			select {
			case <-done:
				w.logger.Info("worker drained cleanly")
			case <-time.After(gracePeriod):
				w.logger.Warn("worker grace period expired with runs still in flight")
			}
			return ctx.Err()
		case <-ticker.C:
			w.pollOnce(ctx)
		}
	}
}

func (w *Worker) pollOnce(ctx context.Context) {
	ids, err := w.claimBatch(ctx, w.availableSlots())
	if err != nil {
		w.logger.Error("claim batch failed", "error", err)
		return
	}
	for _, runID := range ids {
		w.sem <- struct{}{}
		w.wg.Add(1)
		go func(id string) {
			defer w.wg.Done()
			defer func() { <-w.sem }()
			w.processRun(ctx, id)
		}(runID)
	}
}

func (w *Worker) availableSlots() int {
	return cap(w.sem) - len(w.sem)
}

// claimBatch atomically claims up to limit QUEUED runs, highest priority
// first and oldest first within a priority, for this worker. Real deployments would use a single
// "UPDATE ... WHERE id IN (SELECT ... FOR UPDATE SKIP LOCKED) RETURNING"
// statement (as the teacher's postgres.JobRepository.Claim does); the
// store.Conn abstraction here favors the portable read-then-conditional
// -update pattern so the same worker code runs against SQLite in tests.
func (w *Worker) claimBatch(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	query := `SELECT id FROM core_executions WHERE status = $1`
	args := []any{string(domain.StatusQueued)}
	if len(w.lanes) > 0 {
		placeholders := make([]string, len(w.lanes))
		for i, lane := range w.lanes {
			args = append(args, lane)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		query += fmt.Sprintf(" AND lane IN (%s)", strings.Join(placeholders, ","))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY priority DESC, created_at ASC LIMIT $%d", len(args))

	rows, err := w.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query queued runs: %w", err)
	}
	defer rows.Close()

	var candidates []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		candidates = append(candidates, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var claimed []string
	for _, id := range candidates {
		ok, err := w.ledger.Claim(ctx, id, w.id, domain.StatusQueued)
		if err != nil {
			w.logger.Warn("claim failed", "run_id", id, "error", err)
			continue
		}
		if ok {
			claimed = append(claimed, id)
		}
	}
	return claimed, nil
}

func (w *Worker) processRun(ctx context.Context, runID string) {
	w.mu.Lock()
	w.running[runID] = struct{}{}
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		delete(w.running, runID)
		w.mu.Unlock()
	}()

	_ = w.ledger.RecordEvent(ctx, runID, domain.EventStarted, "", map[string]any{"worker_id": w.id})

	run, err := w.ledger.GetRun(ctx, runID)
	if err != nil {
		w.logger.Error("fetch claimed run failed", "run_id", runID, "error", err)
		return
	}

	handlerCtx := ctx
	var cancel context.CancelFunc
	if run.Status == domain.StatusRunning {
		handlerCtx, cancel = context.WithCancel(ctx)
		defer cancel()
	}

	heartbeatDone := make(chan struct{})
	go w.heartbeat(handlerCtx, runID, heartbeatDone)
	defer close(heartbeatDone)

	h, err := w.registry.Get(run.Kind, run.Name)
	if err != nil {
		w.fail(ctx, run, err.Error())
		return
	}

	payload, err := w.ledger.GetWorkSpecPayload(ctx, run.WorkSpecID)
	if err != nil {
		w.logger.Error("fetch work spec payload failed", "run_id", runID, "error", err)
		payload = nil
	}

	start := time.Now()
	out, err := h(handlerCtx, payload)
	w.logger.Info("run finished", "run_id", runID, "duration", time.Since(start))
	if err != nil {
		w.fail(ctx, run, err.Error())
		return
	}
	if _, err := w.ledger.MarkCompleted(ctx, runID, out); err != nil {
		w.logger.Error("mark completed failed", "run_id", runID, "error", err)
		return
	}
	_ = w.ledger.RecordEvent(ctx, runID, domain.EventCompleted, "", nil)
}

// fail moves run to FAILED and, once its retry budget is exhausted,
// captures it to the dead-letter queue — re-attempting a run with
// budget left is left to a caller driving Dispatcher.Retry rather than
// looped automatically here.
func (w *Worker) fail(ctx context.Context, run *domain.RunRecord, message string) {
	if _, err := w.ledger.MarkFailed(ctx, run.ID, message); err != nil {
		w.logger.Error("mark failed failed", "run_id", run.ID, "error", err)
	}
	_ = w.ledger.RecordEvent(ctx, run.ID, domain.EventFailed, message, nil)

	if run.CanRetry() || w.dlq == nil {
		return
	}
	payload, err := w.ledger.GetWorkSpecPayload(ctx, run.WorkSpecID)
	if err != nil {
		w.logger.Warn("fetch payload for dead letter failed", "run_id", run.ID, "error", err)
	}
	if _, err := w.dlq.Add(ctx, run, run.WorkSpecID, payload, message); err != nil {
		w.logger.Error("capture to dlq failed", "run_id", run.ID, "error", err)
		return
	}
	_ = w.ledger.RecordEvent(ctx, run.ID, domain.EventDeadLetter, message, nil)
}

func (w *Worker) heartbeat(ctx context.Context, runID string, done <-chan struct{}) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = w.conn.Exec(ctx, `UPDATE core_executions SET heartbeat_at = $1 WHERE id = $2`, time.Now(), runID)
		}
	}
}

// Info reports the worker's identity and currently in-flight run count —
// used by the health checker and a future admin surface.
type Info struct {
	ID         string
	InFlight   int
	Concurrency int
}

func (w *Worker) Info() Info {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Info{ID: w.id, InFlight: len(w.running), Concurrency: w.concurrency}
}
