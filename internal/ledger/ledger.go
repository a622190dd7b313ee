// Package ledger is the single source of truth for RunRecords and their
// RunEvents. Every status change goes through an atomic, conditional
// UPDATE so two callers racing to claim or terminate the same run never
// both win.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ryansmccoy/spine-core-sub000/internal/domain"
	"github.com/ryansmccoy/spine-core-sub000/internal/store"
)

// Ledger persists WorkSpecs, RunRecords and RunEvents over a store.Conn.
type Ledger struct {
	conn    store.Conn
	dialect store.Dialect
	now     func() time.Time
}

func New(conn store.Conn, dialect store.Dialect) *Ledger {
	return &Ledger{conn: conn, dialect: dialect, now: time.Now}
}

// CreateRun persists spec and an initial PENDING RunRecord plus a CREATED
// event, in one transaction. If spec.IdempotencyKey collides with an
// existing WorkSpec, the existing RunRecord is returned instead and
// created reports false.
func (l *Ledger) CreateRun(ctx context.Context, spec domain.WorkSpec) (run *domain.RunRecord, created bool, err error) {
	tx, err := l.conn.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if spec.IdempotencyKey != "" {
		if existing, found, err := l.findByIdempotencyKeyTx(ctx, tx, spec.IdempotencyKey); err != nil {
			return nil, false, err
		} else if found {
			return existing, false, nil
		}
	}

	now := l.now()
	if spec.ID == "" {
		spec.ID = uuid.NewString()
	}
	spec.CreatedAt = now

	if spec.CorrelationID == "" && spec.ParentRunID != nil {
		spec.CorrelationID = *spec.ParentRunID
	}
	if spec.Lane == "" {
		spec.Lane = "default"
	}

	payload, err := json.Marshal(spec.Payload)
	if err != nil {
		return nil, false, fmt.Errorf("marshal payload: %w", err)
	}
	tags, err := json.Marshal(spec.Tags)
	if err != nil {
		return nil, false, fmt.Errorf("marshal tags: %w", err)
	}
	metadata, err := json.Marshal(spec.Metadata)
	if err != nil {
		return nil, false, fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO core_work_specs
			(id, idempotency_key, kind, name, payload, priority, lane, max_retries,
			 retry_delay_seconds, timeout_seconds, parent_run_id, correlation_id,
			 trigger_source, tags, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		spec.ID, nullableStr(spec.IdempotencyKey), string(spec.Kind), spec.Name,
		payload, int(spec.Priority), spec.Lane, spec.MaxRetries, spec.RetryDelaySeconds,
		spec.TimeoutSeconds, spec.ParentRunID, nullableStr(spec.CorrelationID),
		string(spec.TriggerSource), tags, metadata, now)
	if err != nil {
		return nil, false, fmt.Errorf("insert work spec: %w", err)
	}

	run = &domain.RunRecord{
		ID:            uuid.NewString(),
		WorkSpecID:    spec.ID,
		ParentRunID:   spec.ParentRunID,
		CorrelationID: spec.CorrelationID,
		Kind:          spec.Kind,
		Name:          spec.Name,
		Lane:          spec.Lane,
		Status:        domain.StatusPending,
		Priority:      spec.Priority,
		MaxRetries:    spec.MaxRetries,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO core_executions
			(id, work_spec_id, parent_run_id, correlation_id, kind, name, lane,
			 status, priority, retry_count, max_retries, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		run.ID, run.WorkSpecID, run.ParentRunID, nullableStr(run.CorrelationID),
		string(run.Kind), run.Name, run.Lane, string(run.Status), int(run.Priority),
		run.RetryCount, run.MaxRetries, run.CreatedAt, run.UpdatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("insert run record: %w", err)
	}

	if err := l.insertEventTx(ctx, tx, run.ID, domain.EventCreated, "", nil, now); err != nil {
		return nil, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit: %w", err)
	}
	return run, true, nil
}

func (l *Ledger) findByIdempotencyKeyTx(ctx context.Context, tx store.Tx, key string) (*domain.RunRecord, bool, error) {
	row := tx.QueryRow(ctx, `
		SELECT e.id, e.work_spec_id, e.parent_run_id, e.correlation_id, e.kind, e.name,
		       e.lane, e.status, e.priority, e.retry_count, e.max_retries, e.result,
		       e.error_message, e.claimed_by, e.claimed_at, e.heartbeat_at, e.started_at,
		       e.completed_at, e.created_at, e.updated_at
		FROM core_executions e
		JOIN core_work_specs w ON w.id = e.work_spec_id
		WHERE w.idempotency_key = $1
		ORDER BY e.created_at DESC LIMIT 1`, key)
	run, err := scanRun(row)
	if err != nil {
		return nil, false, nil //nolint:nilerr // no matching row is not an error here
	}
	return run, true, nil
}

// FindByIdempotencyKey returns the most recent RunRecord created under
// key, if any.
func (l *Ledger) FindByIdempotencyKey(ctx context.Context, key string) (*domain.RunRecord, bool, error) {
	row := l.conn.QueryRow(ctx, `
		SELECT e.id, e.work_spec_id, e.parent_run_id, e.correlation_id, e.kind, e.name,
		       e.lane, e.status, e.priority, e.retry_count, e.max_retries, e.result,
		       e.error_message, e.claimed_by, e.claimed_at, e.heartbeat_at, e.started_at,
		       e.completed_at, e.created_at, e.updated_at
		FROM core_executions e
		JOIN core_work_specs w ON w.id = e.work_spec_id
		WHERE w.idempotency_key = $1
		ORDER BY e.created_at DESC LIMIT 1`, key)
	run, err := scanRun(row)
	if err != nil {
		return nil, false, nil //nolint:nilerr
	}
	return run, true, nil
}

// GetRun fetches a single RunRecord by ID.
func (l *Ledger) GetRun(ctx context.Context, id string) (*domain.RunRecord, error) {
	row := l.conn.QueryRow(ctx, `
		SELECT id, work_spec_id, parent_run_id, correlation_id, kind, name, lane,
		       status, priority, retry_count, max_retries, result, error_message,
		       claimed_by, claimed_at, heartbeat_at, started_at, completed_at,
		       created_at, updated_at
		FROM core_executions WHERE id = $1`, id)
	run, err := scanRun(row)
	if err != nil {
		return nil, domain.ErrRunNotFound
	}
	return run, nil
}

// GetRunByWorkSpecID looks up a run by its WorkSpec — used by
// asynchronous executors whose result callback only carries the
// originally-submitted WorkSpec, not the run it produced.
func (l *Ledger) GetRunByWorkSpecID(ctx context.Context, workSpecID string) (*domain.RunRecord, error) {
	row := l.conn.QueryRow(ctx, `
		SELECT id, work_spec_id, parent_run_id, correlation_id, kind, name, lane,
		       status, priority, retry_count, max_retries, result, error_message,
		       claimed_by, claimed_at, heartbeat_at, started_at, completed_at,
		       created_at, updated_at
		FROM core_executions WHERE work_spec_id = $1`, workSpecID)
	run, err := scanRun(row)
	if err != nil {
		return nil, domain.ErrRunNotFound
	}
	return run, nil
}

// GetWorkSpecPayload fetches the payload a WorkSpec was submitted with —
// RunRecord itself carries no payload column, so the worker loop (which
// only has a run ID to resume from after a restart) looks it up here
// rather than threading the payload through in memory.
func (l *Ledger) GetWorkSpecPayload(ctx context.Context, workSpecID string) (map[string]any, error) {
	row := l.conn.QueryRow(ctx, `SELECT payload FROM core_work_specs WHERE id = $1`, workSpecID)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		return nil, domain.ErrRunNotFound
	}
	var payload map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	return payload, nil
}

// GetChildren returns all runs whose ParentRunID is parentID, ordered by
// creation time — used to assemble pipeline/workflow trees.
func (l *Ledger) GetChildren(ctx context.Context, parentID string) ([]*domain.RunRecord, error) {
	rows, err := l.conn.Query(ctx, `
		SELECT id, work_spec_id, parent_run_id, correlation_id, kind, name, lane,
		       status, priority, retry_count, max_retries, result, error_message,
		       claimed_by, claimed_at, heartbeat_at, started_at, completed_at,
		       created_at, updated_at
		FROM core_executions WHERE parent_run_id = $1 ORDER BY created_at ASC`, parentID)
	if err != nil {
		return nil, fmt.Errorf("query children: %w", err)
	}
	defer rows.Close()

	var out []*domain.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// TransitionStatus atomically moves run from status from to target,
// validating the edge and failing (rowsAffected == 0) if another caller
// already moved it. This is the core anti-race primitive: the WHERE
// clause embeds the expected current status.
func (l *Ledger) TransitionStatus(ctx context.Context, runID string, from, target domain.Status, mutate func(*runUpdate)) (bool, error) {
	if err := domain.ValidateTransition(from, target); err != nil {
		return false, err
	}

	u := &runUpdate{}
	if mutate != nil {
		mutate(u)
	}
	now := l.now()

	affected, err := l.conn.Exec(ctx, `
		UPDATE core_executions SET
			status = $1,
			updated_at = $2,
			claimed_by = COALESCE($3, claimed_by),
			claimed_at = COALESCE($4, claimed_at),
			started_at = COALESCE($5, started_at),
			completed_at = COALESCE($6, completed_at),
			result = COALESCE($7, result),
			error_message = COALESCE($8, error_message),
			retry_count = CASE WHEN $9 THEN retry_count + 1 ELSE retry_count END
		WHERE id = $10 AND status = $11`,
		string(target), now, u.claimedBy, u.claimedAt, u.startedAt, u.completedAt,
		u.result, u.errorMessage, u.incrementRetry, runID, string(from))
	if err != nil {
		return false, fmt.Errorf("transition: %w", err)
	}
	return affected == 1, nil
}

type runUpdate struct {
	claimedBy      *string
	claimedAt      *time.Time
	startedAt      *time.Time
	completedAt    *time.Time
	result         []byte
	errorMessage   *string
	incrementRetry bool
}

// Claim atomically moves runID from PENDING/QUEUED to RUNNING, recording
// owner and claim time — the anti-race primitive the worker loop uses
// to ensure exactly one goroutine processes a given run.
func (l *Ledger) Claim(ctx context.Context, runID, owner string, from domain.Status) (bool, error) {
	now := l.now()
	return l.TransitionStatus(ctx, runID, from, domain.StatusRunning, func(u *runUpdate) {
		u.claimedBy = &owner
		u.claimedAt = &now
		u.startedAt = &now
	})
}

// MarkCompleted atomically moves runID from RUNNING to COMPLETED,
// persisting result.
func (l *Ledger) MarkCompleted(ctx context.Context, runID string, result map[string]any) (bool, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return false, fmt.Errorf("marshal result: %w", err)
	}
	now := l.now()
	return l.TransitionStatus(ctx, runID, domain.StatusRunning, domain.StatusCompleted, func(u *runUpdate) {
		u.result = raw
		u.completedAt = &now
	})
}

// MarkFailed atomically moves runID from RUNNING to FAILED, persisting
// the error message and bumping retry_count.
func (l *Ledger) MarkFailed(ctx context.Context, runID, message string) (bool, error) {
	return l.Fail(ctx, runID, domain.StatusRunning, message)
}

// Fail atomically moves runID from the given from state to FAILED —
// used both for handler failures (from RUNNING) and submission failures
// that never reached RUNNING (from QUEUED).
func (l *Ledger) Fail(ctx context.Context, runID string, from domain.Status, message string) (bool, error) {
	now := l.now()
	return l.TransitionStatus(ctx, runID, from, domain.StatusFailed, func(u *runUpdate) {
		u.errorMessage = &message
		u.completedAt = &now
		u.incrementRetry = true
	})
}

// MarkTimedOut atomically moves runID from RUNNING to TIMED_OUT.
func (l *Ledger) MarkTimedOut(ctx context.Context, runID string) (bool, error) {
	now := l.now()
	return l.TransitionStatus(ctx, runID, domain.StatusRunning, domain.StatusTimedOut, func(u *runUpdate) {
		u.completedAt = &now
		u.incrementRetry = true
	})
}

// RecordEvent appends a RunEvent to the audit trail.
func (l *Ledger) RecordEvent(ctx context.Context, runID string, typ domain.EventType, message string, data map[string]any) error {
	return l.insertEventTx(ctx, directExec{l.conn}, runID, typ, message, data, l.now())
}

// directExec adapts store.Conn to the store.Tx subset insertEventTx needs.
type directExec struct{ conn store.Conn }

func (d directExec) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	return d.conn.Exec(ctx, sql, args...)
}

func (l *Ledger) insertEventTx(ctx context.Context, tx interface {
	Exec(context.Context, string, ...any) (int64, error)
}, runID string, typ domain.EventType, message string, data map[string]any, at time.Time) error {
	var raw []byte
	if data != nil {
		var err error
		raw, err = json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal event data: %w", err)
		}
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO core_execution_events (id, run_id, type, message, data, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		uuid.NewString(), runID, string(typ), message, raw, at)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// GetEvents returns a run's audit trail in chronological order.
func (l *Ledger) GetEvents(ctx context.Context, runID string) ([]*domain.RunEvent, error) {
	rows, err := l.conn.Query(ctx, `
		SELECT id, run_id, type, message, data, created_at
		FROM core_execution_events WHERE run_id = $1 ORDER BY created_at ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []*domain.RunEvent
	for rows.Next() {
		var (
			ev      domain.RunEvent
			typ     string
			rawData []byte
		)
		if err := rows.Scan(&ev.ID, &ev.RunID, &typ, &ev.Message, &rawData, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Type = domain.EventType(typ)
		if len(rawData) > 0 {
			if err := json.Unmarshal(rawData, &ev.Data); err != nil {
				return nil, fmt.Errorf("unmarshal event data: %w", err)
			}
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}

func scanRun(row interface{ Scan(...any) error }) (*domain.RunRecord, error) {
	var (
		run                                             domain.RunRecord
		kind, status                                    string
		priority                                        int
		rawResult                                       []byte
		correlationID, errMsg, claimedBy                *string
		claimedAt, heartbeatAt, startedAt, completedAt   *time.Time
	)
	if err := row.Scan(&run.ID, &run.WorkSpecID, &run.ParentRunID, &correlationID, &kind,
		&run.Name, &run.Lane, &status, &priority, &run.RetryCount, &run.MaxRetries,
		&rawResult, &errMsg, &claimedBy, &claimedAt, &heartbeatAt, &startedAt, &completedAt,
		&run.CreatedAt, &run.UpdatedAt); err != nil {
		return nil, err
	}
	run.Kind = domain.Kind(kind)
	run.Status = domain.Status(status)
	run.Priority = domain.Priority(priority)
	if correlationID != nil {
		run.CorrelationID = *correlationID
	}
	run.ErrorMessage = errMsg
	run.ClaimedBy = claimedBy
	run.ClaimedAt = claimedAt
	run.HeartbeatAt = heartbeatAt
	run.StartedAt = startedAt
	run.CompletedAt = completedAt
	if len(rawResult) > 0 {
		_ = json.Unmarshal(rawResult, &run.Result)
	}
	return &run, nil
}

func nullableStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
