// Package dlq captures executions that exhausted their retry budget for
// manual inspection, resolution and optional re-queue.
package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ryansmccoy/spine-core-sub000/internal/domain"
	"github.com/ryansmccoy/spine-core-sub000/internal/notify"
	"github.com/ryansmccoy/spine-core-sub000/internal/store"
)

type Manager struct {
	conn     store.Conn
	now      func() time.Time
	notifier notify.Notifier
}

type Option func(*Manager)

// WithNotifier makes Add alert n whenever a run lands in the dead-letter
// queue. Omit it to leave DLQ inspection purely pull-based.
func WithNotifier(n notify.Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

func New(conn store.Conn, opts ...Option) *Manager {
	m := &Manager{conn: conn, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Add captures run as a dead letter. Called once a run's retry budget is
// exhausted or a handler raises a non-retryable error.
func (m *Manager) Add(ctx context.Context, run *domain.RunRecord, workSpecID string, payload map[string]any, errMsg string) (*domain.DeadLetter, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	dl := &domain.DeadLetter{
		ID:           uuid.NewString(),
		RunID:        run.ID,
		WorkSpecID:   workSpecID,
		Kind:         run.Kind,
		Name:         run.Name,
		ErrorMessage: errMsg,
		Payload:      payload,
		RetryCount:   run.RetryCount,
		CreatedAt:    m.now(),
	}
	_, err = m.conn.Exec(ctx, `
		INSERT INTO core_dead_letters
			(id, run_id, work_spec_id, kind, name, error_message, payload,
			 retry_count, resolved, requeued, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		dl.ID, dl.RunID, dl.WorkSpecID, string(dl.Kind), dl.Name, dl.ErrorMessage,
		raw, dl.RetryCount, false, false, dl.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert dead letter: %w", err)
	}
	if m.notifier != nil {
		subject := fmt.Sprintf("run %s dead-lettered", dl.RunID)
		body := fmt.Sprintf("kind=%s name=%s retries=%d error=%s", dl.Kind, dl.Name, dl.RetryCount, dl.ErrorMessage)
		_ = m.notifier.Notify(ctx, subject, body) // best-effort, the DLQ row is the source of truth
	}
	return dl, nil
}

// ListUnresolved returns dead letters that have not yet been resolved,
// most recent first, bounded by limit.
func (m *Manager) ListUnresolved(ctx context.Context, limit int) ([]*domain.DeadLetter, error) {
	rows, err := m.conn.Query(ctx, `
		SELECT id, run_id, work_spec_id, kind, name, error_message, payload,
		       retry_count, resolved, resolved_by, resolved_at, requeued, created_at
		FROM core_dead_letters WHERE resolved = $1 ORDER BY created_at DESC LIMIT $2`,
		false, limit)
	if err != nil {
		return nil, fmt.Errorf("query dead letters: %w", err)
	}
	defer rows.Close()

	var out []*domain.DeadLetter
	for rows.Next() {
		dl, err := scanDeadLetter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, dl)
	}
	return out, rows.Err()
}

// Resolve marks a dead letter resolved by resolvedBy, without requeuing.
func (m *Manager) Resolve(ctx context.Context, id, resolvedBy string) error {
	now := m.now()
	affected, err := m.conn.Exec(ctx, `
		UPDATE core_dead_letters SET resolved = $1, resolved_by = $2, resolved_at = $3
		WHERE id = $4 AND resolved = $5`, true, resolvedBy, now, id, false)
	if err != nil {
		return fmt.Errorf("resolve dead letter: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("dead letter %s not found or already resolved", id)
	}
	return nil
}

// MarkRequeued flags a dead letter as having produced a fresh retry run,
// preventing it from being requeued twice.
func (m *Manager) MarkRequeued(ctx context.Context, id string) error {
	_, err := m.conn.Exec(ctx, `UPDATE core_dead_letters SET requeued = $1 WHERE id = $2`, true, id)
	if err != nil {
		return fmt.Errorf("mark requeued: %w", err)
	}
	return nil
}

// CleanupResolved deletes resolved dead letters older than olderThan.
func (m *Manager) CleanupResolved(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := m.now().Add(-olderThan)
	n, err := m.conn.Exec(ctx, `DELETE FROM core_dead_letters WHERE resolved = $1 AND created_at <= $2`, true, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup dead letters: %w", err)
	}
	return n, nil
}

// CountUnresolved is used by the health checker to alarm on DLQ depth.
func (m *Manager) CountUnresolved(ctx context.Context) (int64, error) {
	row := m.conn.QueryRow(ctx, `SELECT count(*) FROM core_dead_letters WHERE resolved = $1`, false)
	var n int64
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count unresolved: %w", err)
	}
	return n, nil
}

func scanDeadLetter(row interface{ Scan(...any) error }) (*domain.DeadLetter, error) {
	var (
		dl                         domain.DeadLetter
		kind                       string
		raw                        []byte
		resolvedBy                 *string
		resolvedAt                 *time.Time
	)
	if err := row.Scan(&dl.ID, &dl.RunID, &dl.WorkSpecID, &kind, &dl.Name, &dl.ErrorMessage,
		&raw, &dl.RetryCount, &dl.Resolved, &resolvedBy, &resolvedAt, &dl.Requeued, &dl.CreatedAt); err != nil {
		return nil, fmt.Errorf("scan dead letter: %w", err)
	}
	dl.Kind = domain.Kind(kind)
	dl.ResolvedBy = resolvedBy
	dl.ResolvedAt = resolvedAt
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &dl.Payload)
	}
	return &dl, nil
}
