// Package scheduler turns Schedule rows into WorkSpecs at their due
// time: a Repository for CRUD plus next-run computation, a LockManager
// reusing the concurrency guard's table, and a Service that ticks the
// two together.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/ryansmccoy/spine-core-sub000/internal/domain"
	"github.com/ryansmccoy/spine-core-sub000/internal/store"
)

type Repository struct {
	conn   store.Conn
	now    func() time.Time
	logger *slog.Logger
}

func NewRepository(conn store.Conn, logger *slog.Logger) *Repository {
	return &Repository{conn: conn, now: time.Now, logger: logger.With("component", "scheduler_repository")}
}

// Create persists a new Schedule, computing its initial NextRunAt.
func (r *Repository) Create(ctx context.Context, s domain.Schedule) (*domain.Schedule, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	now := r.now()
	s.CreatedAt, s.UpdatedAt = now, now

	next, err := computeNext(s, now, r.logger)
	if err != nil {
		return nil, err
	}
	s.NextRunAt = next

	payload, err := json.Marshal(s.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	var runAt any
	if s.RunAt != nil {
		runAt = *s.RunAt
	}

	if s.Timezone == "" {
		s.Timezone = "UTC"
	}

	_, err = r.conn.Exec(ctx, `
		INSERT INTO core_schedules
			(id, name, kind, cron_expr, interval_seconds, run_at, timezone, work_kind, work_name,
			 payload, max_retries, timeout_seconds, misfire_grace_seconds, misfire_policy,
			 paused, next_run_at, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		s.ID, s.Name, string(s.Kind), s.CronExpr, int(s.Interval.Seconds()), runAt, s.Timezone,
		string(s.WorkKind), s.WorkName, payload, s.MaxRetries, s.TimeoutSeconds,
		s.MisfireGraceSeconds, string(s.MisfirePolicy), s.Paused, s.NextRunAt, s.Version, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrScheduleNameTaken
		}
		return nil, fmt.Errorf("insert schedule: %w", err)
	}
	return &s, nil
}

// GetDue returns up to limit schedules whose NextRunAt has passed and
// which are not paused, ordered by how overdue they are.
func (r *Repository) GetDue(ctx context.Context, limit int) ([]*domain.Schedule, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT id, name, kind, cron_expr, interval_seconds, run_at, timezone, work_kind, work_name,
		       payload, max_retries, timeout_seconds, misfire_grace_seconds, misfire_policy,
		       paused, next_run_at, last_run_at, version, created_at, updated_at
		FROM core_schedules WHERE paused = $1 AND next_run_at <= $2
		ORDER BY next_run_at ASC LIMIT $3`, false, r.now(), limit)
	if err != nil {
		return nil, fmt.Errorf("query due schedules: %w", err)
	}
	defer rows.Close()

	var out []*domain.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CreateScheduleRun records that scheduleID has fired, producing runID
// (nil if dispatch has not happened yet), and bumps the schedule's
// last_run_at. Mirrors mark_run_started.
func (r *Repository) CreateScheduleRun(ctx context.Context, scheduleID string, runID *string, scheduledAt time.Time) (*domain.ScheduleRun, error) {
	now := r.now()
	sr := &domain.ScheduleRun{
		ID:          uuid.NewString(),
		ScheduleID:  scheduleID,
		RunID:       runID,
		ScheduledAt: scheduledAt,
		StartedAt:   &now,
		Status:      domain.ScheduleRunRunning,
	}
	_, err := r.conn.Exec(ctx, `
		INSERT INTO core_schedule_runs (id, schedule_id, run_id, scheduled_at, started_at, status)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		sr.ID, sr.ScheduleID, sr.RunID, sr.ScheduledAt, sr.StartedAt, string(sr.Status))
	if err != nil {
		return nil, fmt.Errorf("insert schedule run: %w", err)
	}
	if _, err := r.conn.Exec(ctx, `
		UPDATE core_schedules SET last_run_at = $1, updated_at = $2 WHERE id = $3`, now, now, scheduleID); err != nil {
		return nil, fmt.Errorf("update schedule last run: %w", err)
	}
	return sr, nil
}

// CompleteScheduleRun advances scheduleRunID to a terminal status and
// writes the schedule's next fire time, bumping version. Mirrors
// mark_run_completed.
func (r *Repository) CompleteScheduleRun(ctx context.Context, scheduleRunID, scheduleID string, status domain.ScheduleRunStatus, errMsg *string, nextRunAt time.Time) error {
	now := r.now()
	if _, err := r.conn.Exec(ctx, `
		UPDATE core_schedule_runs SET status = $1, completed_at = $2, error_message = $3 WHERE id = $4`,
		string(status), now, errMsg, scheduleRunID); err != nil {
		return fmt.Errorf("complete schedule run: %w", err)
	}
	if _, err := r.conn.Exec(ctx, `
		UPDATE core_schedules SET next_run_at = $1, version = version + 1, updated_at = $2 WHERE id = $3`,
		nextRunAt, now, scheduleID); err != nil {
		return fmt.Errorf("advance schedule: %w", err)
	}
	return nil
}

// RecordMissedRun inserts a terminal MISSED ScheduleRun with no RUNNING
// stage — the schedule was never dispatched — and reschedules it.
func (r *Repository) RecordMissedRun(ctx context.Context, scheduleID string, scheduledAt, nextRunAt time.Time) error {
	now := r.now()
	_, err := r.conn.Exec(ctx, `
		INSERT INTO core_schedule_runs (id, schedule_id, scheduled_at, completed_at, status)
		VALUES ($1,$2,$3,$4,$5)`,
		uuid.NewString(), scheduleID, scheduledAt, now, string(domain.ScheduleRunMissed))
	if err != nil {
		return fmt.Errorf("insert missed schedule run: %w", err)
	}
	_, err = r.conn.Exec(ctx, `
		UPDATE core_schedules SET next_run_at = $1, version = version + 1, updated_at = $2 WHERE id = $3`,
		nextRunAt, now, scheduleID)
	if err != nil {
		return fmt.Errorf("advance missed schedule: %w", err)
	}
	return nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (*domain.Schedule, error) {
	row := r.conn.QueryRow(ctx, `
		SELECT id, name, kind, cron_expr, interval_seconds, run_at, timezone, work_kind, work_name,
		       payload, max_retries, timeout_seconds, misfire_grace_seconds, misfire_policy,
		       paused, next_run_at, last_run_at, version, created_at, updated_at
		FROM core_schedules WHERE id = $1`, id)
	s, err := scanSchedule(row)
	if err != nil {
		return nil, domain.ErrScheduleNotFound
	}
	return s, nil
}

func (r *Repository) SetPaused(ctx context.Context, id string, paused bool) error {
	affected, err := r.conn.Exec(ctx, `
		UPDATE core_schedules SET paused = $1, updated_at = $2 WHERE id = $3 AND paused = $4`,
		paused, r.now(), id, !paused)
	if err != nil {
		return fmt.Errorf("set paused: %w", err)
	}
	if affected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		if paused {
			return domain.ErrScheduleAlreadyOn
		}
		return domain.ErrScheduleAlreadyOff
	}
	return nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	affected, err := r.conn.Exec(ctx, `DELETE FROM core_schedules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	if affected == 0 {
		return domain.ErrScheduleNotFound
	}
	return nil
}

// ComputeNext computes the next fire time strictly after after, per the
// schedule's Kind. For cron schedules this evaluates in the schedule's
// timezone (falling back to UTC with a logged warning if Timezone does
// not resolve) and converts the result back to UTC for storage, then
// loops Next() until it is in the future relative to after (guards
// against a schedule that sat idle through several missed fires).
func ComputeNext(s domain.Schedule, after time.Time) (time.Time, error) {
	return computeNext(s, after, nil)
}

// ComputeNext is the instance-bound form, logging a warning through the
// repository's logger on an unresolvable timezone.
func (r *Repository) ComputeNext(s domain.Schedule, after time.Time) (time.Time, error) {
	return computeNext(s, after, r.logger)
}

func computeNext(s domain.Schedule, after time.Time, logger *slog.Logger) (time.Time, error) {
	switch s.Kind {
	case domain.ScheduleKindCron:
		sched, err := cron.ParseStandard(s.CronExpr)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %s", domain.ErrInvalidCronExpr, s.CronExpr)
		}
		loc := resolveLocation(s.Timezone, logger)
		localAfter := after.In(loc)
		next := sched.Next(localAfter)
		for !next.After(after) {
			next = sched.Next(next)
		}
		return next.UTC(), nil
	case domain.ScheduleKindInterval:
		return after.Add(s.Interval), nil
	case domain.ScheduleKindDate:
		if s.RunAt == nil {
			return time.Time{}, fmt.Errorf("date schedule %s has no run_at", s.ID)
		}
		return *s.RunAt, nil
	default:
		return time.Time{}, fmt.Errorf("unknown schedule kind %q", s.Kind)
	}
}

// resolveLocation resolves tz to a *time.Location, falling back to UTC
// with a logged warning if tz is empty or does not name a known zone.
func resolveLocation(tz string, logger *slog.Logger) *time.Location {
	if tz == "" || tz == "UTC" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		if logger != nil {
			logger.Warn("schedule timezone did not resolve, falling back to UTC", "timezone", tz, "error", err)
		}
		return time.UTC
	}
	return loc
}

func scanSchedule(row interface{ Scan(...any) error }) (*domain.Schedule, error) {
	var (
		s                domain.Schedule
		kind, workKind   string
		misfirePolicy    string
		intervalSeconds  int
		runAt, lastRunAt *time.Time
		rawPayload       []byte
	)
	if err := row.Scan(&s.ID, &s.Name, &kind, &s.CronExpr, &intervalSeconds, &runAt, &s.Timezone,
		&workKind, &s.WorkName, &rawPayload, &s.MaxRetries, &s.TimeoutSeconds,
		&s.MisfireGraceSeconds, &misfirePolicy, &s.Paused, &s.NextRunAt, &lastRunAt, &s.Version,
		&s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, fmt.Errorf("scan schedule: %w", err)
	}
	s.Kind = domain.ScheduleKind(kind)
	s.WorkKind = domain.Kind(workKind)
	s.MisfirePolicy = domain.MisfirePolicy(misfirePolicy)
	s.Interval = time.Duration(intervalSeconds) * time.Second
	s.RunAt = runAt
	s.LastRunAt = lastRunAt
	if len(rawPayload) > 0 {
		_ = json.Unmarshal(rawPayload, &s.Payload)
	}
	return &s, nil
}

func isUniqueViolation(err error) bool {
	return errors.Is(err, store.ErrUniqueViolation)
}
