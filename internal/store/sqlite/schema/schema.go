// Package schema applies the core table DDL against a SQLite database —
// used by tests and by single-binary deployments that embed SQLite
// instead of running Postgres.
package schema

import (
	"context"
	"database/sql"
	"fmt"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS core_work_specs (
		id TEXT PRIMARY KEY,
		idempotency_key TEXT UNIQUE,
		kind TEXT NOT NULL,
		name TEXT NOT NULL,
		payload TEXT,
		priority INTEGER NOT NULL DEFAULT 20,
		lane TEXT NOT NULL DEFAULT 'default',
		max_retries INTEGER NOT NULL DEFAULT 0,
		retry_delay_seconds INTEGER NOT NULL DEFAULT 0,
		timeout_seconds INTEGER NOT NULL DEFAULT 0,
		parent_run_id TEXT,
		correlation_id TEXT,
		trigger_source TEXT NOT NULL DEFAULT 'manual',
		tags TEXT,
		metadata TEXT,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS core_executions (
		id TEXT PRIMARY KEY,
		work_spec_id TEXT NOT NULL,
		parent_run_id TEXT,
		correlation_id TEXT,
		kind TEXT NOT NULL,
		name TEXT NOT NULL,
		lane TEXT NOT NULL DEFAULT 'default',
		status TEXT NOT NULL,
		priority INTEGER NOT NULL DEFAULT 20,
		retry_count INTEGER NOT NULL DEFAULT 0,
		max_retries INTEGER NOT NULL DEFAULT 0,
		result TEXT,
		error_message TEXT,
		claimed_by TEXT,
		claimed_at DATETIME,
		heartbeat_at DATETIME,
		started_at DATETIME,
		completed_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_core_executions_lane ON core_executions (lane, status, priority)`,
	`CREATE INDEX IF NOT EXISTS idx_core_executions_status ON core_executions (status)`,
	`CREATE INDEX IF NOT EXISTS idx_core_executions_parent ON core_executions (parent_run_id)`,
	`CREATE TABLE IF NOT EXISTS core_execution_events (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		type TEXT NOT NULL,
		message TEXT,
		data TEXT,
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_core_execution_events_run ON core_execution_events (run_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS core_dead_letters (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		work_spec_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		name TEXT NOT NULL,
		error_message TEXT,
		payload TEXT,
		retry_count INTEGER NOT NULL DEFAULT 0,
		resolved INTEGER NOT NULL DEFAULT 0,
		resolved_by TEXT,
		resolved_at DATETIME,
		requeued INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS core_concurrency_locks (
		lock_key TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		acquired_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS core_schedules (
		id TEXT PRIMARY KEY,
		name TEXT UNIQUE NOT NULL,
		kind TEXT NOT NULL,
		cron_expr TEXT,
		interval_seconds INTEGER,
		run_at DATETIME,
		timezone TEXT NOT NULL DEFAULT 'UTC',
		work_kind TEXT NOT NULL,
		work_name TEXT NOT NULL,
		payload TEXT,
		max_retries INTEGER NOT NULL DEFAULT 0,
		timeout_seconds INTEGER NOT NULL DEFAULT 0,
		misfire_grace_seconds INTEGER NOT NULL DEFAULT 0,
		misfire_policy TEXT NOT NULL DEFAULT 'skip',
		paused INTEGER NOT NULL DEFAULT 0,
		next_run_at DATETIME NOT NULL,
		last_run_at DATETIME,
		version INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_core_schedules_due ON core_schedules (paused, next_run_at)`,
	`CREATE TABLE IF NOT EXISTS core_schedule_runs (
		id TEXT PRIMARY KEY,
		schedule_id TEXT NOT NULL,
		run_id TEXT,
		scheduled_at DATETIME NOT NULL,
		started_at DATETIME,
		completed_at DATETIME,
		status TEXT NOT NULL,
		error_message TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_core_schedule_runs_schedule ON core_schedule_runs (schedule_id, scheduled_at DESC)`,
}

// Apply runs every core DDL statement, idempotently (CREATE TABLE/INDEX
// IF NOT EXISTS), against db.
func Apply(ctx context.Context, db *sql.DB) error {
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement: %w", err)
		}
	}
	return nil
}
