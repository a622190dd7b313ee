// Package store defines the narrow backing-store contract every core
// package (ledger, concurrency, dlq, scheduler repository) is written
// against. Core SQL code never imports a concrete driver; the Conn and
// Dialect adapters live in store/postgres and store/sqlite, while
// store/redis wraps a Redis client for the Redis-backed lock guard and
// the broker executor.
package store

import (
	"context"
	"errors"
)

// ErrUniqueViolation is returned by Exec (on a Conn or a Tx) when an
// insert collides with a unique constraint (idempotency key, schedule
// name). Dialect adapters translate their driver-specific error into this
// sentinel so core packages never import a concrete driver; errors from a
// QueryRow Scan are passed through untranslated.
var ErrUniqueViolation = errors.New("unique constraint violation")

// Row is the result of a QueryRow call.
type Row interface {
	Scan(dest ...any) error
}

// Rows is the result of a Query call.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// Tx is an open transaction bound to the same contract as Conn, minus
// the ability to open a nested transaction.
type Tx interface {
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) Row
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Conn is the minimal SQL surface the core packages depend on.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (rowsAffected int64, err error)
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) Row
	Begin(ctx context.Context) (Tx, error)
}

// Dialect abstracts the SQL text that differs between backing stores:
// placeholder syntax, clock functions, conflict handling and boolean
// literals. The core packages write their SQL by hand with `$n`
// placeholders and do not call Dialect methods (ledger.New accepts a
// Dialect and stores it).
type Dialect interface {
	// Placeholder returns the positional parameter marker for arg index n
	// (1-based) — "$1" for Postgres, "?" for SQLite.
	Placeholder(n int) string

	// Now returns an expression yielding the current timestamp.
	Now() string

	// UpsertClause returns the conflict-handling suffix for an INSERT
	// that should become a no-op (or update) when conflictCols collide.
	UpsertClause(conflictCols []string, updateCols []string) string

	// BoolLiteral renders a boolean value in this dialect's literal form.
	BoolLiteral(b bool) string
}
