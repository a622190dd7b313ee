// Package sqlite adapts modernc.org/sqlite (pure Go, no cgo) to the
// store.Conn/store.Dialect contract for single-binary and test deployments.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/ryansmccoy/spine-core-sub000/internal/store"
)

// Open returns a *sql.DB against a local SQLite file (or ":memory:").
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows exactly one writer; serialize through a single conn
	// so concurrent goroutines don't trip "database is locked".
	db.SetMaxOpenConns(1)
	return db, nil
}

// DB adapts a *sql.DB to store.Conn.
type DB struct {
	db *sql.DB
}

func Wrap(db *sql.DB) *DB { return &DB{db: db} }

func (d *DB) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, translateErr(err)
	}
	return res.RowsAffected()
}

func (d *DB) Query(ctx context.Context, query string, args ...any) (store.Rows, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translateErr(err)
	}
	return rows, nil
}

func (d *DB) QueryRow(ctx context.Context, query string, args ...any) store.Row {
	return d.db.QueryRowContext(ctx, query, args...)
}

func (d *DB) Begin(ctx context.Context) (store.Tx, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, translateErr(err)
	}
	return &txAdapter{tx}, nil
}

type txAdapter struct{ tx *sql.Tx }

func (t *txAdapter) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, translateErr(err)
	}
	return res.RowsAffected()
}

func (t *txAdapter) Query(ctx context.Context, query string, args ...any) (store.Rows, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translateErr(err)
	}
	return rows, nil
}

func (t *txAdapter) QueryRow(ctx context.Context, query string, args ...any) store.Row {
	return t.tx.QueryRowContext(ctx, query, args...)
}

func (t *txAdapter) Commit(ctx context.Context) error   { return t.tx.Commit() }
func (t *txAdapter) Rollback(ctx context.Context) error { return t.tx.Rollback() }

func translateErr(err error) error {
	if err == nil {
		return nil
	}
	// modernc.org/sqlite surfaces constraint violations as a plain error
	// whose text contains "UNIQUE constraint failed" — there is no typed
	// error to compare against, so match the string the driver documents.
	msg := err.Error()
	if contains(msg, "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %s", store.ErrUniqueViolation, msg)
	}
	return err
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

// sqliteDialect is the SQLite-flavored store.Dialect.
type sqliteDialect struct{}

var Dialect store.Dialect = sqliteDialect{}

func (sqliteDialect) Placeholder(int) string { return "?" }
func (sqliteDialect) Now() string            { return "strftime('%Y-%m-%dT%H:%M:%fZ','now')" }
func (sqliteDialect) BoolLiteral(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func (sqliteDialect) UpsertClause(conflictCols, updateCols []string) string {
	if len(updateCols) == 0 {
		return "ON CONFLICT DO NOTHING"
	}
	sets := ""
	for i, c := range updateCols {
		if i > 0 {
			sets += ", "
		}
		sets += c + " = excluded." + c
	}
	return "ON CONFLICT (" + join(conflictCols) + ") DO UPDATE SET " + sets
}

func join(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}
