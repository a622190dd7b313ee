package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ryansmccoy/spine-core-sub000/internal/store"
)

// Pool adapts a *pgxpool.Pool to the store.Conn contract.
type Pool struct {
	pool *pgxpool.Pool
}

// Wrap returns a store.Conn backed by an already-constructed pool (see
// NewPool for the pool's connection settings).
func Wrap(pool *pgxpool.Pool) *Pool {
	return &Pool{pool: pool}
}

func (p *Pool) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := p.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, translateErr(err)
	}
	return tag.RowsAffected(), nil
}

func (p *Pool) Query(ctx context.Context, sql string, args ...any) (store.Rows, error) {
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, translateErr(err)
	}
	return &rowsAdapter{rows}, nil
}

func (p *Pool) QueryRow(ctx context.Context, sql string, args ...any) store.Row {
	return p.pool.QueryRow(ctx, sql, args...)
}

func (p *Pool) Begin(ctx context.Context) (store.Tx, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, translateErr(err)
	}
	return &txAdapter{tx}, nil
}

type rowsAdapter struct{ pgx.Rows }

func (r *rowsAdapter) Close() error {
	r.Rows.Close()
	return nil
}

type txAdapter struct{ tx pgx.Tx }

func (t *txAdapter) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return 0, translateErr(err)
	}
	return tag.RowsAffected(), nil
}

func (t *txAdapter) Query(ctx context.Context, sql string, args ...any) (store.Rows, error) {
	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, translateErr(err)
	}
	return &rowsAdapter{rows}, nil
}

func (t *txAdapter) QueryRow(ctx context.Context, sql string, args ...any) store.Row {
	return t.tx.QueryRow(ctx, sql, args...)
}

func (t *txAdapter) Commit(ctx context.Context) error   { return translateErr(t.tx.Commit(ctx)) }
func (t *txAdapter) Rollback(ctx context.Context) error { return translateErr(t.tx.Rollback(ctx)) }

// translateErr maps pgx/pgconn errors into the package's own sentinel
// shapes where a caller needs to branch on them (unique violation).
func translateErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if ok := asPgError(err, &pgErr); ok && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", store.ErrUniqueViolation, pgErr.ConstraintName)
	}
	return err
}

func asPgError(err error, target **pgconn.PgError) bool {
	for err != nil {
		if pe, ok := err.(*pgconn.PgError); ok {
			*target = pe
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// dialect is the Postgres-flavored store.Dialect.
type dialect struct{}

// Dialect is the shared Postgres store.Dialect instance.
var Dialect store.Dialect = dialect{}

func (dialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }
func (dialect) Now() string              { return "now()" }
func (dialect) BoolLiteral(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func (dialect) UpsertClause(conflictCols, updateCols []string) string {
	if len(updateCols) == 0 {
		return fmt.Sprintf("ON CONFLICT (%s) DO NOTHING", strings.Join(conflictCols, ", "))
	}
	sets := make([]string, len(updateCols))
	for i, c := range updateCols {
		sets[i] = fmt.Sprintf("%s = EXCLUDED.%s", c, c)
	}
	return fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(conflictCols, ", "), strings.Join(sets, ", "))
}
