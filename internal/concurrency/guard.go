// Package concurrency implements the TTL advisory lock every exclusive
// operation (a tracked execution, a scheduler tick) acquires before it
// runs. Locks are self-healing: an owner that crashes without releasing
// simply lets its lock expire, so there is no reliance on a clean exit
// path ever running.
package concurrency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ryansmccoy/spine-core-sub000/internal/domain"
	"github.com/ryansmccoy/spine-core-sub000/internal/store"
)

// Guard is a SQL-backed implementation of the lock contract.
type Guard struct {
	conn store.Conn
	now  func() time.Time
}

func New(conn store.Conn) *Guard {
	return &Guard{conn: conn, now: time.Now}
}

// Acquire attempts to take key for owner with the given ttl. It first
// reaps any expired row for key, then inserts; a unique-constraint
// failure on insert means a live row already exists for key. If that
// row's owner is us, it is a re-entrant call — refresh the expiry and
// succeed instead of reporting a conflict. Otherwise someone else holds
// the lock, reported as *domain.ConcurrencyLockConflict rather than a
// generic error.
func (g *Guard) Acquire(ctx context.Context, key, owner string, ttl time.Duration) error {
	now := g.now()

	if _, err := g.conn.Exec(ctx, `
		DELETE FROM core_concurrency_locks WHERE lock_key = $1 AND expires_at <= $2`,
		key, now); err != nil {
		return fmt.Errorf("reap expired lock: %w", err)
	}

	_, err := g.conn.Exec(ctx, `
		INSERT INTO core_concurrency_locks (lock_key, owner, acquired_at, expires_at)
		VALUES ($1,$2,$3,$4)`,
		key, owner, now, now.Add(ttl))
	if err == nil {
		return nil
	}
	if !isUniqueViolation(err) {
		return fmt.Errorf("insert lock: %w", err)
	}

	var existingOwner string
	row := g.conn.QueryRow(ctx, `SELECT owner FROM core_concurrency_locks WHERE lock_key = $1`, key)
	if scanErr := row.Scan(&existingOwner); scanErr != nil {
		// Row vanished between the failed insert and this read (released
		// or reaped concurrently) — the caller should just retry.
		return &domain.ConcurrencyLockConflict{Key: key}
	}
	if existingOwner != owner {
		return &domain.ConcurrencyLockConflict{Key: key}
	}

	affected, err := g.conn.Exec(ctx, `
		UPDATE core_concurrency_locks SET expires_at = $1
		WHERE lock_key = $2 AND owner = $3`, now.Add(ttl), key, owner)
	if err != nil {
		return fmt.Errorf("refresh lock: %w", err)
	}
	if affected == 0 {
		// Owner released between the read above and this update.
		return &domain.ConcurrencyLockConflict{Key: key}
	}
	return nil
}

// Release drops key, but only if owner still holds it — a lock extended
// or re-acquired by someone else after our TTL lapsed must not be
// clobbered by a late release call from the original owner.
func (g *Guard) Release(ctx context.Context, key, owner string) error {
	_, err := g.conn.Exec(ctx, `
		DELETE FROM core_concurrency_locks WHERE lock_key = $1 AND owner = $2`, key, owner)
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// Extend pushes out key's expiry, succeeding only while owner still
// holds it.
func (g *Guard) Extend(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	affected, err := g.conn.Exec(ctx, `
		UPDATE core_concurrency_locks SET expires_at = $1
		WHERE lock_key = $2 AND owner = $3`, g.now().Add(ttl), key, owner)
	if err != nil {
		return false, fmt.Errorf("extend lock: %w", err)
	}
	return affected == 1, nil
}

// IsLocked reports whether key currently has a live (unexpired) holder.
func (g *Guard) IsLocked(ctx context.Context, key string) (bool, error) {
	row := g.conn.QueryRow(ctx, `
		SELECT 1 FROM core_concurrency_locks WHERE lock_key = $1 AND expires_at > $2`, key, g.now())
	var one int
	if err := row.Scan(&one); err != nil {
		return false, nil //nolint:nilerr // no row means not locked
	}
	return true, nil
}

// CleanupExpired deletes every lock row past its TTL and reports how
// many were removed; intended to run periodically from a maintenance
// goroutine rather than relying solely on lazy reaping in Acquire.
func (g *Guard) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := g.conn.Exec(ctx, `DELETE FROM core_concurrency_locks WHERE expires_at <= $1`, g.now())
	if err != nil {
		return 0, fmt.Errorf("cleanup expired locks: %w", err)
	}
	return n, nil
}

func isUniqueViolation(err error) bool {
	return errors.Is(err, store.ErrUniqueViolation)
}
