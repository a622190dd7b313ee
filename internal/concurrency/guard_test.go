package concurrency

import (
	"context"
	"testing"
	"time"

	"github.com/ryansmccoy/spine-core-sub000/internal/domain"
	"github.com/ryansmccoy/spine-core-sub000/internal/store/sqlite"
	sqlitemigrate "github.com/ryansmccoy/spine-core-sub000/internal/store/sqlite/schema"
)

func newTestGuard(t *testing.T) *Guard {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := sqlitemigrate.Apply(context.Background(), db); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return New(sqlite.Wrap(db))
}

func TestAcquireConflictsWithADifferentOwner(t *testing.T) {
	g := newTestGuard(t)
	ctx := context.Background()

	if err := g.Acquire(ctx, "tick", "owner-a", time.Minute); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	err := g.Acquire(ctx, "tick", "owner-b", time.Minute)
	var conflict *domain.ConcurrencyLockConflict
	if err == nil {
		t.Fatalf("expected conflict for a different owner, got nil")
	}
	if !isConflictErr(err, &conflict) {
		t.Fatalf("expected *domain.ConcurrencyLockConflict, got %T (%v)", err, err)
	}
}

func TestAcquireRefreshesOnReentrantCall(t *testing.T) {
	g := newTestGuard(t)
	ctx := context.Background()

	if err := g.Acquire(ctx, "tick", "owner-a", time.Millisecond); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	// Same owner re-acquiring the same key before the TTL refresh would
	// previously always fail on the unique-constraint hit.
	if err := g.Acquire(ctx, "tick", "owner-a", time.Minute); err != nil {
		t.Fatalf("expected re-entrant acquire to succeed, got: %v", err)
	}

	locked, err := g.IsLocked(ctx, "tick")
	if err != nil {
		t.Fatalf("is locked: %v", err)
	}
	if !locked {
		t.Fatalf("expected lock to still be held after refresh")
	}
}

func isConflictErr(err error, target **domain.ConcurrencyLockConflict) bool {
	conflict, ok := err.(*domain.ConcurrencyLockConflict)
	if ok {
		*target = conflict
	}
	return ok
}
