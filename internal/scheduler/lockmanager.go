package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ryansmccoy/spine-core-sub000/internal/concurrency"
	"github.com/ryansmccoy/spine-core-sub000/internal/domain"
)

// LockManager wraps a concurrency.Guard to give each scheduler tick
// exclusive ownership of the "dispatch due schedules" critical section —
// the same table backs both a tracked execution's lock and a scheduler
// tick's lock, distinguished only by key prefix.
type LockManager struct {
	guard *concurrency.Guard
	owner string
	ttl   time.Duration
}

func NewLockManager(guard *concurrency.Guard, owner string, ttl time.Duration) *LockManager {
	return &LockManager{guard: guard, owner: owner, ttl: ttl}
}

const tickLockKey = "scheduler:tick"

// AcquireTick attempts to take the scheduler-wide tick lock, returning
// false (not an error) if another scheduler instance already holds it —
// only one scheduler process should ever be dispatching at a time.
func (m *LockManager) AcquireTick(ctx context.Context) (bool, error) {
	if err := m.guard.Acquire(ctx, tickLockKey, m.owner, m.ttl); err != nil {
		if isConflict(err) {
			return false, nil
		}
		return false, fmt.Errorf("acquire tick lock: %w", err)
	}
	return true, nil
}

func (m *LockManager) ReleaseTick(ctx context.Context) error {
	return m.guard.Release(ctx, tickLockKey, m.owner)
}

func isConflict(err error) bool {
	var conflict *domain.ConcurrencyLockConflict
	return errors.As(err, &conflict)
}
