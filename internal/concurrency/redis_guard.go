package concurrency

import (
	"context"
	"time"

	"github.com/ryansmccoy/spine-core-sub000/internal/domain"
	storeredis "github.com/ryansmccoy/spine-core-sub000/internal/store/redis"
)

// RedisGuard implements the same lock contract as Guard (including a
// re-entrant Acquire by the current owner) but over Redis SET NX with a
// TTL, EXPIRE to refresh, and an owner-checked delete instead of a SQL
// table — used when the
// deployment already runs Redis for the broker executor and operators
// would rather not add lock traffic to the primary database.
type RedisGuard struct {
	client *storeredis.Client
}

func NewRedis(client *storeredis.Client) *RedisGuard {
	return &RedisGuard{client: client}
}

func (g *RedisGuard) Acquire(ctx context.Context, key, owner string, ttl time.Duration) error {
	ok, err := g.client.TryAcquire(ctx, key, owner, ttl)
	if err != nil {
		return err
	}
	if !ok {
		current, err := g.client.Owner(ctx, key)
		if err != nil {
			return err
		}
		if current != owner {
			return &domain.ConcurrencyLockConflict{Key: key}
		}
		// Re-entrant call: refresh the TTL instead of reporting a conflict.
		extended, err := g.client.Extend(ctx, key, ttl)
		if err != nil {
			return err
		}
		if !extended {
			return &domain.ConcurrencyLockConflict{Key: key}
		}
	}
	return nil
}

func (g *RedisGuard) Release(ctx context.Context, key, owner string) error {
	_, err := g.client.ReleaseIfOwner(ctx, key, owner)
	return err
}

func (g *RedisGuard) Extend(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	current, err := g.client.Owner(ctx, key)
	if err != nil {
		return false, err
	}
	if current != owner {
		return false, nil
	}
	return g.client.Extend(ctx, key, ttl)
}

func (g *RedisGuard) IsLocked(ctx context.Context, key string) (bool, error) {
	owner, err := g.client.Owner(ctx, key)
	if err != nil {
		return false, err
	}
	return owner != "", nil
}
