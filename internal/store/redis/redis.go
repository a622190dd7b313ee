// Package redis wraps github.com/redis/go-redis/v9 for the components
// that can run against Redis instead of a SQL backing store: the
// concurrency guard (SET NX locks with a TTL, EXPIRE to extend) and the
// broker executor (list-based queues).
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client is a thin handle around *redis.Client exposing just the
// primitives the rest of the module needs.
type Client struct {
	rdb *redis.Client
}

func New(addr string) *Client {
	return &Client{rdb: redis.NewClient(&redis.Options{Addr: addr})}
}

// Raw exposes the underlying client for callers that need it directly
// (health checks pinging Redis).
func (c *Client) Raw() *redis.Client { return c.rdb }

// TryAcquire attempts to set key to owner with the given TTL, succeeding
// only if key is currently unset (SET NX).
func (c *Client) TryAcquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

// Owner returns the current value stored at key, or "" if unset.
func (c *Client) Owner(ctx context.Context, key string) (string, error) {
	v, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get: %w", err)
	}
	return v, nil
}

// Extend resets key's TTL, failing silently (returns false) if key is
// no longer present (expired or released by someone else).
func (c *Client) Extend(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.Expire(ctx, key, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis expire: %w", err)
	}
	return ok, nil
}

// ReleaseIfOwner deletes key only if its current value equals owner,
// via a small Lua script to keep the check-then-delete atomic.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

func (c *Client) ReleaseIfOwner(ctx context.Context, key, owner string) (bool, error) {
	res, err := releaseScript.Run(ctx, c.rdb, []string{key}, owner).Int64()
	if err != nil {
		return false, fmt.Errorf("redis release: %w", err)
	}
	return res == 1, nil
}

// Push appends payload to the tail of a list-backed queue.
func (c *Client) Push(ctx context.Context, queue, payload string) error {
	if err := c.rdb.RPush(ctx, queue, payload).Err(); err != nil {
		return fmt.Errorf("redis rpush: %w", err)
	}
	return nil
}

// BlockingPop waits up to timeout for an item to appear on queue, per
// the classic Redis list-as-queue worker pattern.
func (c *Client) BlockingPop(ctx context.Context, queue string, timeout time.Duration) (string, error) {
	res, err := c.rdb.BLPop(ctx, timeout, queue).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis blpop: %w", err)
	}
	if len(res) < 2 {
		return "", nil
	}
	return res[1], nil
}
