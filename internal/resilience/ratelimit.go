package resilience

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter gates calls by some policy; Acquire blocks (respecting
// ctx) until n tokens are available, or returns false immediately if
// block is false and none are currently available.
type RateLimiter interface {
	Acquire(ctx context.Context, n int, block bool) (bool, error)
}

// TokenBucketLimiter wraps golang.org/x/time/rate, translating its
// Reserve-based API into the acquire(tokens, block) contract.
type TokenBucketLimiter struct {
	limiter *rate.Limiter
}

func NewTokenBucketLimiter(refillPerSecond float64, burst int) *TokenBucketLimiter {
	return &TokenBucketLimiter{limiter: rate.NewLimiter(rate.Limit(refillPerSecond), burst)}
}

func (l *TokenBucketLimiter) Acquire(ctx context.Context, n int, block bool) (bool, error) {
	if !block {
		return l.limiter.AllowN(time.Now(), n), nil
	}
	if err := l.limiter.WaitN(ctx, n); err != nil {
		return false, err
	}
	return true, nil
}

// SlidingWindowLimiter admits at most Max calls in any rolling Window.
// Unlike TokenBucketLimiter it never allows a burst beyond Max even
// immediately after idle time, which token-bucket refill would permit.
type SlidingWindowLimiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	hits   []time.Time
	now    func() time.Time
}

func NewSlidingWindowLimiter(max int, window time.Duration) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{max: max, window: window, now: time.Now}
}

func (l *SlidingWindowLimiter) Acquire(ctx context.Context, n int, block bool) (bool, error) {
	for {
		l.mu.Lock()
		now := l.now()
		cutoff := now.Add(-l.window)
		kept := l.hits[:0]
		for _, h := range l.hits {
			if h.After(cutoff) {
				kept = append(kept, h)
			}
		}
		l.hits = kept
		if len(l.hits)+n <= l.max {
			for i := 0; i < n; i++ {
				l.hits = append(l.hits, now)
			}
			l.mu.Unlock()
			return true, nil
		}
		l.mu.Unlock()
		if !block {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(l.window / 10):
		}
	}
}

// KeyedRateLimiter applies an independent limiter instance per key
// (e.g. one token bucket per downstream tenant), created lazily.
type KeyedRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]RateLimiter
	factory  func(key string) RateLimiter
}

func NewKeyedRateLimiter(factory func(key string) RateLimiter) *KeyedRateLimiter {
	return &KeyedRateLimiter{limiters: make(map[string]RateLimiter), factory: factory}
}

func (k *KeyedRateLimiter) Acquire(ctx context.Context, key string, n int, block bool) (bool, error) {
	k.mu.Lock()
	l, ok := k.limiters[key]
	if !ok {
		l = k.factory(key)
		k.limiters[key] = l
	}
	k.mu.Unlock()
	return l.Acquire(ctx, n, block)
}

// CompositeRateLimiter admits a call only if every child limiter admits
// it — used to stack, say, a global limiter with a per-tenant one.
type CompositeRateLimiter struct {
	children []RateLimiter
}

func NewCompositeRateLimiter(children ...RateLimiter) *CompositeRateLimiter {
	return &CompositeRateLimiter{children: children}
}

func (c *CompositeRateLimiter) Acquire(ctx context.Context, n int, block bool) (bool, error) {
	for _, child := range c.children {
		ok, err := child.Acquire(ctx, n, block)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}
