package resilience

import (
	"context"
	"errors"
	"time"
)

// ErrDeadlineExceeded is returned by CheckDeadline when the nearest
// enclosing deadline has already passed.
var ErrDeadlineExceeded = errors.New("deadline exceeded")

// WithDeadline pushes a new deadline onto ctx, bounded by both d and any
// deadline already present on ctx — a nested call can only ever tighten
// the effective deadline, never loosen it.
func WithDeadline(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	deadline := time.Now().Add(d)
	if existing, ok := ctx.Deadline(); ok && existing.Before(deadline) {
		deadline = existing
	}
	return context.WithDeadline(ctx, deadline)
}

// CheckDeadline is a voluntary probe a long-running handler can call
// between units of work to bail out cooperatively instead of waiting
// for ctx.Done() to be noticed at the next blocking call.
func CheckDeadline(ctx context.Context) error {
	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrDeadlineExceeded
		}
		return ctx.Err()
	default:
		return nil
	}
}

// RunWithTimeout runs fn in a background goroutine and returns its error,
// or ErrDeadlineExceeded if d elapses first. fn is expected to observe
// ctx cancellation itself; RunWithTimeout does not forcibly kill it —
// Go has no safe primitive for that — so a fn that ignores ctx will keep
// running after this function returns (the goroutine leaks until fn
// itself exits).
func RunWithTimeout(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	ctx, cancel := WithDeadline(ctx, d)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrDeadlineExceeded
		}
		return ctx.Err()
	}
}
