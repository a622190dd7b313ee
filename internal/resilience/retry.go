// Package resilience collects the cross-cutting fault-tolerance
// primitives used around handler execution: retry backoff policies,
// a circuit breaker, rate limiters and timeout/deadline helpers.
package resilience

import (
	"math"
	"math/rand"
	"time"
)

// RetryStrategy decides whether a failed attempt should be retried and,
// if so, how long to wait before the next one.
type RetryStrategy interface {
	ShouldRetry(attempt int, err error) bool
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff doubles the delay each attempt, capped at Max, with
// +/-Jitter fractional randomization to avoid thundering-herd retries.
type ExponentialBackoff struct {
	Base       time.Duration
	Max        time.Duration
	MaxRetries int
	Jitter     float64 // 0..1, fraction of the computed delay to randomize
}

func (b ExponentialBackoff) ShouldRetry(attempt int, _ error) bool {
	return attempt < b.MaxRetries
}

func (b ExponentialBackoff) NextDelay(attempt int) time.Duration {
	d := float64(b.Base) * math.Pow(2, float64(attempt))
	if d > float64(b.Max) {
		d = float64(b.Max)
	}
	if b.Jitter > 0 {
		delta := d * b.Jitter
		d = d - delta + rand.Float64()*2*delta
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// LinearBackoff grows the delay by a fixed Step each attempt.
type LinearBackoff struct {
	Base       time.Duration
	Step       time.Duration
	Max        time.Duration
	MaxRetries int
}

func (b LinearBackoff) ShouldRetry(attempt int, _ error) bool {
	return attempt < b.MaxRetries
}

func (b LinearBackoff) NextDelay(attempt int) time.Duration {
	d := b.Base + b.Step*time.Duration(attempt)
	if d > b.Max {
		return b.Max
	}
	return d
}

// ConstantBackoff always waits the same Delay between attempts.
type ConstantBackoff struct {
	Delay      time.Duration
	MaxRetries int
}

func (b ConstantBackoff) ShouldRetry(attempt int, _ error) bool { return attempt < b.MaxRetries }
func (b ConstantBackoff) NextDelay(int) time.Duration           { return b.Delay }

// NoRetry never retries — used for handlers whose side effects are not
// safe to repeat.
type NoRetry struct{}

func (NoRetry) ShouldRetry(int, error) bool   { return false }
func (NoRetry) NextDelay(int) time.Duration   { return 0 }

// RetryContext tracks the running state of one run's retry attempts.
type RetryContext struct {
	Attempt int
	Started time.Time
	Errors  []error
}

func NewRetryContext() *RetryContext {
	return &RetryContext{Started: time.Now()}
}

// Elapsed is how long this run has been retrying in total.
func (c *RetryContext) Elapsed() time.Duration { return time.Since(c.Started) }

// RecordFailure appends err to the history and advances Attempt.
func (c *RetryContext) RecordFailure(err error) {
	c.Errors = append(c.Errors, err)
	c.Attempt++
}

// LastError returns the most recent recorded error, or nil if none.
func (c *RetryContext) LastError() error {
	if len(c.Errors) == 0 {
		return nil
	}
	return c.Errors[len(c.Errors)-1]
}
