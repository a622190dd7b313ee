package resilience

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned by AllowRequest when the breaker is tripped
// and not yet ready to probe the half-open state, or is half-open with
// HalfOpenMaxCalls probe calls already in flight.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker decouples the gate/record steps that gobreaker's
// Execute bundles into one call, which is required here because a
// tracked execution acquires the gate, runs arbitrary handler code, and
// only then reports success/failure — often across goroutines.
// It is driven internally by a gobreaker.TwoStepCircuitBreaker, which is
// the one gobreaker shape that does expose Allow/done separately.
type CircuitBreaker struct {
	name string
	tsc  *gobreaker.TwoStepCircuitBreaker
}

type CircuitBreakerConfig struct {
	Name             string
	FailureThreshold uint32
	RecoveryTimeout  time.Duration
	SuccessThreshold uint32
	HalfOpenMaxCalls uint32
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	st := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenMaxCalls,
		Timeout:     cfg.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
	}
	return &CircuitBreaker{name: cfg.Name, tsc: gobreaker.NewTwoStepCircuitBreaker(st)}
}

// AllowRequest checks whether a call may proceed. On success it returns
// a done func that MUST be called exactly once with the outcome.
func (cb *CircuitBreaker) AllowRequest() (done func(success bool), err error) {
	done, err = cb.tsc.Allow()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, cb.name)
	}
	return done, nil
}

// State exposes the breaker's current gobreaker state for health checks
// and metrics.
func (cb *CircuitBreaker) State() gobreaker.State { return cb.tsc.State() }

// BreakerRegistry is a named collection of breakers, one per downstream
// dependency (kind:name pairs, external services).
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	factory  func(name string) CircuitBreakerConfig
}

func NewBreakerRegistry(factory func(name string) CircuitBreakerConfig) *BreakerRegistry {
	return &BreakerRegistry{breakers: make(map[string]*CircuitBreaker), factory: factory}
}

// Get returns the breaker for name, creating it with the registry's
// factory on first use.
func (r *BreakerRegistry) Get(name string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	cb := NewCircuitBreaker(r.factory(name))
	r.breakers[name] = cb
	return cb
}
