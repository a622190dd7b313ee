// Package health rolls up a set of named checks — database
// reachability, DLQ depth, stale runs, recent failure rate, active lock
// count — into a single worst-of status for liveness/readiness probes.
package health

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Pinger is satisfied by *pgxpool.Pool and the sqlite/redis wrappers.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Status string

const (
	StatusUp       Status = "up"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

func worse(a, b Status) Status {
	rank := map[Status]int{StatusUp: 0, StatusDegraded: 1, StatusDown: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// CheckResult is the outcome of one named check.
type CheckResult struct {
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Result is the top-level health response: worst-of across all checks.
type Result struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Check is a single named health probe.
type Check func(ctx context.Context) CheckResult

// Checker runs a named set of Checks and rolls them up.
type Checker struct {
	checks map[string]Check
	logger *slog.Logger
	gauge  *prometheus.GaugeVec
}

func NewChecker(logger *slog.Logger, reg prometheus.Registerer) *Checker {
	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "spine",
		Name:      "health_check_up",
		Help:      "Whether a named health check is passing. 1 = up, 0.5 = degraded, 0 = down.",
	}, []string{"check"})
	reg.MustRegister(gauge)

	return &Checker{checks: make(map[string]Check), logger: logger.With("component", "health"), gauge: gauge}
}

// Register installs a named check, replacing any existing one with the
// same name.
func (c *Checker) Register(name string, check Check) {
	c.checks[name] = check
}

// Liveness reports "up" unconditionally — the process is running, full
// stop. Distinguished from Readiness which also verifies dependencies.
func (c *Checker) Liveness(_ context.Context) Result {
	return Result{Status: StatusUp}
}

// Readiness runs every registered check with a bounded per-check timeout
// and returns the worst status across all of them.
func (c *Checker) Readiness(ctx context.Context) Result {
	result := Result{Status: StatusUp, Checks: make(map[string]CheckResult)}

	for name, check := range c.checks {
		checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		res := check(checkCtx)
		cancel()

		result.Checks[name] = res
		result.Status = worse(result.Status, res.Status)

		var value float64
		switch res.Status {
		case StatusUp:
			value = 1
		case StatusDegraded:
			value = 0.5
		case StatusDown:
			value = 0
		}
		c.gauge.WithLabelValues(name).Set(value)

		if res.Status != StatusUp {
			c.logger.Warn("health check not up", "check", name, "status", res.Status, "error", res.Error)
		}
	}
	return result
}

// PingCheck adapts a Pinger (database pool) into a Check.
func PingCheck(p Pinger) Check {
	return func(ctx context.Context) CheckResult {
		if err := p.Ping(ctx); err != nil {
			return CheckResult{Status: StatusDown, Error: err.Error()}
		}
		return CheckResult{Status: StatusUp}
	}
}

// ThresholdCheck reports degraded/down based on a counted quantity
// (DLQ depth, stale-running count) crossing warn/critical thresholds —
// used for dlq.Manager.CountUnresolved and similar gauges.
func ThresholdCheck(count func(ctx context.Context) (int64, error), warn, critical int64) Check {
	return func(ctx context.Context) CheckResult {
		n, err := count(ctx)
		if err != nil {
			return CheckResult{Status: StatusDown, Error: err.Error()}
		}
		switch {
		case n >= critical:
			return CheckResult{Status: StatusDown}
		case n >= warn:
			return CheckResult{Status: StatusDegraded}
		default:
			return CheckResult{Status: StatusUp}
		}
	}
}
