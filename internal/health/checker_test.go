package health_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ryansmccoy/spine-core-sub000/internal/health"
)

type mockPinger struct{ err error }

func (m *mockPinger) Ping(_ context.Context) error { return m.err }

func newTestChecker() (*health.Checker, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return health.NewChecker(slog.Default(), reg), reg
}

func TestLivenessAlwaysUp(t *testing.T) {
	c, _ := newTestChecker()
	result := c.Liveness(context.Background())
	if result.Status != health.StatusUp {
		t.Fatalf("expected up, got %s", result.Status)
	}
}

func TestReadinessAggregatesWorstCheck(t *testing.T) {
	c, _ := newTestChecker()
	c.Register("db", health.PingCheck(&mockPinger{}))
	c.Register("dlq_depth", health.ThresholdCheck(func(context.Context) (int64, error) { return 50, nil }, 10, 100))

	result := c.Readiness(context.Background())
	if result.Status != health.StatusDegraded {
		t.Fatalf("expected degraded due to dlq_depth, got %s", result.Status)
	}
	if result.Checks["db"].Status != health.StatusUp {
		t.Fatalf("expected db up, got %s", result.Checks["db"].Status)
	}
}

func TestReadinessDownWhenDBUnreachable(t *testing.T) {
	c, _ := newTestChecker()
	c.Register("db", health.PingCheck(&mockPinger{err: errors.New("connection refused")}))

	result := c.Readiness(context.Background())
	if result.Status != health.StatusDown {
		t.Fatalf("expected down, got %s", result.Status)
	}
	if result.Checks["db"].Error == "" {
		t.Fatal("expected error message on db check")
	}
}
