// Package metrics defines every Prometheus series the module exports,
// following the teacher's per-component grouping and naming convention
// (Namespace "spine", one Register() call, a plain net/http /metrics
// server).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Ledger / dispatcher

	RunPickupLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "spine",
		Name:      "run_pickup_latency_seconds",
		Help:      "Time from run creation to a worker claiming it.",
		Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	RunExecutionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "spine",
		Name:      "run_execution_duration_seconds",
		Help:      "Duration of a run's handler execution.",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"kind", "name", "outcome"})

	RunsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "spine",
		Name:      "worker_runs_in_flight",
		Help:      "Number of runs currently being executed by this worker.",
	})

	RunsCompletedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spine",
		Name:      "runs_completed_total",
		Help:      "Total runs finished, by outcome.",
	}, []string{"outcome"})

	// DLQ

	DeadLettersTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "spine",
		Name:      "dead_letters_total",
		Help:      "Total runs captured to the dead-letter queue.",
	})

	DeadLettersUnresolved = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "spine",
		Name:      "dead_letters_unresolved",
		Help:      "Current count of unresolved dead letters.",
	})

	// Concurrency guard

	LocksHeld = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "spine",
		Name:      "concurrency_locks_held",
		Help:      "Current count of unexpired concurrency locks.",
	})

	LockConflictsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "spine",
		Name:      "concurrency_lock_conflicts_total",
		Help:      "Total lock acquisition attempts that lost the race.",
	})

	// Resilience

	CircuitBreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "spine",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state: 0=closed, 1=half_open, 2=open.",
	}, []string{"name"})

	RateLimiterRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spine",
		Name:      "rate_limiter_rejected_total",
		Help:      "Total calls rejected by a rate limiter.",
	}, []string{"limiter"})

	// Scheduler

	ScheduleDispatchedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spine",
		Name:      "schedule_dispatched_total",
		Help:      "Total schedule fires dispatched as a run.",
	}, []string{"misfired"})

	SchedulerTickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "spine",
		Name:      "scheduler_tick_duration_seconds",
		Help:      "Time taken for one scheduler tick.",
		Buckets:   prometheus.DefBuckets,
	})

	// Worker lifecycle

	WorkerStartTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "spine",
		Name:      "worker_start_time_seconds",
		Help:      "Unix timestamp when the worker started.",
	})

	WorkerShutdownsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "spine",
		Name:      "worker_shutdowns_total",
		Help:      "Number of times the worker has shut down.",
	})
)

func Register() {
	prometheus.MustRegister(
		RunPickupLatency,
		RunExecutionDuration,
		RunsInFlight,
		RunsCompletedTotal,
		DeadLettersTotal,
		DeadLettersUnresolved,
		LocksHeld,
		LockConflictsTotal,
		CircuitBreakerState,
		RateLimiterRejectedTotal,
		ScheduleDispatchedTotal,
		SchedulerTickDuration,
		WorkerStartTime,
		WorkerShutdownsTotal,
	)
}

func NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{Addr: addr, Handler: mux}
}
