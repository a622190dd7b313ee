// scheduler runs the cron/interval/date tick service: it owns no
// executor and invokes no handler directly — each due schedule is
// queued as a plain run for a cmd/worker process (possibly replicated,
// possibly on another host) to claim.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ryansmccoy/spine-core-sub000/config"
	"github.com/ryansmccoy/spine-core-sub000/internal/concurrency"
	"github.com/ryansmccoy/spine-core-sub000/internal/domain"
	"github.com/ryansmccoy/spine-core-sub000/internal/health"
	"github.com/ryansmccoy/spine-core-sub000/internal/ledger"
	ctxlog "github.com/ryansmccoy/spine-core-sub000/internal/log"
	"github.com/ryansmccoy/spine-core-sub000/internal/metrics"
	"github.com/ryansmccoy/spine-core-sub000/internal/scheduler"
	"github.com/ryansmccoy/spine-core-sub000/internal/store"
	"github.com/ryansmccoy/spine-core-sub000/internal/store/postgres"
	"github.com/ryansmccoy/spine-core-sub000/internal/store/sqlite"
	"github.com/ryansmccoy/spine-core-sub000/internal/store/sqlite/schema"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	conn, dialect, pinger, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		stop()
		log.Fatalf("store: %v", err)
	}
	defer closeStore()

	metrics.Register()

	led := ledger.New(conn, dialect)
	guard := concurrency.New(conn)
	repo := scheduler.NewRepository(conn, logger)

	hostname, _ := os.Hostname()
	owner := fmt.Sprintf("scheduler-%s-%d", hostname, os.Getpid())
	locks := scheduler.NewLockManager(guard, owner, time.Duration(cfg.SchedulerLockTTLSec)*time.Second)

	svc := scheduler.NewService(
		scheduler.NewTickerBackend(time.Duration(cfg.SchedulerTickIntervalSec)*time.Second),
		repo, locks, &queueOnlySubmitter{ledger: led}, cfg.ClaimBatchSize, logger,
	)

	checker := health.NewChecker(logger, prometheus.DefaultRegisterer)
	checker.Register("store", health.PingCheck(pinger))
	checker.Register("scheduler_tick_age", schedulerTickCheck(svc, 2*time.Duration(cfg.SchedulerTickIntervalSec)*time.Second))

	go svc.Run(ctx)

	metricsSrv := metrics.NewServer(":" + cfg.MetricsPort)
	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Liveness(r.Context()))
	})
	healthMux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Readiness(r.Context()))
	})
	healthSrv := &http.Server{Addr: ":" + cfg.Port, Handler: healthMux}
	go func() {
		logger.Info("health server started", "port", cfg.Port)
		if err := healthSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("health server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	_ = healthSrv.Shutdown(shutdownCtx)

	logger.Info("scheduler shut down")
}

// queueOnlySubmitter implements scheduler.Submitter by creating a run
// and advancing it straight to QUEUED — execution is left to whatever
// cmd/worker processes are polling the same backing store.
type queueOnlySubmitter struct{ ledger *ledger.Ledger }

func (s *queueOnlySubmitter) Submit(ctx context.Context, spec domain.WorkSpec) (*domain.RunRecord, error) {
	run, created, err := s.ledger.CreateRun(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("create scheduled run: %w", err)
	}
	if !created {
		return run, nil
	}
	if _, err := s.ledger.TransitionStatus(ctx, run.ID, domain.StatusPending, domain.StatusQueued, nil); err != nil {
		return nil, fmt.Errorf("queue scheduled run: %w", err)
	}
	if err := s.ledger.RecordEvent(ctx, run.ID, domain.EventQueued, "", nil); err != nil {
		return nil, fmt.Errorf("record queued event: %w", err)
	}
	run.Status = domain.StatusQueued
	return run, nil
}

func schedulerTickCheck(svc *scheduler.Service, maxAge time.Duration) health.Check {
	return func(context.Context) health.CheckResult {
		h := svc.Health(maxAge)
		if !h.Healthy {
			msg := ""
			if h.UnresolvedErr != nil {
				msg = h.UnresolvedErr.Error()
			}
			return health.CheckResult{Status: health.StatusDegraded, Error: msg}
		}
		return health.CheckResult{Status: health.StatusUp}
	}
}

func writeHealth(w http.ResponseWriter, result health.Result) {
	status := http.StatusOK
	if result.Status == health.StatusDown {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"status":"` + string(result.Status) + `"}`))
}

func openStore(ctx context.Context, cfg *config.Config) (store.Conn, store.Dialect, health.Pinger, func(), error) {
	switch cfg.Backend {
	case "sqlite":
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		if err := schema.Apply(ctx, db); err != nil {
			return nil, nil, nil, nil, err
		}
		return sqlite.Wrap(db), sqlite.Dialect, sqlPinger{db}, func() { _ = db.Close() }, nil
	default:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		return postgres.Wrap(pool), postgres.Dialect, pool, func() { pool.Close() }, nil
	}
}

type sqlPinger struct{ db interface{ PingContext(context.Context) error } }

func (p sqlPinger) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
