// worker runs the poll-claim-execute loop against the configured backing
// store, a Prometheus metrics server and a liveness/readiness HTTP
// endpoint. Handlers are registered by the embedding application before
// Start is called; this binary ships with none of its own. Schedule
// fires are produced by cmd/scheduler as plain QUEUED runs — this
// process only claims and executes them.
package main

import (
	"context"
	"database/sql"
	"errors"
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
	"github.com/ryansmccoy/spine-core-sub000/internal/dlq"
	"github.com/ryansmccoy/spine-core-sub000/internal/health"
	"github.com/ryansmccoy/spine-core-sub000/internal/ledger"
	ctxlog "github.com/ryansmccoy/spine-core-sub000/internal/log"
	"github.com/ryansmccoy/spine-core-sub000/internal/metrics"
	"github.com/ryansmccoy/spine-core-sub000/internal/notify"
	"github.com/ryansmccoy/spine-core-sub000/internal/registry"
	"github.com/ryansmccoy/spine-core-sub000/internal/store"
	"github.com/ryansmccoy/spine-core-sub000/internal/store/postgres"
	"github.com/ryansmccoy/spine-core-sub000/internal/store/sqlite"
	"github.com/ryansmccoy/spine-core-sub000/internal/store/sqlite/schema"
	"github.com/ryansmccoy/spine-core-sub000/internal/worker"
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

	reg := registry.Default()
	led := ledger.New(conn, dialect)
	notifier := notify.New(cfg.ResendAPIKey, cfg.ResendFrom, cfg.AlertTo, logger)
	dlqManager := dlq.New(conn, dlq.WithNotifier(notifier))

	w := worker.New(led, reg, conn, dlqManager,
		time.Duration(cfg.PollIntervalSec)*time.Second,
		time.Duration(cfg.HeartbeatIntervalSec)*time.Second,
		cfg.WorkerConcurrency, logger)

	checker := health.NewChecker(logger, prometheus.DefaultRegisterer)
	checker.Register("store", health.PingCheck(pinger))
	checker.Register("dlq_depth", health.ThresholdCheck(dlqManager.CountUnresolved, 50, 500))

	go func() {
		if err := w.Start(ctx, 30*time.Second); err != nil {
			logger.Info("worker loop stopped", "error", err)
		}
	}()

	go runDLQCleanup(ctx, dlqManager, time.Duration(cfg.DLQRetentionDays)*24*time.Hour, logger)

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

	metrics.WorkerStartTime.SetToCurrentTime()
	<-ctx.Done()
	stop()
	metrics.WorkerShutdownsTotal.Inc()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	_ = healthSrv.Shutdown(shutdownCtx)

	logger.Info("worker shut down")
}

// runDLQCleanup purges resolved dead letters older than retention once a
// day until ctx is cancelled.
func runDLQCleanup(ctx context.Context, d *dlq.Manager, retention time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := d.CleanupResolved(ctx, retention)
			if err != nil {
				logger.Error("dlq cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("dlq cleanup purged resolved dead letters", "count", n)
			}
		}
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

type sqlPinger struct{ db *sql.DB }

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
