// seed submits a handful of demo task runs through the dispatcher against
// httpbin.org, exercising the full submit -> execute -> complete/fail
// path end to end. Run: go run ./cmd/seed
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"

	"github.com/ryansmccoy/spine-core-sub000/config"
	"github.com/ryansmccoy/spine-core-sub000/internal/dispatcher"
	"github.com/ryansmccoy/spine-core-sub000/internal/domain"
	"github.com/ryansmccoy/spine-core-sub000/internal/executor"
	"github.com/ryansmccoy/spine-core-sub000/internal/ledger"
	"github.com/ryansmccoy/spine-core-sub000/internal/registry"
	"github.com/ryansmccoy/spine-core-sub000/internal/store"
	"github.com/ryansmccoy/spine-core-sub000/internal/store/postgres"
	"github.com/ryansmccoy/spine-core-sub000/internal/store/redis"
	"github.com/ryansmccoy/spine-core-sub000/internal/store/sqlite"
	"github.com/ryansmccoy/spine-core-sub000/internal/store/sqlite/schema"
)

type httpRequestSpec struct {
	key     string
	url     string
	method  string
	retries int
	timeout int
}

var demoRequests = []httpRequestSpec{
	{"seed-001", "https://httpbin.org/post", "POST", 3, 30},
	{"seed-002", "https://httpbin.org/get", "GET", 3, 30},
	{"seed-003", "https://httpbin.org/status/500", "POST", 3, 30},
	{"seed-004", "https://httpbin.org/status/404", "GET", 1, 30},
	{"seed-005", "https://httpbin.org/delay/35", "GET", 2, 5},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	reg := registry.New()
	reg.Register(domain.KindTask, "http_request", httpRequestHandler)

	conn, dialect, closeStore := mustOpenStore(ctx, cfg)
	defer closeStore()

	led := ledger.New(conn, dialect)

	// Async executors invoke onResult before the Dispatcher that owns
	// the callback exists, so d is declared first and captured by the
	// closure rather than passed in.
	var d *dispatcher.Dispatcher
	onResult := func(spec domain.WorkSpec, res *executor.Result) {
		d.HandleAsyncResult(ctx, spec, res)
	}

	ex, wait := buildExecutor(cfg, onResult)
	d = dispatcher.New(led, ex, reg, logger)

	fmt.Println("Seed complete")
	fmt.Println()

	for _, spec := range demoRequests {
		run, err := d.SubmitTask(ctx, "http_request", map[string]any{
			"url":    spec.url,
			"method": spec.method,
		},
			dispatcher.WithIdempotencyKey(spec.key),
			dispatcher.WithMaxRetries(spec.retries),
			dispatcher.WithTimeout(spec.timeout),
		)
		if err != nil {
			fmt.Printf("  %-10s submit error: %v\n", spec.key, err)
			continue
		}
		fmt.Printf("  %-10s run=%s status=%s\n", spec.key, run.ID, run.Status)
	}

	wait()

	fmt.Println()
	fmt.Println("Inspect a run's audit trail:")
	fmt.Println()
	fmt.Println("    d.GetEvents(ctx, runID)")
}

func httpRequestHandler(ctx context.Context, payload map[string]any) (map[string]any, error) {
	url, _ := payload["url"].(string)
	method, _ := payload["method"].(string)
	if method == "" {
		method = "GET"
	}

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("upstream %d: %s", resp.StatusCode, body)
	}
	return map[string]any{
		"status_code": resp.StatusCode,
		"body_prefix": string(body),
	}, nil
}

// buildExecutor picks the concurrency model per cfg.Executor, mirroring
// the knob a cmd/worker deployment would use for its own dispatcher if
// it embedded one. For ThreadPool, wait blocks until every submission
// from this run has finished; for every other executor it is a no-op,
// so Cooperative submissions still in flight are not waited for.
func buildExecutor(cfg *config.Config, onResult func(domain.WorkSpec, *executor.Result)) (ex executor.Executor, wait func()) {
	switch cfg.Executor {
	case "threadpool":
		tp := executor.NewThreadPool(cfg.WorkerConcurrency, onResult)
		return tp, tp.Wait
	case "cooperative":
		return executor.NewCooperative(int64(cfg.WorkerConcurrency), onResult), func() {}
	case "processpool":
		return executor.NewProcessPool(cfg.ProcessPoolRunnerBin), func() {}
	case "broker":
		return executor.NewBroker(redis.New(cfg.RedisAddr), "spine:runs"), func() {}
	default:
		return executor.NewMemory(), func() {}
	}
}

func mustOpenStore(ctx context.Context, cfg *config.Config) (store.Conn, store.Dialect, func()) {
	switch cfg.Backend {
	case "sqlite":
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			log.Fatalf("sqlite open: %v", err)
		}
		if err := schema.Apply(ctx, db); err != nil {
			log.Fatalf("apply schema: %v", err)
		}
		return sqlite.Wrap(db), sqlite.Dialect, func() { _ = db.Close() }
	default:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres connect: %v", err)
		}
		return postgres.Wrap(pool), postgres.Dialect, func() { pool.Close() }
	}
}
