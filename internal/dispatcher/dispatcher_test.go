package dispatcher

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/ryansmccoy/spine-core-sub000/internal/domain"
	"github.com/ryansmccoy/spine-core-sub000/internal/executor"
	"github.com/ryansmccoy/spine-core-sub000/internal/ledger"
	"github.com/ryansmccoy/spine-core-sub000/internal/registry"
	"github.com/ryansmccoy/spine-core-sub000/internal/store/sqlite"
	sqlitemigrate "github.com/ryansmccoy/spine-core-sub000/internal/store/sqlite/schema"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *ledger.Ledger) {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := sqlitemigrate.Apply(context.Background(), db); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	conn := sqlite.Wrap(db)
	l := ledger.New(conn, sqlite.Dialect)

	reg := registry.New()
	reg.Register(domain.KindTask, "greet", func(ctx context.Context, p map[string]any) (map[string]any, error) {
		return map[string]any{"greeting": "hello " + p["name"].(string)}, nil
	})

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	d := New(l, executor.NewMemory(), reg, logger)
	return d, l
}

func TestSubmitTaskCompletesSynchronously(t *testing.T) {
	d, _ := newTestDispatcher(t)
	run, err := d.SubmitTask(context.Background(), "greet", map[string]any{"name": "ada"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s", run.Status)
	}
}

func TestSubmitIdempotentResubmitReturnsSameRun(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()
	run1, err := d.SubmitTask(ctx, "greet", map[string]any{"name": "ada"}, WithIdempotencyKey("k1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	run2, err := d.SubmitTask(ctx, "greet", map[string]any{"name": "ada"}, WithIdempotencyKey("k1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run1.ID != run2.ID {
		t.Fatalf("expected same run id for idempotent resubmit, got %s vs %s", run1.ID, run2.ID)
	}
}

func TestSubmitUnknownHandlerFails(t *testing.T) {
	d, _ := newTestDispatcher(t)
	run, err := d.SubmitTask(context.Background(), "does_not_exist", nil)
	if err != nil {
		t.Fatalf("unexpected top-level error: %v", err)
	}
	if run.Status != domain.StatusFailed {
		t.Fatalf("expected failed, got %s", run.Status)
	}
}

func TestCancelRejectsTerminalRun(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()
	run, err := d.SubmitTask(ctx, "greet", map[string]any{"name": "ada"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := d.Cancel(ctx, run.ID); err == nil {
		t.Fatal("expected error cancelling a terminal run")
	}
}

func TestSubmitTaskViaAsyncExecutorCompletesThroughHandleAsyncResult(t *testing.T) {
	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := sqlitemigrate.Apply(context.Background(), db); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	conn := sqlite.Wrap(db)
	l := ledger.New(conn, sqlite.Dialect)

	reg := registry.New()
	reg.Register(domain.KindTask, "greet", func(ctx context.Context, p map[string]any) (map[string]any, error) {
		return map[string]any{"greeting": "hello " + p["name"].(string)}, nil
	})

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	var d *Dispatcher
	tp := executor.NewThreadPool(2, func(spec domain.WorkSpec, res *executor.Result) {
		d.HandleAsyncResult(context.Background(), spec, res)
	})
	d = New(l, tp, reg, logger)

	run, err := d.SubmitTask(context.Background(), "greet", map[string]any{"name": "ada"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != domain.StatusQueued {
		t.Fatalf("expected queued immediately after async submit, got %s", run.Status)
	}

	tp.Wait()

	final, err := d.GetRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if final.Status != domain.StatusCompleted {
		t.Fatalf("expected completed after async result, got %s", final.Status)
	}
}
