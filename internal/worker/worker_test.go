package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/ryansmccoy/spine-core-sub000/internal/dlq"
	"github.com/ryansmccoy/spine-core-sub000/internal/domain"
	"github.com/ryansmccoy/spine-core-sub000/internal/ledger"
	"github.com/ryansmccoy/spine-core-sub000/internal/registry"
	"github.com/ryansmccoy/spine-core-sub000/internal/store/sqlite"
	sqlitemigrate "github.com/ryansmccoy/spine-core-sub000/internal/store/sqlite/schema"
)

func newTestWorker(t *testing.T, reg *registry.Registry, opts ...Option) (*Worker, *ledger.Ledger, *dlq.Manager) {
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
	d := dlq.New(conn)
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	w := New(l, reg, conn, d, 10*time.Millisecond, time.Second, 4, logger, opts...)
	return w, l, d
}

func TestProcessRunPassesPayloadToHandler(t *testing.T) {
	var gotName any
	reg := registry.New()
	reg.Register(domain.KindTask, "greet", func(ctx context.Context, p map[string]any) (map[string]any, error) {
		gotName = p["name"]
		return map[string]any{"ok": true}, nil
	})

	w, l, _ := newTestWorker(t, reg)
	ctx := context.Background()
	run, _, err := l.CreateRun(ctx, domain.WorkSpec{Kind: domain.KindTask, Name: "greet", Payload: map[string]any{"name": "ada"}})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	if _, err := l.TransitionStatus(ctx, run.ID, domain.StatusPending, domain.StatusQueued, nil); err != nil {
		t.Fatalf("queue run: %v", err)
	}
	if ok, err := l.Claim(ctx, run.ID, "test-worker", domain.StatusQueued); err != nil || !ok {
		t.Fatalf("claim run: ok=%v err=%v", ok, err)
	}

	w.processRun(ctx, run.ID)

	if gotName != "ada" {
		t.Fatalf("expected handler to receive payload name=ada, got %v", gotName)
	}
	final, err := l.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if final.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s", final.Status)
	}
}

func TestProcessRunCapturesToDLQOnceRetriesExhausted(t *testing.T) {
	reg := registry.New()
	reg.Register(domain.KindTask, "boom", func(ctx context.Context, p map[string]any) (map[string]any, error) {
		return nil, fmt.Errorf("always fails")
	})

	w, l, d := newTestWorker(t, reg)
	ctx := context.Background()
	run, _, err := l.CreateRun(ctx, domain.WorkSpec{Kind: domain.KindTask, Name: "boom", MaxRetries: 0})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	if _, err := l.TransitionStatus(ctx, run.ID, domain.StatusPending, domain.StatusQueued, nil); err != nil {
		t.Fatalf("queue run: %v", err)
	}
	if ok, err := l.Claim(ctx, run.ID, "test-worker", domain.StatusQueued); err != nil || !ok {
		t.Fatalf("claim run: ok=%v err=%v", ok, err)
	}

	w.processRun(ctx, run.ID)

	final, err := l.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if final.Status != domain.StatusFailed {
		t.Fatalf("expected failed, got %s", final.Status)
	}
	n, err := d.CountUnresolved(ctx)
	if err != nil {
		t.Fatalf("count unresolved: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected the exhausted run to be captured to the dlq, got %d unresolved", n)
	}
}

func TestClaimBatchOnlyClaimsConfiguredLanes(t *testing.T) {
	reg := registry.New()
	w, l, _ := newTestWorker(t, reg, WithLanes("reports"))
	ctx := context.Background()

	defaultRun, _, err := l.CreateRun(ctx, domain.WorkSpec{Kind: domain.KindTask, Name: "noop"})
	if err != nil {
		t.Fatalf("create default-lane run: %v", err)
	}
	if _, err := l.TransitionStatus(ctx, defaultRun.ID, domain.StatusPending, domain.StatusQueued, nil); err != nil {
		t.Fatalf("queue default-lane run: %v", err)
	}

	reportsRun, _, err := l.CreateRun(ctx, domain.WorkSpec{Kind: domain.KindTask, Name: "noop", Lane: "reports"})
	if err != nil {
		t.Fatalf("create reports-lane run: %v", err)
	}
	if _, err := l.TransitionStatus(ctx, reportsRun.ID, domain.StatusPending, domain.StatusQueued, nil); err != nil {
		t.Fatalf("queue reports-lane run: %v", err)
	}

	claimed, err := w.claimBatch(ctx, 10)
	if err != nil {
		t.Fatalf("claim batch: %v", err)
	}
	if len(claimed) != 1 || claimed[0] != reportsRun.ID {
		t.Fatalf("expected only the reports-lane run claimed, got %v", claimed)
	}
}
