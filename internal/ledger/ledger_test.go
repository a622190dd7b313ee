package ledger

import (
	"context"
	"testing"

	"github.com/ryansmccoy/spine-core-sub000/internal/domain"
	"github.com/ryansmccoy/spine-core-sub000/internal/store/sqlite"
	sqlitemigrate "github.com/ryansmccoy/spine-core-sub000/internal/store/sqlite/schema"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := sqlitemigrate.Apply(context.Background(), db); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return New(sqlite.Wrap(db), sqlite.Dialect)
}

func TestGetRunByWorkSpecIDRoundTrips(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	run, created, err := l.CreateRun(ctx, domain.WorkSpec{Kind: domain.KindTask, Name: "greet"})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	if !created {
		t.Fatal("expected a new run to be created")
	}

	found, err := l.GetRunByWorkSpecID(ctx, run.WorkSpecID)
	if err != nil {
		t.Fatalf("get by work spec id: %v", err)
	}
	if found.ID != run.ID {
		t.Fatalf("expected run %s, got %s", run.ID, found.ID)
	}
}

func TestGetRunByWorkSpecIDUnknownReturnsNotFound(t *testing.T) {
	l := newTestLedger(t)
	if _, err := l.GetRunByWorkSpecID(context.Background(), "does-not-exist"); err == nil {
		t.Fatal("expected an error for an unknown work spec id")
	}
}

func TestCreateRunDefaultsLaneAndLeavesCorrelationIDEmptyWithoutParent(t *testing.T) {
	l := newTestLedger(t)
	run, _, err := l.CreateRun(context.Background(), domain.WorkSpec{Kind: domain.KindTask, Name: "greet"})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	if run.Lane != "default" {
		t.Fatalf("expected default lane, got %q", run.Lane)
	}
	if run.CorrelationID != "" {
		t.Fatalf("expected empty correlation id with no parent, got %q", run.CorrelationID)
	}
}

func TestCreateRunCopiesParentRunIDIntoCorrelationIDWhenOmitted(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	parent, _, err := l.CreateRun(ctx, domain.WorkSpec{Kind: domain.KindWorkflow, Name: "wf"})
	if err != nil {
		t.Fatalf("create parent run: %v", err)
	}

	child, _, err := l.CreateRun(ctx, domain.WorkSpec{Kind: domain.KindStep, Name: "step", ParentRunID: &parent.ID})
	if err != nil {
		t.Fatalf("create child run: %v", err)
	}
	if child.CorrelationID != parent.ID {
		t.Fatalf("expected correlation id %q copied from parent run id, got %q", parent.ID, child.CorrelationID)
	}

	explicit, _, err := l.CreateRun(ctx, domain.WorkSpec{
		Kind: domain.KindStep, Name: "step", ParentRunID: &parent.ID, CorrelationID: "trace-explicit",
	})
	if err != nil {
		t.Fatalf("create explicit-correlation run: %v", err)
	}
	if explicit.CorrelationID != "trace-explicit" {
		t.Fatalf("expected caller-supplied correlation id to be preserved, got %q", explicit.CorrelationID)
	}
}

func TestCreateRunPreservesExplicitLane(t *testing.T) {
	l := newTestLedger(t)
	run, _, err := l.CreateRun(context.Background(), domain.WorkSpec{Kind: domain.KindTask, Name: "report", Lane: "reports"})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	if run.Lane != "reports" {
		t.Fatalf("expected lane %q, got %q", "reports", run.Lane)
	}
}
