package dlq

import (
	"context"
	"testing"

	"github.com/ryansmccoy/spine-core-sub000/internal/domain"
	"github.com/ryansmccoy/spine-core-sub000/internal/store/sqlite"
	sqlitemigrate "github.com/ryansmccoy/spine-core-sub000/internal/store/sqlite/schema"
)

type recordingNotifier struct {
	subject, body string
	calls         int
}

func (n *recordingNotifier) Notify(_ context.Context, subject, body string) error {
	n.calls++
	n.subject, n.body = subject, body
	return nil
}

func newTestManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := sqlitemigrate.Apply(context.Background(), db); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return New(sqlite.Wrap(db), opts...)
}

func TestAddFiresNotifierOnCapture(t *testing.T) {
	notifier := &recordingNotifier{}
	m := newTestManager(t, WithNotifier(notifier))

	run := &domain.RunRecord{ID: "run-1", Kind: domain.KindTask, Name: "greet", RetryCount: 3}
	dl, err := m.Add(context.Background(), run, "spec-1", map[string]any{"name": "ada"}, "boom")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if dl.RunID != run.ID {
		t.Fatalf("expected dead letter for run %s, got %s", run.ID, dl.RunID)
	}
	if notifier.calls != 1 {
		t.Fatalf("expected exactly one notify call, got %d", notifier.calls)
	}
	if notifier.subject == "" || notifier.body == "" {
		t.Fatal("expected a non-empty subject and body")
	}
}

func TestAddWithoutNotifierDoesNotPanic(t *testing.T) {
	m := newTestManager(t)
	run := &domain.RunRecord{ID: "run-2", Kind: domain.KindTask, Name: "greet"}
	if _, err := m.Add(context.Background(), run, "spec-2", nil, "boom"); err != nil {
		t.Fatalf("add: %v", err)
	}
}

func TestCountUnresolvedReflectsAdds(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	run := &domain.RunRecord{ID: "run-3", Kind: domain.KindTask, Name: "greet"}
	if _, err := m.Add(ctx, run, "spec-3", nil, "boom"); err != nil {
		t.Fatalf("add: %v", err)
	}
	n, err := m.CountUnresolved(ctx)
	if err != nil {
		t.Fatalf("count unresolved: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 unresolved dead letter, got %d", n)
	}
}
