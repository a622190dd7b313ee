package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ryansmccoy/spine-core-sub000/internal/concurrency"
	"github.com/ryansmccoy/spine-core-sub000/internal/domain"
	"github.com/ryansmccoy/spine-core-sub000/internal/store/sqlite"
	sqlitemigrate "github.com/ryansmccoy/spine-core-sub000/internal/store/sqlite/schema"
)

// stubSubmitter lets tests control whether dispatch succeeds, without
// pulling in the dispatcher package (Service only depends on the
// narrow Submitter interface to avoid that import cycle).
type stubSubmitter struct {
	err  error
	runs int
}

func (s *stubSubmitter) Submit(ctx context.Context, spec domain.WorkSpec) (*domain.RunRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.runs++
	return &domain.RunRecord{ID: uuid.NewString(), Status: domain.StatusQueued}, nil
}

func newTestService(t *testing.T, sub Submitter) (*Service, *Repository) {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := sqlitemigrate.Apply(context.Background(), db); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	conn := sqlite.Wrap(db)
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	repo := NewRepository(conn, logger)
	guard := concurrency.New(conn)
	locks := NewLockManager(guard, "test-scheduler", time.Minute)
	svc := NewService(NewTickerBackend(time.Second), repo, locks, sub, 10, logger)
	return svc, repo
}

func latestScheduleRunStatus(t *testing.T, repo *Repository, scheduleID string) domain.ScheduleRunStatus {
	t.Helper()
	row := repo.conn.QueryRow(context.Background(), `
		SELECT status FROM core_schedule_runs WHERE schedule_id = $1 ORDER BY rowid DESC LIMIT 1`, scheduleID)
	var status string
	if err := row.Scan(&status); err != nil {
		t.Fatalf("scan latest schedule run: %v", err)
	}
	return domain.ScheduleRunStatus(status)
}

func TestProcessTickDispatchesDueScheduleAndMarksCompleted(t *testing.T) {
	sub := &stubSubmitter{}
	svc, repo := newTestService(t, sub)
	ctx := context.Background()

	sched, err := repo.Create(ctx, domain.Schedule{
		Name:     "due-now",
		Kind:     domain.ScheduleKindInterval,
		Interval: time.Minute,
		WorkKind: domain.KindTask,
		WorkName: "noop",
	})
	if err != nil {
		t.Fatalf("create schedule: %v", err)
	}

	tick := sched.NextRunAt.Add(time.Second)
	svc.processTick(ctx, tick)

	if sub.runs != 1 {
		t.Fatalf("expected dispatcher to be invoked once, got %d", sub.runs)
	}
	if got := latestScheduleRunStatus(t, repo, sched.ID); got != domain.ScheduleRunCompleted {
		t.Fatalf("expected COMPLETED schedule run, got %s", got)
	}
	reloaded, err := repo.GetByID(ctx, sched.ID)
	if err != nil {
		t.Fatalf("get schedule: %v", err)
	}
	if !reloaded.NextRunAt.After(sched.NextRunAt) {
		t.Fatalf("expected next_run_at to advance past %s, got %s", sched.NextRunAt, reloaded.NextRunAt)
	}

	stats := svc.Stats()
	if stats.Dispatched != 1 || stats.Misfired != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestProcessTickRecordsFailedDispatch(t *testing.T) {
	sub := &stubSubmitter{err: errors.New("executor unavailable")}
	svc, repo := newTestService(t, sub)
	ctx := context.Background()

	sched, err := repo.Create(ctx, domain.Schedule{
		Name:     "fails-to-dispatch",
		Kind:     domain.ScheduleKindInterval,
		Interval: time.Minute,
		WorkKind: domain.KindTask,
		WorkName: "noop",
	})
	if err != nil {
		t.Fatalf("create schedule: %v", err)
	}

	svc.processTick(ctx, sched.NextRunAt.Add(time.Second))

	if got := latestScheduleRunStatus(t, repo, sched.ID); got != domain.ScheduleRunFailed {
		t.Fatalf("expected FAILED schedule run, got %s", got)
	}
	reloaded, err := repo.GetByID(ctx, sched.ID)
	if err != nil {
		t.Fatalf("get schedule: %v", err)
	}
	if !reloaded.NextRunAt.After(sched.NextRunAt) {
		t.Fatalf("expected schedule to still advance past a failed dispatch")
	}
}

func TestProcessTickMarksMissedWithoutDispatchRegardlessOfPolicy(t *testing.T) {
	sub := &stubSubmitter{}
	svc, repo := newTestService(t, sub)
	ctx := context.Background()

	// MisfireFireOnce historically gated a schedule into still being
	// dispatched late; the fix makes MISSED unconditional on grace
	// period alone.
	sched, err := repo.Create(ctx, domain.Schedule{
		Name:                "misfires",
		Kind:                domain.ScheduleKindInterval,
		Interval:            time.Minute,
		WorkKind:            domain.KindTask,
		WorkName:            "noop",
		MisfireGraceSeconds: 5,
		MisfirePolicy:       domain.MisfireFireOnce,
	})
	if err != nil {
		t.Fatalf("create schedule: %v", err)
	}

	tick := sched.NextRunAt.Add(time.Minute)
	svc.processTick(ctx, tick)

	if sub.runs != 0 {
		t.Fatalf("expected dispatcher NOT to be invoked for a misfire, got %d calls", sub.runs)
	}
	if got := latestScheduleRunStatus(t, repo, sched.ID); got != domain.ScheduleRunMissed {
		t.Fatalf("expected MISSED schedule run, got %s", got)
	}

	stats := svc.Stats()
	if stats.Misfired != 1 || stats.Dispatched != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
