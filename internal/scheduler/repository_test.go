package scheduler

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/ryansmccoy/spine-core-sub000/internal/domain"
	"github.com/ryansmccoy/spine-core-sub000/internal/store/sqlite"
	sqlitemigrate "github.com/ryansmccoy/spine-core-sub000/internal/store/sqlite/schema"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := sqlitemigrate.Apply(context.Background(), db); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	return NewRepository(sqlite.Wrap(db), logger)
}

func TestCreateDefaultsTimezoneAndComputesNextRun(t *testing.T) {
	repo := newTestRepository(t)
	sched, err := repo.Create(context.Background(), domain.Schedule{
		Name:     "every-minute",
		Kind:     domain.ScheduleKindCron,
		CronExpr: "* * * * *",
		WorkKind: domain.KindTask,
		WorkName: "noop",
	})
	if err != nil {
		t.Fatalf("create schedule: %v", err)
	}
	if sched.Timezone != "UTC" {
		t.Fatalf("expected default timezone UTC, got %q", sched.Timezone)
	}
	if sched.NextRunAt.IsZero() {
		t.Fatalf("expected next run to be computed")
	}
}

func TestComputeNextRespectsTimezone(t *testing.T) {
	repo := newTestRepository(t)
	// 09:00 in America/New_York is 13:00 or 14:00 UTC depending on DST;
	// the cron fires at "0 9 * * *" local time regardless.
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	sched := domain.Schedule{Kind: domain.ScheduleKindCron, CronExpr: "0 9 * * *", Timezone: "America/New_York"}
	after := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	next, err := repo.ComputeNext(sched, after)
	if err != nil {
		t.Fatalf("compute next: %v", err)
	}
	local := next.In(loc)
	if local.Hour() != 9 {
		t.Fatalf("expected 09:00 local, got %s", local)
	}
}

func TestComputeNextFallsBackToUTCOnUnknownZone(t *testing.T) {
	repo := newTestRepository(t)
	sched := domain.Schedule{Kind: domain.ScheduleKindCron, CronExpr: "0 0 * * *", Timezone: "Not/A_Zone"}
	after := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	next, err := repo.ComputeNext(sched, after)
	if err != nil {
		t.Fatalf("compute next: %v", err)
	}
	if next.Hour() != 0 {
		t.Fatalf("expected midnight UTC fallback, got %s", next)
	}
}

func TestComputeNextIsRelativeToAfterNotWallClock(t *testing.T) {
	repo := newTestRepository(t)
	sched := domain.Schedule{Kind: domain.ScheduleKindCron, CronExpr: "* * * * *", Timezone: "UTC"}
	// Pick an "after" far in the future relative to wall-clock now; the
	// old `for next.Before(time.Now())` loop would stop advancing once
	// next passed the real current time, returning a next run still
	// before "after".
	after := time.Now().Add(48 * time.Hour)
	next, err := repo.ComputeNext(sched, after)
	if err != nil {
		t.Fatalf("compute next: %v", err)
	}
	if !next.After(after) {
		t.Fatalf("expected next run after %s, got %s", after, next)
	}
}

func TestScheduleRunLifecycle(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	sched, err := repo.Create(ctx, domain.Schedule{
		Name:     "lifecycle",
		Kind:     domain.ScheduleKindInterval,
		Interval: time.Minute,
		WorkKind: domain.KindTask,
		WorkName: "noop",
	})
	if err != nil {
		t.Fatalf("create schedule: %v", err)
	}

	runID := "run-123"
	sr, err := repo.CreateScheduleRun(ctx, sched.ID, &runID, sched.NextRunAt)
	if err != nil {
		t.Fatalf("create schedule run: %v", err)
	}
	if sr.Status != domain.ScheduleRunRunning {
		t.Fatalf("expected RUNNING, got %s", sr.Status)
	}

	reloaded, err := repo.GetByID(ctx, sched.ID)
	if err != nil {
		t.Fatalf("get schedule: %v", err)
	}
	if reloaded.LastRunAt == nil {
		t.Fatalf("expected last_run_at to be set")
	}

	next := sched.NextRunAt.Add(time.Minute)
	if err := repo.CompleteScheduleRun(ctx, sr.ID, sched.ID, domain.ScheduleRunCompleted, nil, next); err != nil {
		t.Fatalf("complete schedule run: %v", err)
	}

	reloaded, err = repo.GetByID(ctx, sched.ID)
	if err != nil {
		t.Fatalf("get schedule: %v", err)
	}
	if !reloaded.NextRunAt.Equal(next) {
		t.Fatalf("expected next_run_at advanced to %s, got %s", next, reloaded.NextRunAt)
	}
	if reloaded.Version != sched.Version+1 {
		t.Fatalf("expected version bumped, got %d", reloaded.Version)
	}
}

func TestRecordMissedRunAdvancesWithoutRunningStage(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	sched, err := repo.Create(ctx, domain.Schedule{
		Name:     "missed",
		Kind:     domain.ScheduleKindInterval,
		Interval: time.Minute,
		WorkKind: domain.KindTask,
		WorkName: "noop",
	})
	if err != nil {
		t.Fatalf("create schedule: %v", err)
	}

	next := sched.NextRunAt.Add(time.Minute)
	if err := repo.RecordMissedRun(ctx, sched.ID, sched.NextRunAt, next); err != nil {
		t.Fatalf("record missed run: %v", err)
	}

	reloaded, err := repo.GetByID(ctx, sched.ID)
	if err != nil {
		t.Fatalf("get schedule: %v", err)
	}
	if !reloaded.NextRunAt.Equal(next) {
		t.Fatalf("expected next_run_at advanced to %s, got %s", next, reloaded.NextRunAt)
	}
	if reloaded.Version != sched.Version+1 {
		t.Fatalf("expected version bumped, got %d", reloaded.Version)
	}
}
