package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ryansmccoy/spine-core-sub000/internal/domain"
)

// Submitter is the subset of the dispatcher a Service needs — kept as a
// narrow interface so this package doesn't import dispatcher directly
// and create an import cycle with anything dispatcher later grows to
// depend on.
type Submitter interface {
	Submit(ctx context.Context, spec domain.WorkSpec) (*domain.RunRecord, error)
}

// Stats is a point-in-time snapshot of scheduler activity, exposed
// through the health checker and an admin surface.
type Stats struct {
	TicksProcessed int64
	Dispatched     int64
	Misfired       int64
	LastTickAt     time.Time
	LastError      error
}

// Health summarizes whether the scheduler is keeping up.
type Health struct {
	Healthy       bool
	LastTickAge   time.Duration
	UnresolvedErr error
}

// Service ties a Backend's ticks to the Repository's due-schedule fetch
// and the LockManager's tick-exclusivity, dispatching each due schedule
// as a WorkSpec through dispatcher.
type Service struct {
	backend    Backend
	repo       *Repository
	locks      *LockManager
	dispatcher Submitter
	batchSize  int
	logger     *slog.Logger

	mu    sync.Mutex
	stats Stats
}

func NewService(backend Backend, repo *Repository, locks *LockManager, dispatcher Submitter, batchSize int, logger *slog.Logger) *Service {
	return &Service{
		backend:    backend,
		repo:       repo,
		locks:      locks,
		dispatcher: dispatcher,
		batchSize:  batchSize,
		logger:     logger.With("component", "scheduler"),
	}
}

// Run consumes ticks from the backend until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	for tick := range s.backend.Ticks(ctx) {
		s.processTick(ctx, tick)
	}
}

func (s *Service) processTick(ctx context.Context, tick time.Time) {
	acquired, err := s.locks.AcquireTick(ctx)
	if err != nil {
		s.recordError(err)
		s.logger.Error("acquire tick lock failed", "error", err)
		return
	}
	if !acquired {
		// Another scheduler replica owns this tick; nothing to do here.
		return
	}
	defer func() {
		if err := s.locks.ReleaseTick(ctx); err != nil {
			s.logger.Warn("release tick lock failed", "error", err)
		}
	}()

	due, err := s.repo.GetDue(ctx, s.batchSize)
	if err != nil {
		s.recordError(err)
		s.logger.Error("fetch due schedules failed", "error", err)
		return
	}

	dispatched, misfired := 0, 0
	for _, sched := range due {
		// Step 4: a schedule that fired later than its grace period
		// allows is marked MISSED and rescheduled without ever reaching
		// the dispatcher, regardless of MisfirePolicy.
		if s.isMisfire(sched, tick) {
			misfired++
			s.recordMissed(ctx, sched, tick)
			continue
		}

		scheduledAt := sched.NextRunAt
		spec := domain.WorkSpec{
			Kind:           sched.WorkKind,
			Name:           sched.WorkName,
			Payload:        sched.Payload,
			MaxRetries:     sched.MaxRetries,
			TimeoutSeconds: sched.TimeoutSeconds,
			TriggerSource:  domain.TriggerSchedule,
			IdempotencyKey: scheduleIdempotencyKey(sched.ID, scheduledAt),
		}
		run, err := s.dispatcher.Submit(ctx, spec)
		if err != nil {
			s.logger.Error("dispatch schedule failed", "schedule_id", sched.ID, "error", err)
			msg := err.Error()
			s.recordFire(ctx, sched, nil, scheduledAt, tick, domain.ScheduleRunFailed, &msg)
			continue
		}

		s.recordFire(ctx, sched, &run.ID, scheduledAt, tick, domain.ScheduleRunCompleted, nil)
		dispatched++
	}

	s.mu.Lock()
	s.stats.TicksProcessed++
	s.stats.Dispatched += int64(dispatched)
	s.stats.Misfired += int64(misfired)
	s.stats.LastTickAt = tick
	s.stats.LastError = nil
	s.mu.Unlock()
}

func (s *Service) isMisfire(sched *domain.Schedule, tick time.Time) bool {
	grace := time.Duration(sched.MisfireGraceSeconds) * time.Second
	return grace > 0 && tick.Sub(sched.NextRunAt) > grace
}

// recordMissed writes a terminal MISSED ScheduleRun for a fire that was
// never dispatched and advances the schedule past it.
func (s *Service) recordMissed(ctx context.Context, sched *domain.Schedule, tick time.Time) {
	next, err := s.repo.ComputeNext(*sched, tick)
	if err != nil {
		s.logger.Error("compute next run after misfire failed", "schedule_id", sched.ID, "error", err)
		return
	}
	if err := s.repo.RecordMissedRun(ctx, sched.ID, sched.NextRunAt, next); err != nil {
		s.logger.Error("record missed schedule run failed", "schedule_id", sched.ID, "error", err)
	}
}

// recordFire writes the ScheduleRun audit trail for a fire that reached
// the dispatcher, successfully or not, and advances the schedule to its
// next fire time. A COMPLETED status here means the scheduler handed the
// work off successfully, not that the handler itself has finished —
// the same distinction the fire-and-forget queueOnlySubmitter draws.
func (s *Service) recordFire(ctx context.Context, sched *domain.Schedule, runID *string, scheduledAt, tick time.Time, status domain.ScheduleRunStatus, errMsg *string) {
	next, err := s.repo.ComputeNext(*sched, tick)
	if err != nil {
		s.logger.Error("compute next run failed", "schedule_id", sched.ID, "error", err)
		return
	}
	sr, err := s.repo.CreateScheduleRun(ctx, sched.ID, runID, scheduledAt)
	if err != nil {
		s.logger.Error("record schedule run failed", "schedule_id", sched.ID, "error", err)
		return
	}
	if err := s.repo.CompleteScheduleRun(ctx, sr.ID, sched.ID, status, errMsg, next); err != nil {
		s.logger.Error("complete schedule run failed", "schedule_id", sched.ID, "error", err)
	}
}

func (s *Service) recordError(err error) {
	s.mu.Lock()
	s.stats.LastError = err
	s.mu.Unlock()
}

func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Service) Health(maxTickAge time.Duration) Health {
	stats := s.Stats()
	age := time.Since(stats.LastTickAt)
	return Health{
		Healthy:       stats.LastError == nil && (stats.LastTickAt.IsZero() || age <= maxTickAge),
		LastTickAge:   age,
		UnresolvedErr: stats.LastError,
	}
}

// Trigger immediately dispatches a schedule regardless of its NextRunAt,
// used for manual "run now" operator actions.
func (s *Service) Trigger(ctx context.Context, scheduleID string) (*domain.RunRecord, error) {
	sched, err := s.repo.GetByID(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	spec := domain.WorkSpec{
		Kind:          sched.WorkKind,
		Name:          sched.WorkName,
		Payload:       sched.Payload,
		MaxRetries:    sched.MaxRetries,
		TimeoutSeconds: sched.TimeoutSeconds,
		TriggerSource: domain.TriggerManual,
	}
	return s.dispatcher.Submit(ctx, spec)
}

// Pause and Resume toggle a schedule without affecting its NextRunAt.
func (s *Service) Pause(ctx context.Context, scheduleID string) error {
	return s.repo.SetPaused(ctx, scheduleID, true)
}

func (s *Service) Resume(ctx context.Context, scheduleID string) error {
	return s.repo.SetPaused(ctx, scheduleID, false)
}

func scheduleIdempotencyKey(scheduleID string, dueAt time.Time) string {
	return "sched:" + scheduleID + ":" + dueAt.UTC().Format(time.RFC3339)
}
