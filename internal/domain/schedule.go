package domain

import "time"

// ScheduleKind selects how NextRunAt is computed.
type ScheduleKind string

const (
	ScheduleKindCron     ScheduleKind = "cron"
	ScheduleKindInterval ScheduleKind = "interval"
	ScheduleKindDate     ScheduleKind = "date"
)

// MisfirePolicy is stored with a schedule for the case where its due time
// was missed by more than its grace period (scheduler was down,
// overloaded). The scheduler Service does not consult it: such a fire is
// always recorded MISSED and never dispatched.
type MisfirePolicy string

const (
	MisfireFireOnce MisfirePolicy = "fire_once"
	MisfireSkip     MisfirePolicy = "skip"
)

// Schedule is a recurring or one-off trigger that produces WorkSpecs.
type Schedule struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Kind     ScheduleKind  `json:"kind"`
	CronExpr string        `json:"cronExpr,omitempty"`
	Interval time.Duration `json:"interval,omitempty"`
	RunAt    *time.Time    `json:"runAt,omitempty"`
	// Timezone is an IANA zone name cron expressions are evaluated in
	// (e.g. "America/New_York"). Empty means UTC. ComputeNext falls back
	// to UTC with a logged warning if this does not resolve.
	Timezone string `json:"timezone,omitempty"`

	WorkKind       Kind           `json:"workKind"`
	WorkName       string         `json:"workName"`
	Payload        map[string]any `json:"payload"`
	MaxRetries     int            `json:"maxRetries"`
	TimeoutSeconds int            `json:"timeoutSeconds"`

	MisfireGraceSeconds int           `json:"misfireGraceSeconds"`
	MisfirePolicy       MisfirePolicy `json:"misfirePolicy"`

	Paused    bool       `json:"paused"`
	NextRunAt time.Time  `json:"nextRunAt"`
	LastRunAt *time.Time `json:"lastRunAt,omitempty"`
	// Version increments every time a ScheduleRun reaches a terminal
	// state, giving callers a cheap "has this schedule fired since I
	// last looked" check.
	Version int `json:"version"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ScheduleRunStatus is the lifecycle state of one Schedule fire.
type ScheduleRunStatus string

const (
	ScheduleRunRunning   ScheduleRunStatus = "running"
	ScheduleRunCompleted ScheduleRunStatus = "completed"
	ScheduleRunFailed    ScheduleRunStatus = "failed"
	ScheduleRunSkipped   ScheduleRunStatus = "skipped"
	ScheduleRunMissed    ScheduleRunStatus = "missed"
)

// ScheduleRun is the audit row for one fire of a Schedule, tracked
// separately from the RunRecord it may dispatch so a schedule's history
// survives even fires that never produced one (MISSED, SKIPPED).
type ScheduleRun struct {
	ID          string            `json:"id"`
	ScheduleID  string            `json:"scheduleID"`
	RunID       *string           `json:"runID,omitempty"`
	ScheduledAt time.Time         `json:"scheduledAt"`
	StartedAt   *time.Time        `json:"startedAt,omitempty"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`
	Status      ScheduleRunStatus `json:"status"`
	Error       *string           `json:"error,omitempty"`
}
