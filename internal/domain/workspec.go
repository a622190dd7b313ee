package domain

import "time"

// WorkSpec is the immutable request to execute something. Once persisted
// it is never mutated — all mutable state lives on the paired RunRecord.
type WorkSpec struct {
	ID                string            `json:"id"`
	IdempotencyKey    string            `json:"idempotencyKey"`
	Kind              Kind              `json:"kind"`
	Name              string            `json:"name"`
	Payload           map[string]any    `json:"payload"`
	Priority          Priority          `json:"priority"`
	Lane              string            `json:"lane,omitempty"`
	MaxRetries        int               `json:"maxRetries"`
	RetryDelaySeconds int               `json:"retryDelaySeconds,omitempty"`
	TimeoutSeconds    int               `json:"timeoutSeconds"`
	ParentRunID       *string           `json:"parentRunID,omitempty"`
	CorrelationID     string            `json:"correlationID,omitempty"`
	TriggerSource     TriggerSource     `json:"triggerSource"`
	Tags              map[string]string `json:"tags,omitempty"`
	Metadata          map[string]any    `json:"metadata,omitempty"`
	CreatedAt         time.Time         `json:"createdAt"`
}

// RunRecord is the mutable state of a single execution attempt of a
// WorkSpec. The (WorkSpec, RunRecord) pair together form the ledger row.
type RunRecord struct {
	ID            string   `json:"id"`
	WorkSpecID    string   `json:"workSpecID"`
	ParentRunID   *string  `json:"parentRunID,omitempty"`
	CorrelationID string   `json:"correlationID,omitempty"`
	Kind          Kind     `json:"kind"`
	Name          string   `json:"name"`
	Lane          string   `json:"lane,omitempty"`
	Status        Status   `json:"status"`
	Priority      Priority `json:"priority"`

	RetryCount int `json:"retryCount"`
	MaxRetries int `json:"maxRetries"`

	Result       map[string]any `json:"result,omitempty"`
	ErrorMessage *string        `json:"errorMessage,omitempty"`
	Progress     *string        `json:"progress,omitempty"`

	ClaimedBy   *string    `json:"claimedBy,omitempty"`
	ClaimedAt   *time.Time `json:"claimedAt,omitempty"`
	HeartbeatAt *time.Time `json:"heartbeatAt,omitempty"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CanRetry reports whether another retry attempt is permitted by the
// retry budget (RetryCount < MaxRetries); it does not look at Status.
func (r *RunRecord) CanRetry() bool {
	return r.RetryCount < r.MaxRetries
}

// RunEvent is a single append-only entry in a run's audit trail.
type RunEvent struct {
	ID        string         `json:"id"`
	RunID     string         `json:"runID"`
	Type      EventType      `json:"type"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}
