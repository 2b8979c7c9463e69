// Package model defines the core data types shared across the steward
// orchestration system.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates a job is waiting to be claimed.
	JobStatusPending JobStatus = "pending"
	// JobStatusClaimed indicates a worker holds the job but has not started it.
	JobStatusClaimed JobStatus = "claimed"
	// JobStatusRunning indicates a job is currently being executed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates a job finished successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates a job failed permanently or exhausted its retries.
	JobStatusFailed JobStatus = "failed"
	// JobStatusCancelled indicates a job was cancelled before it was claimed.
	JobStatusCancelled JobStatus = "cancelled"
)

// Valid returns true if the JobStatus is one of the defined states.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusClaimed, JobStatusRunning,
		JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether the status is a terminal state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// ErrNoJobsAvailable is returned when no eligible job can be claimed.
var ErrNoJobsAvailable = errors.New("no jobs available")

// Job represents a unit of durable background work tracked through the
// claim/execute/retry lifecycle.
type Job struct {
	ID             string          `json:"id"                         db:"id"`
	WorkType       string          `json:"work_type"                  db:"work_type"`
	Status         JobStatus       `json:"status"                     db:"status"`
	Priority       int             `json:"priority"                   db:"priority"`
	Payload        json.RawMessage `json:"payload"                    db:"payload"`
	Result         json.RawMessage `json:"result,omitempty"           db:"result"`
	UserID         string          `json:"user_id"                    db:"user_id"`
	SessionID      *string         `json:"session_id,omitempty"       db:"session_id"`
	ScheduledAt    time.Time       `json:"scheduled_at"               db:"scheduled_at"`
	ClaimedBy      *string         `json:"claimed_by,omitempty"       db:"claimed_by"`
	ClaimedAt      *time.Time      `json:"claimed_at,omitempty"       db:"claimed_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"       db:"started_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"     db:"completed_at"`
	RetryCount     int             `json:"retry_count"                db:"retry_count"`
	MaxRetries     int             `json:"max_retries"                db:"max_retries"`
	LastError      *string         `json:"last_error,omitempty"       db:"last_error"`
	LeaseExpiresAt *time.Time      `json:"lease_expires_at,omitempty" db:"lease_expires_at"`
	CreatedAt      time.Time       `json:"created_at"                 db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"                 db:"updated_at"`
}

// CreateJobRequest represents a request to enqueue a new job.
type CreateJobRequest struct {
	WorkType    string          `json:"work_type"`
	Payload     json.RawMessage `json:"payload"`
	UserID      string          `json:"user_id"`
	SessionID   *string         `json:"session_id,omitempty"`
	Priority    int             `json:"priority,omitempty"`
	ScheduledAt *time.Time      `json:"scheduled_at,omitempty"`
	MaxRetries  int             `json:"max_retries"`
}

// Validate validates the CreateJobRequest fields.
func (r *CreateJobRequest) Validate() error {
	if strings.TrimSpace(r.WorkType) == "" {
		return errors.New("work type is required")
	}
	if len(r.Payload) == 0 {
		return errors.New("payload is required")
	}
	if strings.TrimSpace(r.UserID) == "" {
		return errors.New("user id is required")
	}
	if r.Priority < 0 || r.Priority > 100 {
		return errors.New("priority must be between 0 and 100")
	}
	if r.MaxRetries < 0 {
		return errors.New("max retries must be >= 0")
	}
	return nil
}

// JobStats represents counts of jobs in each state for one work type.
type JobStats struct {
	Pending   int `json:"pending"`
	Claimed   int `json:"claimed"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// JobStatusResponse represents the status information for a specific job.
type JobStatusResponse struct {
	Status      JobStatus  `json:"status"`
	RetryCount  int        `json:"retry_count"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	LastError   *string    `json:"last_error,omitempty"`
}

// FailureKind classifies a handler failure for the retry machinery.
type FailureKind string

const (
	// FailureTransient indicates the failure may succeed on retry.
	FailureTransient FailureKind = "transient"
	// FailurePermanent indicates retrying cannot help.
	FailurePermanent FailureKind = "permanent"
)

func (k FailureKind) String() string { return string(k) }

// Validate returns an error for unknown failure kinds.
func (k FailureKind) Validate() error {
	if k != FailureTransient && k != FailurePermanent {
		return fmt.Errorf("invalid failure kind: %q", k)
	}
	return nil
}
