// Package core provides the business logic and service layer for the steward
// orchestration system.
package core

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/steward-labs/steward/internal/domain/model"
)

// This file contains repository interface definitions (ports in hexagonal architecture).
// These interfaces define the contracts between the service layer and data layer.
// Service implementations should depend on these interfaces, not concrete implementations.

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrActionAlreadyResolved indicates a pending action was already decided by
// another caller; the losing mutation must observe a conflict, never
// re-execute.
var ErrActionAlreadyResolved = errors.New("pending action already resolved")

// FailJobParams groups parameters for JobRepository.Fail.
type FailJobParams struct {
	JobID         string
	ErrMsg        string
	Kind          model.FailureKind
	NextAttemptAt time.Time
}

// JobRepository defines the interface for job data operations.
type JobRepository interface {
	Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error)
	GetByID(ctx context.Context, id string) (*model.Job, error)

	// ClaimNext atomically moves the highest-priority, earliest-eligible
	// pending job to claimed for the given worker. Concurrent claimants on
	// the same row see exactly one winner; losers get
	// model.ErrNoJobsAvailable.
	ClaimNext(ctx context.Context, workerID string, leaseSeconds int) (*model.Job, error)

	// MarkRunning moves a claimed job to running, guarded by the claiming
	// worker identity. Returns false when the claim no longer holds.
	MarkRunning(ctx context.Context, jobID, workerID string) (bool, error)

	// WaitForNotification blocks until the store signals new work or ctx ends.
	WaitForNotification(ctx context.Context) error

	// Heartbeat extends the lease on a claimed or running job.
	Heartbeat(ctx context.Context, jobID string, leaseSeconds int) (bool, error)

	Complete(ctx context.Context, id string, result json.RawMessage) (bool, error)

	// Fail records a handler failure. Transient failures with retries left
	// reset the job to pending at NextAttemptAt with retry_count bumped;
	// permanent failures and exhausted retries move it to failed. The
	// returned job reflects the post-update row.
	Fail(ctx context.Context, params FailJobParams) (*model.Job, error)

	// Cancel moves a job to cancelled only while it is still pending.
	Cancel(ctx context.Context, id string) (bool, error)

	Stats(ctx context.Context, workType string) (*model.JobStats, error)

	// RequeueExpiredLeases resets claimed/running jobs whose lease lapsed
	// back to pending so another worker can retry them. Returns the number
	// of jobs requeued.
	RequeueExpiredLeases(ctx context.Context, batchSize int) (int64, error)

	// PurgeTerminal deletes completed, failed and cancelled jobs whose last
	// update is older than the retention window. Returns the number of rows
	// deleted.
	PurgeTerminal(ctx context.Context, retention time.Duration, batchSize int) (int64, error)
}

// ResolveActionParams groups parameters for PendingActionRepository.Resolve.
type ResolveActionParams struct {
	ID     string
	Status model.PendingActionStatus
	Reason *string
}

// PendingActionRepository defines the interface for pending action data operations.
type PendingActionRepository interface {
	// Create inserts a pending row carrying the tier the gate resolved for
	// the proposal, so decisions report the tier that parked the action.
	Create(ctx context.Context, req *model.ProposeActionRequest, tier model.ApprovalTier, expiresAt time.Time) (*model.PendingAction, error)
	GetByID(ctx context.Context, id string) (*model.PendingAction, error)

	// Resolve performs the single allowed pending -> terminal transition via
	// compare-and-set on the current status. When another caller already
	// resolved the row it returns ErrActionAlreadyResolved.
	Resolve(ctx context.Context, params ResolveActionParams) (*model.PendingAction, error)

	// RecordExecutionResult stores the Tool Executor outcome on an approved action.
	RecordExecutionResult(ctx context.Context, id string, record model.ExecutionRecord) error

	// ListPendingByUser returns undecided, unexpired actions for a user.
	ListPendingByUser(ctx context.Context, userID string) ([]*model.PendingAction, error)

	// ExpireLapsed CAS-transitions pending rows past expires_at to expired
	// and returns the rows it transitioned.
	ExpireLapsed(ctx context.Context, batchSize int) ([]*model.PendingAction, error)
}

// SessionRepository defines the interface for session data operations.
type SessionRepository interface {
	// Resolve returns the active session for the request's session key,
	// creating it on first use and touching last_used_at on reuse.
	Resolve(ctx context.Context, req *model.ResolveSessionRequest) (*model.Session, error)
	GetByID(ctx context.Context, id string) (*model.Session, error)

	// DeactivateIdle deactivates active sessions unused for longer than
	// idleFor. Returns the number of sessions deactivated.
	DeactivateIdle(ctx context.Context, idleFor time.Duration, batchSize int) (int64, error)
}

// NotificationListOptions filters NotificationRepository.ListByUser.
type NotificationListOptions struct {
	UserID     string
	UnreadOnly bool
	Limit      int
	Offset     int
}

// NotificationRepository defines the interface for notification data operations.
type NotificationRepository interface {
	Create(ctx context.Context, req *model.CreateNotificationRequest) (*model.Notification, error)
	GetByID(ctx context.Context, id string) (*model.Notification, error)
	ListByUser(ctx context.Context, opts NotificationListOptions) ([]*model.Notification, error)
	MarkRead(ctx context.Context, id string) (bool, error)
}

// ApprovalPolicyRepository defines the interface for approval policy data
// operations. Policies are read-heavy; tier preference rows are the only
// per-user state.
type ApprovalPolicyRepository interface {
	// ListForAction returns enabled policies for an action name, every
	// channel and matcher variant included.
	ListForAction(ctx context.Context, actionName string) ([]*model.ApprovalPolicy, error)
	Upsert(ctx context.Context, req *model.UpsertPolicyRequest) (*model.ApprovalPolicy, error)

	// GetUserTierPref returns ErrNotFound when the user has no stored answer.
	GetUserTierPref(ctx context.Context, userID, actionName string) (*model.UserTierPref, error)
	SetUserTierPref(ctx context.Context, pref *model.UserTierPref) error
}

// CacheRepository defines the interface for caching operations.
type CacheRepository interface {
	// Set stores a value in the cache with the given key and TTL.
	// If TTL is 0, the key will not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get retrieves a value from the cache by key.
	// Returns nil if the key doesn't exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes a key from the cache.
	// Returns true if the key was deleted, false if it didn't exist.
	Delete(ctx context.Context, key string) (bool, error)

	// Exists checks if a key exists in the cache.
	Exists(ctx context.Context, key string) (bool, error)

	// SetIfNotExists atomically sets a key only if it doesn't already exist.
	// Returns true if the key was set, false if it already existed.
	// Useful for distributed locks and deduplication.
	SetIfNotExists(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Health checks the health of the cache connection.
	Health(ctx context.Context) error
}
