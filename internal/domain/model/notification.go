package model

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// NotificationCategory groups notifications by the kind of outcome they report.
type NotificationCategory string

const (
	// CategoryJobCompleted reports a background job finishing successfully.
	CategoryJobCompleted NotificationCategory = "job_completed"
	// CategoryJobFailed reports a background job failing terminally.
	CategoryJobFailed NotificationCategory = "job_failed"
	// CategoryApprovalRequested asks the user to decide on a proposed action.
	CategoryApprovalRequested NotificationCategory = "approval_requested"
	// CategoryActionExecuted reports an approved action that executed.
	CategoryActionExecuted NotificationCategory = "action_executed"
	// CategoryActionExecutionFailed reports an approved action whose execution failed.
	CategoryActionExecutionFailed NotificationCategory = "action_execution_failed"
	// CategoryActionRejected reports a rejected action.
	CategoryActionRejected NotificationCategory = "action_rejected"
	// CategoryActionExpired reports an action that lapsed unresolved.
	CategoryActionExpired NotificationCategory = "action_expired"
)

// Valid returns true if the category is one of the defined kinds.
func (c NotificationCategory) Valid() bool {
	switch c {
	case CategoryJobCompleted, CategoryJobFailed, CategoryApprovalRequested,
		CategoryActionExecuted, CategoryActionExecutionFailed,
		CategoryActionRejected, CategoryActionExpired:
		return true
	}
	return false
}

// Notification is the durable record of a terminal outcome surfaced to a user.
// The persisted row is the source of truth; channel delivery is best-effort
// on top of it.
type Notification struct {
	ID        string               `json:"id"                 db:"id"`
	UserID    string               `json:"user_id"            db:"user_id"`
	Category  NotificationCategory `json:"category"           db:"category"`
	Title     string               `json:"title"              db:"title"`
	Body      string               `json:"body"               db:"body"`
	Metadata  json.RawMessage      `json:"metadata,omitempty" db:"metadata"`
	Read      bool                 `json:"read"               db:"read"`
	CreatedAt time.Time            `json:"created_at"         db:"created_at"`
}

// CreateNotificationRequest creates a notification row.
type CreateNotificationRequest struct {
	UserID   string               `json:"user_id"`
	Category NotificationCategory `json:"category"`
	Title    string               `json:"title"`
	Body     string               `json:"body"`
	Metadata json.RawMessage      `json:"metadata,omitempty"`
}

// Validate validates the CreateNotificationRequest fields.
func (r *CreateNotificationRequest) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return errors.New("user id is required")
	}
	if !r.Category.Valid() {
		return errors.New("invalid notification category")
	}
	if strings.TrimSpace(r.Title) == "" {
		return errors.New("title is required")
	}
	return nil
}
