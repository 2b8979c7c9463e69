package model

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// PendingActionStatus represents the approval state of a proposed action.
type PendingActionStatus string

const (
	// ActionStatusPending indicates the action awaits a human decision.
	ActionStatusPending PendingActionStatus = "pending"
	// ActionStatusApproved indicates the action was approved and executed (or execution was attempted).
	ActionStatusApproved PendingActionStatus = "approved"
	// ActionStatusRejected indicates the user declined the action.
	ActionStatusRejected PendingActionStatus = "rejected"
	// ActionStatusExpired indicates the decision window lapsed with no decision.
	ActionStatusExpired PendingActionStatus = "expired"
)

// Valid returns true if the status is one of the defined states.
func (s PendingActionStatus) Valid() bool {
	switch s {
	case ActionStatusPending, ActionStatusApproved, ActionStatusRejected, ActionStatusExpired:
		return true
	}
	return false
}

// Terminal reports whether the status is a terminal state. Every status other
// than pending is terminal: a pending action resolves exactly once.
func (s PendingActionStatus) Terminal() bool {
	return s.Valid() && s != ActionStatusPending
}

// PendingAction is a proposed side-effecting action held for human approval
// before execution.
type PendingAction struct {
	ID              string              `json:"id"                         db:"id"`
	ActionName      string              `json:"action_name"                db:"action_name"`
	Args            json.RawMessage     `json:"args"                       db:"args"`
	Status          PendingActionStatus `json:"status"                     db:"status"`
	Tier            ApprovalTier        `json:"tier"                       db:"tier"`
	UserID          string              `json:"user_id"                    db:"user_id"`
	SessionID       *string             `json:"session_id,omitempty"       db:"session_id"`
	Context         json.RawMessage     `json:"context,omitempty"          db:"context"`
	RejectReason    *string             `json:"reject_reason,omitempty"    db:"reject_reason"`
	ExecutionResult json.RawMessage     `json:"execution_result,omitempty" db:"execution_result"`
	DecidedAt       *time.Time          `json:"decided_at,omitempty"       db:"decided_at"`
	ExpiresAt       time.Time           `json:"expires_at"                 db:"expires_at"`
	CreatedAt       time.Time           `json:"created_at"                 db:"created_at"`
}

// ProposeActionRequest carries a proposed action into the approval gate.
type ProposeActionRequest struct {
	ActionName string          `json:"action_name"`
	Args       json.RawMessage `json:"args"`
	UserID     string          `json:"user_id"`
	SessionID  *string         `json:"session_id,omitempty"`
	Context    json.RawMessage `json:"context,omitempty"`
}

// Validate validates the ProposeActionRequest fields.
func (r *ProposeActionRequest) Validate() error {
	if strings.TrimSpace(r.ActionName) == "" {
		return errors.New("action name is required")
	}
	if strings.TrimSpace(r.UserID) == "" {
		return errors.New("user id is required")
	}
	if len(r.Args) == 0 {
		return errors.New("args are required (use {} for none)")
	}
	return nil
}

// ProposalOutcome is the result of proposing an action: either the action was
// auto-approved and executed synchronously (Executed set), or it was parked
// for approval (PendingActionID set). Exactly one of the two is populated.
type ProposalOutcome struct {
	Executed        bool            `json:"executed"`
	Result          json.RawMessage `json:"result,omitempty"`
	PendingActionID string          `json:"pending_action_id,omitempty"`
	Tier            ApprovalTier    `json:"tier"`
}

// ExecutionRecord is the persisted outcome of a Tool Executor invocation.
// The approval decision stands even when execution fails; Success
// distinguishes the two cases.
type ExecutionRecord struct {
	Success    bool            `json:"success"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	ExecutedAt time.Time       `json:"executed_at"`
}
