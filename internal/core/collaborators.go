package core

import (
	"context"
	"encoding/json"

	"github.com/steward-labs/steward/internal/domain/model"
)

// This file defines the contracts for the external collaborators the core
// consumes but never implements: the reasoning component, the side-effecting
// executor and the delivery channels.

// ToolExecutor performs the actual side effect of an approved or
// auto-approved action. The core treats it as opaque: a returned error means
// the side effect did not take, and the gate records it without retrying.
type ToolExecutor interface {
	Execute(ctx context.Context, actionName string, args json.RawMessage) (json.RawMessage, error)
}

// ProposalContext carries what the reasoning component needs to decide on an
// action. The core never inspects the Input beyond passing it through.
type ProposalContext struct {
	UserID    string          `json:"user_id"`
	SessionID string          `json:"session_id"`
	Channel   model.Channel   `json:"channel"`
	Input     json.RawMessage `json:"input"`
}

// ToolProposer is the reasoning component that decides which action to
// propose. Modelled as an interface so the orchestration logic is testable
// with a deterministic stub.
type ToolProposer interface {
	Propose(ctx context.Context, pctx ProposalContext) (*model.ProposeActionRequest, error)
}

// ChannelMessage is the channel-agnostic payload handed to adapters.
type ChannelMessage struct {
	NotificationID string                     `json:"notification_id"`
	Category       model.NotificationCategory `json:"category"`
	Title          string                     `json:"title"`
	Body           string                     `json:"body"`
	Metadata       json.RawMessage            `json:"metadata,omitempty"`
}

// ChannelAdapter delivers messages over one external channel. Adapters are
// registered externally; a delivery error is logged and may be resubmitted
// as a job, the persisted notification row stays the source of truth.
type ChannelAdapter interface {
	Name() string
	Deliver(ctx context.Context, userID string, msg ChannelMessage) error
}
