package jobrunner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/steward-labs/steward/internal/core"
	domainjob "github.com/steward-labs/steward/internal/domain/job"
	"github.com/steward-labs/steward/internal/domain/model"
	"github.com/steward-labs/steward/internal/service"
)

// WorkTypeAgentRun is the job work type for background agent turns: a
// scheduled, heartbeat or continuation trigger that runs the reasoning
// component inside its channel-scoped session.
const WorkTypeAgentRun = "agent_run"

// AgentRunPayload is the payload of an agent_run job.
type AgentRunPayload struct {
	Channel    model.Channel   `json:"channel"`
	PurposeKey string          `json:"purpose_key"`
	Input      json.RawMessage `json:"input,omitempty"`

	// ParentSessionID and ParentSummary apply to continuation runs only.
	ParentSessionID *string `json:"parent_session_id,omitempty"`
	ParentSummary   *string `json:"parent_summary,omitempty"`
}

// AgentRunResult is the recorded output of an agent_run job.
type AgentRunResult struct {
	SessionID string                 `json:"session_id"`
	Outcome   *model.ProposalOutcome `json:"outcome,omitempty"`
}

// NewNotificationDeliveryHandler returns the handler for the
// notification_delivery work type. Redelivery failures are transient by
// default: the channel may simply be down.
func NewNotificationDeliveryHandler(dispatcher *service.NotificationDispatcher) core.Handler {
	return func(ctx context.Context, job *model.Job) (json.RawMessage, error) {
		var payload service.NotificationDeliveryPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return nil, domainjob.Permanent(fmt.Errorf("decode payload: %w", err))
		}
		if payload.NotificationID == "" {
			return nil, domainjob.Permanent(errors.New("payload missing notification_id"))
		}

		if err := dispatcher.Redeliver(ctx, payload.NotificationID, payload.Adapter); err != nil {
			if errors.Is(err, core.ErrNotFound) {
				return nil, domainjob.Permanent(err)
			}
			return nil, err
		}
		return nil, nil
	}
}

// NewAgentRunHandler returns the handler for the agent_run work type. It
// resolves the channel-scoped session, asks the proposer for an action and
// routes the proposal through the approval gate.
func NewAgentRunHandler(
	router *service.SessionRouter,
	proposer core.ToolProposer,
	gate *service.PendingActionsGate,
) core.Handler {
	return func(ctx context.Context, job *model.Job) (json.RawMessage, error) {
		var payload AgentRunPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return nil, domainjob.Permanent(fmt.Errorf("decode payload: %w", err))
		}

		session, err := router.Resolve(ctx, &model.ResolveSessionRequest{
			Channel:         payload.Channel,
			PurposeKey:      payload.PurposeKey,
			UserID:          job.UserID,
			ParentSessionID: payload.ParentSessionID,
			ParentSummary:   payload.ParentSummary,
		})
		if err != nil {
			// Isolation rule violations cannot heal on retry.
			return nil, domainjob.Permanent(fmt.Errorf("resolve session: %w", err))
		}

		proposal, err := proposer.Propose(ctx, core.ProposalContext{
			UserID:    job.UserID,
			SessionID: session.ID,
			Channel:   payload.Channel,
			Input:     payload.Input,
		})
		if err != nil {
			return nil, fmt.Errorf("propose: %w", err)
		}

		result := AgentRunResult{SessionID: session.ID}
		if proposal != nil {
			proposal.UserID = job.UserID
			if proposal.SessionID == nil {
				proposal.SessionID = &session.ID
			}
			outcome, proposeErr := gate.Propose(ctx, proposal, payload.Channel)
			if proposeErr != nil {
				if errors.Is(proposeErr, service.ErrSchemaViolation) {
					return nil, domainjob.Permanent(proposeErr)
				}
				return nil, proposeErr
			}
			result.Outcome = outcome
		}

		encoded, err := json.Marshal(result)
		if err != nil {
			return nil, domainjob.Permanent(fmt.Errorf("encode result: %w", err))
		}
		return encoded, nil
	}
}
