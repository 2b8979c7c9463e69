package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/steward-labs/steward/internal/core"
	"github.com/steward-labs/steward/internal/data"
	"github.com/steward-labs/steward/internal/domain/action"
	"github.com/steward-labs/steward/internal/domain/model"
	"github.com/steward-labs/steward/internal/observability/metrics"
	"github.com/steward-labs/steward/internal/observability/statsd"
)

// ErrSchemaViolation wraps argument validation failures so API callers can
// map them to a client error.
var ErrSchemaViolation = errors.New("action args violate policy schema")

// PendingActionsGateOptions groups dependencies for PendingActionsGate.
type PendingActionsGateOptions struct {
	Actions      core.PendingActionRepository // Required: durable pending records
	Tiers        *TierResolver                // Required: tier classification
	Executor     core.ToolExecutor            // Required: performs the side effect
	Dispatcher   *NotificationDispatcher      // Required: user-facing notices
	ApprovalTTL  time.Duration                // Required: decision window
	TimeProvider data.TimeProvider            // Optional: defaults to real time
	Logger       *slog.Logger                 // Optional: structured logger
	Metrics      statsd.Sink                  // Optional: decision metrics
}

// PendingActionsGate sits between the proposing component and the Tool
// Executor. Every proposed side effect passes through it exactly once:
// auto-approved actions execute synchronously and leave no pending row,
// everything else is parked as a durable pending action until a human
// decides or the decision window lapses.
type PendingActionsGate struct {
	actions      core.PendingActionRepository
	tiers        *TierResolver
	executor     core.ToolExecutor
	dispatcher   *NotificationDispatcher
	approvalTTL  time.Duration
	timeProvider data.TimeProvider
	logger       *slog.Logger
	metrics      statsd.Sink
}

// NewPendingActionsGate constructs a new PendingActionsGate.
func NewPendingActionsGate(opts PendingActionsGateOptions) (*PendingActionsGate, error) {
	if opts.Actions == nil {
		return nil, errors.New("pending action repository is required")
	}
	if opts.Tiers == nil {
		return nil, errors.New("tier resolver is required")
	}
	if opts.Executor == nil {
		return nil, errors.New("tool executor is required")
	}
	if opts.Dispatcher == nil {
		return nil, errors.New("notification dispatcher is required")
	}
	if opts.ApprovalTTL <= 0 {
		return nil, errors.New("approval TTL must be positive")
	}

	tp := opts.TimeProvider
	if tp == nil {
		tp = &data.RealTimeProvider{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &PendingActionsGate{
		actions:      opts.Actions,
		tiers:        opts.Tiers,
		executor:     opts.Executor,
		dispatcher:   opts.Dispatcher,
		approvalTTL:  opts.ApprovalTTL,
		timeProvider: tp,
		logger:       logger.With("component", "pending_actions_gate"),
		metrics:      opts.Metrics,
	}, nil
}

// Propose routes a proposed action through the gate. The returned outcome
// either carries the synchronous execution result (auto-approved) or the ID
// of the pending record awaiting a decision.
func (g *PendingActionsGate) Propose(
	ctx context.Context,
	req *model.ProposeActionRequest,
	channel model.Channel,
) (*model.ProposalOutcome, error) {
	if req == nil {
		return nil, errors.New("propose action request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	resolution := g.tiers.Resolve(ctx, TierRequest{
		ActionName: req.ActionName,
		Channel:    channel,
		UserID:     req.UserID,
		Args:       req.Args,
	})

	if resolution.Policy != nil && len(resolution.Policy.ArgSchema) > 0 {
		schema, err := action.ParseSchema(resolution.Policy.ArgSchema)
		if err != nil {
			return nil, fmt.Errorf("parse policy arg schema: %w", err)
		}
		if err := schema.Validate(req.Args); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSchemaViolation, err)
		}
	}

	if resolution.Tier == model.TierAutoApprove {
		return g.executeAuto(ctx, req, resolution.Tier)
	}

	expiresAt := g.timeProvider.Now().UTC().Add(g.approvalTTL)
	pending, err := g.actions.Create(ctx, req, resolution.Tier, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("park pending action: %w", err)
	}

	g.notify(ctx, req.UserID, model.CategoryApprovalRequested,
		"Approval needed",
		fmt.Sprintf("Action %s is waiting on your decision.", req.ActionName),
		pendingMetadata(pending),
	)

	g.logger.InfoContext(ctx, "action parked for approval",
		"pending_action_id", pending.ID,
		"action", req.ActionName,
		"expires_at", pending.ExpiresAt,
	)
	metrics.EmitApprovalDecision(g.metrics, metrics.ApprovalMetric{
		ActionName: req.ActionName,
		Tier:       string(pending.Tier),
		Decision:   "parked",
	})

	return &model.ProposalOutcome{
		PendingActionID: pending.ID,
		Tier:            resolution.Tier,
	}, nil
}

// executeAuto performs an auto-approved action synchronously. No pending row
// exists for these; the notification record is the only durable trace.
func (g *PendingActionsGate) executeAuto(
	ctx context.Context,
	req *model.ProposeActionRequest,
	tier model.ApprovalTier,
) (*model.ProposalOutcome, error) {
	result, err := g.executor.Execute(ctx, req.ActionName, req.Args)
	if err != nil {
		g.notify(ctx, req.UserID, model.CategoryActionExecutionFailed,
			"Action failed",
			fmt.Sprintf("Action %s failed: %v", req.ActionName, err),
			nil,
		)
		return nil, fmt.Errorf("execute %s: %w", req.ActionName, err)
	}

	g.notify(ctx, req.UserID, model.CategoryActionExecuted,
		"Action completed",
		fmt.Sprintf("Action %s ran automatically.", req.ActionName),
		nil,
	)
	metrics.EmitApprovalDecision(g.metrics, metrics.ApprovalMetric{
		ActionName: req.ActionName,
		Tier:       string(tier),
		Decision:   "auto_executed",
	})

	return &model.ProposalOutcome{
		Executed: true,
		Result:   result,
		Tier:     tier,
	}, nil
}

// Approve resolves a pending action to approved and executes it exactly once.
// The compare-and-set in the repository guarantees a racing approve, reject
// or expiry sweep cannot trigger a second execution. Execution failure does
// not undo the approval; the failure is recorded on the action and surfaced
// as a notification.
func (g *PendingActionsGate) Approve(ctx context.Context, id string) (*model.PendingAction, error) {
	approved, err := g.actions.Resolve(ctx, core.ResolveActionParams{
		ID:     id,
		Status: model.ActionStatusApproved,
	})
	if err != nil {
		return nil, err
	}

	record := model.ExecutionRecord{ExecutedAt: g.timeProvider.Now().UTC()}
	result, execErr := g.executor.Execute(ctx, approved.ActionName, approved.Args)
	if execErr != nil {
		record.Error = execErr.Error()
	} else {
		record.Success = true
		record.Result = result
	}

	if recordErr := g.actions.RecordExecutionResult(ctx, approved.ID, record); recordErr != nil {
		g.logger.ErrorContext(ctx, "record execution result",
			"pending_action_id", approved.ID,
			"error", recordErr,
		)
	}

	if execErr != nil {
		g.notify(ctx, approved.UserID, model.CategoryActionExecutionFailed,
			"Approved action failed",
			fmt.Sprintf("Action %s was approved but failed: %v", approved.ActionName, execErr),
			pendingMetadata(approved),
		)
	} else {
		g.notify(ctx, approved.UserID, model.CategoryActionExecuted,
			"Action completed",
			fmt.Sprintf("Action %s ran after your approval.", approved.ActionName),
			pendingMetadata(approved),
		)
	}

	metrics.EmitApprovalDecision(g.metrics, metrics.ApprovalMetric{
		ActionName: approved.ActionName,
		Tier:       string(approved.Tier),
		Decision:   "approved",
	})

	encoded, err := json.Marshal(record)
	if err == nil {
		approved.ExecutionResult = encoded
	}
	return approved, nil
}

// Reject resolves a pending action to rejected. The Tool Executor is never
// invoked for a rejected action.
func (g *PendingActionsGate) Reject(ctx context.Context, id string, reason *string) (*model.PendingAction, error) {
	rejected, err := g.actions.Resolve(ctx, core.ResolveActionParams{
		ID:     id,
		Status: model.ActionStatusRejected,
		Reason: reason,
	})
	if err != nil {
		return nil, err
	}

	body := fmt.Sprintf("Action %s was rejected.", rejected.ActionName)
	if reason != nil && *reason != "" {
		body = fmt.Sprintf("Action %s was rejected: %s", rejected.ActionName, *reason)
	}
	g.notify(ctx, rejected.UserID, model.CategoryActionRejected,
		"Action rejected", body, pendingMetadata(rejected))
	metrics.EmitApprovalDecision(g.metrics, metrics.ApprovalMetric{
		ActionName: rejected.ActionName,
		Tier:       string(rejected.Tier),
		Decision:   "rejected",
	})

	return rejected, nil
}

// Get returns a pending action by ID.
func (g *PendingActionsGate) Get(ctx context.Context, id string) (*model.PendingAction, error) {
	return g.actions.GetByID(ctx, id)
}

// ListPending returns a user's undecided, unexpired actions.
func (g *PendingActionsGate) ListPending(ctx context.Context, userID string) ([]*model.PendingAction, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	return g.actions.ListPendingByUser(ctx, userID)
}

// notify dispatches best effort; losing a notice never fails the operation
// that produced it.
func (g *PendingActionsGate) notify(
	ctx context.Context,
	userID string,
	category model.NotificationCategory,
	title, body string,
	metadata json.RawMessage,
) {
	if _, err := g.dispatcher.Dispatch(ctx, &model.CreateNotificationRequest{
		UserID:   userID,
		Category: category,
		Title:    title,
		Body:     body,
		Metadata: metadata,
	}); err != nil {
		g.logger.ErrorContext(ctx, "dispatch notification",
			"category", category,
			"error", err,
		)
	}
}

func pendingMetadata(a *model.PendingAction) json.RawMessage {
	encoded, err := json.Marshal(map[string]string{
		"pending_action_id": a.ID,
		"action_name":       a.ActionName,
	})
	if err != nil {
		return nil
	}
	return encoded
}
