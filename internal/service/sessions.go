package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/steward-labs/steward/internal/core"
	"github.com/steward-labs/steward/internal/domain/model"
)

// SessionRouterOptions groups dependencies for SessionRouter.
type SessionRouterOptions struct {
	Sessions core.SessionRepository // Required: session storage
	Logger   *slog.Logger           // Optional: structured logger
}

// SessionRouter maps incoming triggers to execution sessions while enforcing
// the channel isolation rules: scheduled and heartbeat runs never see
// interactive history, and continuations carry only a condensed parent
// summary.
type SessionRouter struct {
	sessions core.SessionRepository
	logger   *slog.Logger
}

// NewSessionRouter constructs a new SessionRouter.
func NewSessionRouter(opts SessionRouterOptions) (*SessionRouter, error) {
	if opts.Sessions == nil {
		return nil, errors.New("session repository is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionRouter{
		sessions: opts.Sessions,
		logger:   logger.With("component", "session_router"),
	}, nil
}

// Resolve returns the session for a trigger, creating it on first use. Repeat
// triggers of the same channel/purpose pair land in the same session until it
// is deactivated for idleness.
func (r *SessionRouter) Resolve(ctx context.Context, req *model.ResolveSessionRequest) (*model.Session, error) {
	session, err := r.sessions.Resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	r.logger.DebugContext(ctx, "session resolved",
		"session_id", session.ID,
		"session_key", session.SessionKey,
		"channel", session.Channel,
	)
	return session, nil
}

// Continue opens a continuation session off a parent. The parent must exist;
// the summary is the only state the continuation inherits.
func (r *SessionRouter) Continue(
	ctx context.Context,
	parentID, userID, purposeKey, summary string,
) (*model.Session, error) {
	parent, err := r.sessions.GetByID(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("load parent session: %w", err)
	}

	var summaryPtr *string
	if summary != "" {
		summaryPtr = &summary
	}

	return r.Resolve(ctx, &model.ResolveSessionRequest{
		Channel:         model.ChannelContinuation,
		PurposeKey:      purposeKey,
		UserID:          userID,
		ParentSessionID: &parent.ID,
		ParentSummary:   summaryPtr,
	})
}

// Get returns a session by ID.
func (r *SessionRouter) Get(ctx context.Context, id string) (*model.Session, error) {
	return r.sessions.GetByID(ctx, id)
}
