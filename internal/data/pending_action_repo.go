package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/steward-labs/steward/internal/core"
	"github.com/steward-labs/steward/internal/domain/model"
)

// PendingActionRepo provides database operations for the approval gate's
// durable pending records.
type PendingActionRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// PendingActionRepoConfig holds configuration options for the pending action repository.
type PendingActionRepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// NewPendingActionRepo creates a new PendingActionRepo.
func NewPendingActionRepo(db *sql.DB, cfg PendingActionRepoConfig) *PendingActionRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &PendingActionRepo{
		DB:           db,
		timeProvider: tp,
		logger:       logger.With("component", "pending_action_repo"),
	}
}

const pendingActionColumns = `
  id,
  action_name,
  args,
  status,
  tier,
  user_id,
  session_id,
  context,
  reject_reason,
  execution_result,
  decided_at,
  expires_at,
  created_at
`

// Create inserts a pending action awaiting a human decision.
func (r *PendingActionRepo) Create(
	ctx context.Context,
	req *model.ProposeActionRequest,
	tier model.ApprovalTier,
	expiresAt time.Time,
) (*model.PendingAction, error) {
	if req == nil {
		return nil, errors.New("propose action request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if !tier.Valid() {
		return nil, fmt.Errorf("invalid approval tier: %q", tier)
	}

	var contextArg any
	if len(req.Context) > 0 {
		contextArg = []byte(req.Context)
	}

	row := r.DB.QueryRowContext(ctx, `
      INSERT INTO pending_actions(action_name, args, status, tier, user_id, session_id, context, expires_at)
      VALUES ($1, $2, 'pending', $3, $4, $5, $6, $7)
      RETURNING `+pendingActionColumns,
		req.ActionName,
		[]byte(req.Args),
		tier,
		req.UserID,
		req.SessionID,
		contextArg,
		expiresAt.UTC(),
	)

	action, err := scanPendingAction(row)
	if err != nil {
		return nil, fmt.Errorf("insert pending action: %w", err)
	}
	return action, nil
}

// GetByID retrieves a pending action by its ID.
func (r *PendingActionRepo) GetByID(ctx context.Context, id string) (*model.PendingAction, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+pendingActionColumns+`
		FROM pending_actions
		WHERE id = $1
	`, id)

	action, err := scanPendingAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pending action: %w", err)
	}
	return action, nil
}

// Resolve performs the single allowed pending -> terminal transition. The
// update is guarded by status = 'pending', so of any number of racing
// approve/reject/expire callers exactly one wins; the rest observe
// ErrActionAlreadyResolved (or ErrNotFound when the row never existed).
// Approvals are additionally guarded by expires_at, so a lapsed action the
// sweeper has not reached yet can no longer trigger an execution.
func (r *PendingActionRepo) Resolve(
	ctx context.Context,
	params core.ResolveActionParams,
) (*model.PendingAction, error) {
	if !params.Status.Terminal() {
		return nil, fmt.Errorf("resolve status must be terminal, got %q", params.Status)
	}

	currentTime := r.timeProvider.Now().UTC()

	guard := ""
	if params.Status == model.ActionStatusApproved {
		guard = " AND expires_at > $4"
	}

	row := r.DB.QueryRowContext(ctx, `
		UPDATE pending_actions
		SET status = $2,
		    reject_reason = $3,
		    decided_at = $4
		WHERE id = $1 AND status = 'pending'`+guard+`
		RETURNING `+pendingActionColumns,
		params.ID,
		params.Status,
		params.Reason,
		currentTime,
	)

	action, err := scanPendingAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		// Distinguish "never existed" from "someone else got there first".
		if _, getErr := r.GetByID(ctx, params.ID); getErr != nil {
			return nil, getErr
		}
		return nil, core.ErrActionAlreadyResolved
	}
	if err != nil {
		return nil, fmt.Errorf("resolve pending action: %w", err)
	}
	return action, nil
}

// RecordExecutionResult stores the Tool Executor outcome on an approved action.
func (r *PendingActionRepo) RecordExecutionResult(
	ctx context.Context,
	id string,
	record model.ExecutionRecord,
) error {
	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal execution record: %w", err)
	}

	res, err := r.DB.ExecContext(ctx, `
		UPDATE pending_actions
		SET execution_result = $2
		WHERE id = $1 AND status = 'approved'
	`, id, encoded)
	if err != nil {
		return fmt.Errorf("record execution result: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("execution result rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return core.ErrNotFound
	}
	return nil
}

// ListPendingByUser returns undecided, unexpired actions for a user, newest
// first. Rows past expires_at are excluded even before the sweep reaches them.
func (r *PendingActionRepo) ListPendingByUser(ctx context.Context, userID string) ([]*model.PendingAction, error) {
	currentTime := r.timeProvider.Now().UTC()

	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+pendingActionColumns+`
		FROM pending_actions
		WHERE user_id = $1 AND status = 'pending' AND expires_at > $2
		ORDER BY created_at DESC
	`, userID, currentTime)
	if err != nil {
		return nil, fmt.Errorf("list pending actions: %w", err)
	}
	defer rows.Close()

	var actions []*model.PendingAction
	for rows.Next() {
		action, scanErr := scanPendingAction(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan pending action: %w", scanErr)
		}
		actions = append(actions, action)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("list pending actions: %w", rowsErr)
	}
	return actions, nil
}

// ExpireLapsed CAS-transitions pending rows past expires_at to expired and
// returns the rows it transitioned, so the caller can notify each owner.
func (r *PendingActionRepo) ExpireLapsed(ctx context.Context, batchSize int) ([]*model.PendingAction, error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	currentTime := r.timeProvider.Now().UTC()

	rows, err := r.DB.QueryContext(ctx, `
		WITH lapsed AS (
			SELECT id FROM pending_actions
			WHERE status = 'pending' AND expires_at <= $1
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE pending_actions p
		SET status = 'expired',
		    decided_at = $1
		FROM lapsed
		WHERE p.id = lapsed.id AND p.status = 'pending'
		RETURNING `+qualifiedPendingActionColumns("p"),
		currentTime, batchSize,
	)
	if err != nil {
		return nil, fmt.Errorf("expire lapsed actions: %w", err)
	}
	defer rows.Close()

	var expired []*model.PendingAction
	for rows.Next() {
		action, scanErr := scanPendingAction(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan expired action: %w", scanErr)
		}
		expired = append(expired, action)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("expire lapsed actions: %w", rowsErr)
	}
	return expired, nil
}

func qualifiedPendingActionColumns(alias string) string {
	return alias + `.id, ` +
		alias + `.action_name, ` +
		alias + `.args, ` +
		alias + `.status, ` +
		alias + `.tier, ` +
		alias + `.user_id, ` +
		alias + `.session_id, ` +
		alias + `.context, ` +
		alias + `.reject_reason, ` +
		alias + `.execution_result, ` +
		alias + `.decided_at, ` +
		alias + `.expires_at, ` +
		alias + `.created_at`
}

type pendingActionScanner interface {
	Scan(dest ...any) error
}

func scanPendingAction(scanner pendingActionScanner) (*model.PendingAction, error) {
	action := &model.PendingAction{}
	var (
		args, contextRaw, executionResult []byte
		sessionID, rejectReason           sql.NullString
		decidedAt                         sql.NullTime
	)

	if err := scanner.Scan(
		&action.ID,
		&action.ActionName,
		&args,
		&action.Status,
		&action.Tier,
		&action.UserID,
		&sessionID,
		&contextRaw,
		&rejectReason,
		&executionResult,
		&decidedAt,
		&action.ExpiresAt,
		&action.CreatedAt,
	); err != nil {
		return nil, err
	}

	action.Args = cloneJSON(args)
	if len(contextRaw) > 0 {
		action.Context = append(json.RawMessage(nil), contextRaw...)
	}
	if len(executionResult) > 0 {
		action.ExecutionResult = append(json.RawMessage(nil), executionResult...)
	}
	action.SessionID = cloneNullableString(sessionID)
	action.RejectReason = cloneNullableString(rejectReason)
	action.DecidedAt = cloneNullableTime(decidedAt)
	return action, nil
}

var _ core.PendingActionRepository = (*PendingActionRepo)(nil)
