package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/steward-labs/steward/internal/core"
	"github.com/steward-labs/steward/internal/domain/model"
)

// ApprovalPolicyRepo provides database operations for approval policies and
// per-user tier preferences.
type ApprovalPolicyRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewApprovalPolicyRepo creates a new ApprovalPolicyRepo.
func NewApprovalPolicyRepo(db *sql.DB, tp TimeProvider) *ApprovalPolicyRepo {
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &ApprovalPolicyRepo{DB: db, timeProvider: tp}
}

const approvalPolicyColumns = `
  id,
  action_name,
  channel,
  matcher,
  arg_schema,
  tier,
  enabled,
  created_at,
  updated_at
`

// ListForAction returns enabled policies for an action name, every channel
// and matcher variant included. The resolver narrows and ranks them.
func (r *ApprovalPolicyRepo) ListForAction(ctx context.Context, actionName string) ([]*model.ApprovalPolicy, error) {
	if actionName == "" {
		return nil, errors.New("action name is required")
	}

	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+approvalPolicyColumns+`
		FROM approval_policies
		WHERE action_name = $1 AND enabled
		ORDER BY created_at ASC
	`, actionName)
	if err != nil {
		return nil, fmt.Errorf("list approval policies: %w", err)
	}
	defer rows.Close()

	var policies []*model.ApprovalPolicy
	for rows.Next() {
		policy, scanErr := scanApprovalPolicy(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan approval policy: %w", scanErr)
		}
		policies = append(policies, policy)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("list approval policies: %w", rowsErr)
	}
	return policies, nil
}

// Upsert creates or replaces the policy for an (action, channel, matcher)
// identity.
func (r *ApprovalPolicyRepo) Upsert(ctx context.Context, req *model.UpsertPolicyRequest) (*model.ApprovalPolicy, error) {
	if req == nil {
		return nil, errors.New("upsert policy request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var schemaArg any
	if len(req.ArgSchema) > 0 {
		schemaArg = []byte(req.ArgSchema)
	}

	currentTime := r.timeProvider.Now().UTC()

	row := r.DB.QueryRowContext(ctx, `
		INSERT INTO approval_policies(action_name, channel, matcher, arg_schema, tier, enabled, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (action_name, COALESCE(channel, ''), COALESCE(matcher, ''))
		DO UPDATE SET
			arg_schema = EXCLUDED.arg_schema,
			tier = EXCLUDED.tier,
			enabled = EXCLUDED.enabled,
			updated_at = EXCLUDED.updated_at
		RETURNING `+approvalPolicyColumns,
		req.ActionName,
		req.Channel,
		req.Matcher,
		schemaArg,
		req.Tier,
		req.Enabled,
		currentTime,
	)

	policy, err := scanApprovalPolicy(row)
	if err != nil {
		return nil, fmt.Errorf("upsert approval policy: %w", err)
	}
	return policy, nil
}

// GetUserTierPref returns the user's stored answer for a user_configurable
// action, or core.ErrNotFound when none exists.
func (r *ApprovalPolicyRepo) GetUserTierPref(ctx context.Context, userID, actionName string) (*model.UserTierPref, error) {
	pref := &model.UserTierPref{}
	err := r.DB.QueryRowContext(ctx, `
		SELECT user_id, action_name, tier, updated_at
		FROM user_tier_prefs
		WHERE user_id = $1 AND action_name = $2
	`, userID, actionName).Scan(
		&pref.UserID,
		&pref.ActionName,
		&pref.Tier,
		&pref.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user tier pref: %w", err)
	}
	return pref, nil
}

// SetUserTierPref stores or replaces the user's answer for an action.
func (r *ApprovalPolicyRepo) SetUserTierPref(ctx context.Context, pref *model.UserTierPref) error {
	if pref == nil {
		return errors.New("user tier pref is required")
	}
	if err := pref.Validate(); err != nil {
		return err
	}

	currentTime := r.timeProvider.Now().UTC()

	if _, err := r.DB.ExecContext(ctx, `
		INSERT INTO user_tier_prefs(user_id, action_name, tier, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, action_name)
		DO UPDATE SET tier = EXCLUDED.tier, updated_at = EXCLUDED.updated_at
	`, pref.UserID, pref.ActionName, pref.Tier, currentTime); err != nil {
		return fmt.Errorf("set user tier pref: %w", err)
	}
	return nil
}

type approvalPolicyScanner interface {
	Scan(dest ...any) error
}

func scanApprovalPolicy(scanner approvalPolicyScanner) (*model.ApprovalPolicy, error) {
	policy := &model.ApprovalPolicy{}
	var (
		channel, matcher sql.NullString
		argSchema        []byte
	)

	if err := scanner.Scan(
		&policy.ID,
		&policy.ActionName,
		&channel,
		&matcher,
		&argSchema,
		&policy.Tier,
		&policy.Enabled,
		&policy.CreatedAt,
		&policy.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if channel.Valid {
		ch := model.Channel(channel.String)
		policy.Channel = &ch
	}
	policy.Matcher = cloneNullableString(matcher)
	if len(argSchema) > 0 {
		policy.ArgSchema = append(json.RawMessage(nil), argSchema...)
	}
	return policy, nil
}

var _ core.ApprovalPolicyRepository = (*ApprovalPolicyRepo)(nil)
