// Package service implements the orchestration logic on top of the
// repository ports: job intake, the approval gate, session routing,
// notification dispatch and the background sweeper.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/steward-labs/steward/internal/core"
	"github.com/steward-labs/steward/internal/domain/action"
	"github.com/steward-labs/steward/internal/domain/model"
)

// TierResolution is the outcome of resolving an action's approval tier. The
// winning policy is carried along so the gate can enforce its arg schema.
type TierResolution struct {
	Tier   model.ApprovalTier
	Policy *model.ApprovalPolicy
}

// TierRequest identifies the action occurrence being classified.
type TierRequest struct {
	ActionName string
	Channel    model.Channel
	UserID     string
	Args       []byte
}

// TierResolverOptions groups dependencies for TierResolver.
type TierResolverOptions struct {
	Policies *core.PolicyCache               // Required: cached policy lookups
	Prefs    core.ApprovalPolicyRepository   // Required: user tier preferences
	Logger   *slog.Logger                    // Optional: structured logger
}

// TierResolver classifies a proposed action occurrence into an approval tier.
// It fails closed: any lookup, compile or evaluation error yields
// requires_approval rather than letting an unclassifiable action slip through.
type TierResolver struct {
	policies *core.PolicyCache
	prefs    core.ApprovalPolicyRepository
	logger   *slog.Logger
}

// NewTierResolver constructs a new TierResolver.
func NewTierResolver(opts TierResolverOptions) (*TierResolver, error) {
	if opts.Policies == nil {
		return nil, errors.New("policy cache is required")
	}
	if opts.Prefs == nil {
		return nil, errors.New("approval policy repository is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &TierResolver{
		policies: opts.Policies,
		prefs:    opts.Prefs,
		logger:   logger.With("component", "tier_resolver"),
	}, nil
}

// Resolve returns the approval tier for an action occurrence. The returned
// tier is always actionable: user_configurable is resolved through the user's
// stored answer, and every failure path collapses to requires_approval.
func (r *TierResolver) Resolve(ctx context.Context, req TierRequest) TierResolution {
	resolution, err := r.resolve(ctx, req)
	if err != nil {
		r.logger.WarnContext(ctx, "tier resolution failed closed",
			"action", req.ActionName,
			"channel", req.Channel,
			"error", err,
		)
		return TierResolution{Tier: model.TierRequiresApproval, Policy: resolution.Policy}
	}
	return resolution
}

func (r *TierResolver) resolve(ctx context.Context, req TierRequest) (TierResolution, error) {
	closed := TierResolution{Tier: model.TierRequiresApproval}

	if req.ActionName == "" {
		return closed, errors.New("action name is required")
	}

	policies, err := r.policies.ListForAction(ctx, req.ActionName)
	if err != nil {
		return closed, fmt.Errorf("list policies: %w", err)
	}

	winner, err := r.selectPolicy(policies, req)
	if err != nil {
		return closed, err
	}
	if winner == nil {
		// No policy covers this occurrence; unclassified actions need a human.
		return closed, nil
	}

	resolution := TierResolution{Tier: winner.Tier, Policy: winner}
	if winner.Tier != model.TierUserConfigurable {
		return resolution, nil
	}

	pref, err := r.prefs.GetUserTierPref(ctx, req.UserID, req.ActionName)
	if errors.Is(err, core.ErrNotFound) {
		// The user has not answered yet; ask this time.
		resolution.Tier = model.TierRequiresApproval
		return resolution, nil
	}
	if err != nil {
		resolution.Tier = model.TierRequiresApproval
		return resolution, fmt.Errorf("get user tier pref: %w", err)
	}

	resolution.Tier = pref.Tier
	return resolution, nil
}

// selectPolicy narrows the action's policies to those applying to this
// occurrence and picks the most specific one. A matcher evaluation error
// aborts selection rather than silently skipping the policy.
func (r *TierResolver) selectPolicy(policies []*model.ApprovalPolicy, req TierRequest) (*model.ApprovalPolicy, error) {
	var winner *model.ApprovalPolicy

	for _, policy := range policies {
		if policy.Channel != nil && *policy.Channel != req.Channel {
			continue
		}

		if policy.Matcher != nil && *policy.Matcher != "" {
			matcher, err := action.CompileMatcher(*policy.Matcher)
			if err != nil {
				return nil, fmt.Errorf("compile matcher for policy %s: %w", policy.ID, err)
			}
			matched, err := matcher.Matches(req.Args)
			if err != nil {
				return nil, fmt.Errorf("evaluate matcher for policy %s: %w", policy.ID, err)
			}
			if !matched {
				continue
			}
		}

		if winner == nil {
			winner = policy
			continue
		}
		switch {
		case policy.Specificity() > winner.Specificity():
			winner = policy
		case policy.Specificity() == winner.Specificity() &&
			tierRank(policy.Tier) > tierRank(winner.Tier):
			// Equal specificity resolves toward the stricter tier.
			winner = policy
		}
	}
	return winner, nil
}

// tierRank orders tiers by restrictiveness for tie-breaking.
func tierRank(t model.ApprovalTier) int {
	switch t {
	case model.TierRequiresApproval:
		return 2
	case model.TierUserConfigurable:
		return 1
	case model.TierAutoApprove:
		return 0
	}
	return 3 // unknown tiers rank strictest
}
