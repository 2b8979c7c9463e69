package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ApprovalTier is the gate's verdict on how a proposed action may proceed.
type ApprovalTier string

const (
	// TierAutoApprove lets the action execute immediately without a human decision.
	TierAutoApprove ApprovalTier = "auto_approve"
	// TierRequiresApproval parks the action until a human approves or rejects it.
	TierRequiresApproval ApprovalTier = "requires_approval"
	// TierUserConfigurable defers to the user's stored preference; unresolved it
	// behaves as requires_approval.
	TierUserConfigurable ApprovalTier = "user_configurable"
)

// Valid returns true if the tier is one of the defined tiers.
func (t ApprovalTier) Valid() bool {
	switch t {
	case TierAutoApprove, TierRequiresApproval, TierUserConfigurable:
		return true
	}
	return false
}

// Resolved reports whether the tier is directly actionable. user_configurable
// must be resolved against the user's preference first.
func (t ApprovalTier) Resolved() bool {
	return t == TierAutoApprove || t == TierRequiresApproval
}

// UnmarshalText implements encoding.TextUnmarshaler so tiers parse from config
// and request bodies.
func (t *ApprovalTier) UnmarshalText(text []byte) error {
	v := ApprovalTier(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid approval tier: %q", string(text))
	}
	*t = v
	return nil
}

// ApprovalPolicy maps an action (optionally narrowed by channel and an
// argument matcher) to an approval tier. Policies with a non-empty Matcher
// apply only when the expression evaluates truthy against the proposed args;
// among applicable policies the most specific wins.
type ApprovalPolicy struct {
	ID         string          `json:"id"                    db:"id"`
	ActionName string          `json:"action_name"           db:"action_name"`
	Channel    *Channel        `json:"channel,omitempty"     db:"channel"`
	Matcher    *string         `json:"matcher,omitempty"     db:"matcher"`
	ArgSchema  json.RawMessage `json:"arg_schema,omitempty"  db:"arg_schema"`
	Tier       ApprovalTier    `json:"tier"                  db:"tier"`
	Enabled    bool            `json:"enabled"               db:"enabled"`
	CreatedAt  time.Time       `json:"created_at"            db:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"            db:"updated_at"`
}

// Specificity orders applicable policies: matcher beats channel beats bare
// action name. Higher wins.
func (p *ApprovalPolicy) Specificity() int {
	score := 0
	if p.Channel != nil {
		score += 1
	}
	if p.Matcher != nil && *p.Matcher != "" {
		score += 2
	}
	return score
}

// UpsertPolicyRequest creates or replaces an approval policy.
type UpsertPolicyRequest struct {
	ActionName string          `json:"action_name"`
	Channel    *Channel        `json:"channel,omitempty"`
	Matcher    *string         `json:"matcher,omitempty"`
	ArgSchema  json.RawMessage `json:"arg_schema,omitempty"`
	Tier       ApprovalTier    `json:"tier"`
	Enabled    bool            `json:"enabled"`
}

// Validate validates the UpsertPolicyRequest fields.
func (r *UpsertPolicyRequest) Validate() error {
	if strings.TrimSpace(r.ActionName) == "" {
		return errors.New("action name is required")
	}
	if !r.Tier.Valid() {
		return fmt.Errorf("invalid approval tier: %q", r.Tier)
	}
	if r.Channel != nil && !r.Channel.Valid() {
		return fmt.Errorf("invalid channel: %q", *r.Channel)
	}
	return nil
}

// UserTierPref is a user's stored answer for a user_configurable action.
type UserTierPref struct {
	UserID     string       `json:"user_id"     db:"user_id"`
	ActionName string       `json:"action_name" db:"action_name"`
	Tier       ApprovalTier `json:"tier"        db:"tier"`
	UpdatedAt  time.Time    `json:"updated_at"  db:"updated_at"`
}

// Validate checks the preference is directly actionable; storing
// user_configurable as a preference would loop.
func (p *UserTierPref) Validate() error {
	if strings.TrimSpace(p.UserID) == "" {
		return errors.New("user id is required")
	}
	if strings.TrimSpace(p.ActionName) == "" {
		return errors.New("action name is required")
	}
	if !p.Tier.Resolved() {
		return fmt.Errorf("preference tier must be auto_approve or requires_approval, got %q", p.Tier)
	}
	return nil
}
