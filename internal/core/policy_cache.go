package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/steward-labs/steward/internal/domain/model"
)

// PolicyCacheConfig holds configuration for approval policy caching.
type PolicyCacheConfig struct {
	TTL time.Duration `json:"ttl"`
}

// DefaultPolicyCacheConfig returns a PolicyCacheConfig with sensible defaults.
func DefaultPolicyCacheConfig() PolicyCacheConfig {
	return PolicyCacheConfig{
		TTL: 5 * time.Minute,
	}
}

// PolicyCache caches per-action approval policy lists in front of the policy
// repository. It is constructed once and injected into consumers; callers
// invalidate an action's entry when its policies change rather than waiting
// out the TTL.
type PolicyCache struct {
	cache    CacheRepository
	policies ApprovalPolicyRepository
	ttl      time.Duration
}

// PolicyCacheOptions bundles dependencies for NewPolicyCache.
type PolicyCacheOptions struct {
	Cache    CacheRepository
	Policies ApprovalPolicyRepository
	Config   PolicyCacheConfig
}

// NewPolicyCache creates a new PolicyCache.
func NewPolicyCache(opts PolicyCacheOptions) (*PolicyCache, error) {
	if opts.Cache == nil {
		return nil, fmt.Errorf("cache repository is required")
	}
	if opts.Policies == nil {
		return nil, fmt.Errorf("policy repository is required")
	}
	ttl := opts.Config.TTL
	if ttl <= 0 {
		ttl = DefaultPolicyCacheConfig().TTL
	}
	return &PolicyCache{
		cache:    opts.Cache,
		policies: opts.Policies,
		ttl:      ttl,
	}, nil
}

// ListForAction returns enabled policies for an action, served from cache
// when fresh. A cache read or decode failure falls through to the repository
// so a broken cache degrades to slower lookups, not wrong answers.
func (c *PolicyCache) ListForAction(ctx context.Context, actionName string) ([]*model.ApprovalPolicy, error) {
	key := c.policyKey(actionName)

	cached, err := c.cache.Get(ctx, key)
	if err == nil && len(cached) > 0 {
		var policies []*model.ApprovalPolicy
		if err := json.Unmarshal(cached, &policies); err == nil {
			return policies, nil
		}
	}

	policies, err := c.policies.ListForAction(ctx, actionName)
	if err != nil {
		return nil, err
	}

	if encoded, err := json.Marshal(policies); err == nil {
		// Best effort; a failed cache write only costs the next lookup.
		_ = c.cache.Set(ctx, key, encoded, c.ttl)
	}
	return policies, nil
}

// Invalidate drops the cached entry for an action.
func (c *PolicyCache) Invalidate(ctx context.Context, actionName string) error {
	_, err := c.cache.Delete(ctx, c.policyKey(actionName))
	return err
}

func (c *PolicyCache) policyKey(actionName string) string {
	return "approval:policies:" + actionName
}
