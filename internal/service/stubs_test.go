package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/steward-labs/steward/internal/core"
	"github.com/steward-labs/steward/internal/domain/model"
)

// In-memory test doubles for the repository ports. They reproduce the
// concurrency contracts the real repositories enforce (CAS on pending
// actions, single-winner claims) so the orchestration logic can be tested
// without a database.

type memCache struct {
	mu sync.Mutex
	m  map[string][]byte
}

func newMemCache() *memCache { return &memCache{m: map[string][]byte{}} }

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = append([]byte(nil), value...)
	return nil
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m[key], nil
}

func (c *memCache) Delete(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.m[key]
	delete(c.m, key)
	return ok, nil
}

func (c *memCache) Exists(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.m[key]
	return ok, nil
}

func (c *memCache) SetIfNotExists(_ context.Context, key string, value []byte, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.m[key]; ok {
		return false, nil
	}
	c.m[key] = append([]byte(nil), value...)
	return true, nil
}

func (c *memCache) Health(context.Context) error { return nil }

type stubPolicyRepo struct {
	mu       sync.Mutex
	policies []*model.ApprovalPolicy
	prefs    map[string]model.ApprovalTier
	listErr  error
	prefErr  error
}

func newStubPolicyRepo() *stubPolicyRepo {
	return &stubPolicyRepo{prefs: map[string]model.ApprovalTier{}}
}

func (r *stubPolicyRepo) ListForAction(_ context.Context, actionName string) ([]*model.ApprovalPolicy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []*model.ApprovalPolicy
	for _, p := range r.policies {
		if p.ActionName == actionName && p.Enabled {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *stubPolicyRepo) Upsert(_ context.Context, req *model.UpsertPolicyRequest) (*model.ApprovalPolicy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	policy := &model.ApprovalPolicy{
		ID:         uuid.NewString(),
		ActionName: req.ActionName,
		Channel:    req.Channel,
		Matcher:    req.Matcher,
		ArgSchema:  req.ArgSchema,
		Tier:       req.Tier,
		Enabled:    req.Enabled,
	}
	r.policies = append(r.policies, policy)
	return policy, nil
}

func (r *stubPolicyRepo) GetUserTierPref(_ context.Context, userID, actionName string) (*model.UserTierPref, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.prefErr != nil {
		return nil, r.prefErr
	}
	tier, ok := r.prefs[userID+"/"+actionName]
	if !ok {
		return nil, core.ErrNotFound
	}
	return &model.UserTierPref{UserID: userID, ActionName: actionName, Tier: tier}, nil
}

func (r *stubPolicyRepo) SetUserTierPref(_ context.Context, pref *model.UserTierPref) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prefs[pref.UserID+"/"+pref.ActionName] = pref.Tier
	return nil
}

type stubActionRepo struct {
	mu      sync.Mutex
	actions map[string]*model.PendingAction
}

func newStubActionRepo() *stubActionRepo {
	return &stubActionRepo{actions: map[string]*model.PendingAction{}}
}

func (r *stubActionRepo) Create(_ context.Context, req *model.ProposeActionRequest, tier model.ApprovalTier, expiresAt time.Time) (*model.PendingAction, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	action := &model.PendingAction{
		ID:         uuid.NewString(),
		ActionName: req.ActionName,
		Args:       req.Args,
		Status:     model.ActionStatusPending,
		Tier:       tier,
		UserID:     req.UserID,
		SessionID:  req.SessionID,
		Context:    req.Context,
		ExpiresAt:  expiresAt,
		CreatedAt:  time.Now().UTC(),
	}
	r.actions[action.ID] = action
	return action, nil
}

func (r *stubActionRepo) GetByID(_ context.Context, id string) (*model.PendingAction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	action, ok := r.actions[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	copied := *action
	return &copied, nil
}

func (r *stubActionRepo) Resolve(_ context.Context, params core.ResolveActionParams) (*model.PendingAction, error) {
	if !params.Status.Terminal() {
		return nil, fmt.Errorf("resolve status must be terminal, got %q", params.Status)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	action, ok := r.actions[params.ID]
	if !ok {
		return nil, core.ErrNotFound
	}
	if action.Status != model.ActionStatusPending {
		return nil, core.ErrActionAlreadyResolved
	}
	now := time.Now().UTC()
	if params.Status == model.ActionStatusApproved && !action.ExpiresAt.After(now) {
		return nil, core.ErrActionAlreadyResolved
	}
	action.Status = params.Status
	action.RejectReason = params.Reason
	action.DecidedAt = &now
	copied := *action
	return &copied, nil
}

func (r *stubActionRepo) RecordExecutionResult(_ context.Context, id string, record model.ExecutionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	action, ok := r.actions[id]
	if !ok || action.Status != model.ActionStatusApproved {
		return core.ErrNotFound
	}
	encoded, err := json.Marshal(record)
	if err != nil {
		return err
	}
	action.ExecutionResult = encoded
	return nil
}

func (r *stubActionRepo) ListPendingByUser(_ context.Context, userID string) ([]*model.PendingAction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	var out []*model.PendingAction
	for _, action := range r.actions {
		if action.UserID == userID && action.Status == model.ActionStatusPending && action.ExpiresAt.After(now) {
			copied := *action
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *stubActionRepo) ExpireLapsed(_ context.Context, _ int) ([]*model.PendingAction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	var expired []*model.PendingAction
	for _, action := range r.actions {
		if action.Status == model.ActionStatusPending && !action.ExpiresAt.After(now) {
			action.Status = model.ActionStatusExpired
			action.DecidedAt = &now
			copied := *action
			expired = append(expired, &copied)
		}
	}
	return expired, nil
}

type stubNotificationRepo struct {
	mu      sync.Mutex
	records []*model.Notification
}

func (r *stubNotificationRepo) Create(_ context.Context, req *model.CreateNotificationRequest) (*model.Notification, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	notification := &model.Notification{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		Category:  req.Category,
		Title:     req.Title,
		Body:      req.Body,
		Metadata:  req.Metadata,
		CreatedAt: time.Now().UTC(),
	}
	r.records = append(r.records, notification)
	return notification, nil
}

func (r *stubNotificationRepo) GetByID(_ context.Context, id string) (*model.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.records {
		if n.ID == id {
			copied := *n
			return &copied, nil
		}
	}
	return nil, core.ErrNotFound
}

func (r *stubNotificationRepo) ListByUser(_ context.Context, opts core.NotificationListOptions) ([]*model.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Notification
	for _, n := range r.records {
		if n.UserID == opts.UserID && (!opts.UnreadOnly || !n.Read) {
			copied := *n
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *stubNotificationRepo) MarkRead(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.records {
		if n.ID == id && !n.Read {
			n.Read = true
			return true, nil
		}
	}
	return false, nil
}

func (r *stubNotificationRepo) categories() []model.NotificationCategory {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.NotificationCategory, 0, len(r.records))
	for _, n := range r.records {
		out = append(out, n.Category)
	}
	return out
}

type stubJobRepo struct {
	mu        sync.Mutex
	jobs      map[string]*model.Job
	createErr error
	requeued  int64
}

func newStubJobRepo() *stubJobRepo {
	return &stubJobRepo{jobs: map[string]*model.Job{}}
}

func (r *stubJobRepo) Create(_ context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return nil, r.createErr
	}
	job := &model.Job{
		ID:         uuid.NewString(),
		WorkType:   req.WorkType,
		Status:     model.JobStatusPending,
		Priority:   req.Priority,
		Payload:    req.Payload,
		UserID:     req.UserID,
		SessionID:  req.SessionID,
		MaxRetries: req.MaxRetries,
		CreatedAt:  time.Now().UTC(),
	}
	if req.ScheduledAt != nil {
		job.ScheduledAt = *req.ScheduledAt
	} else {
		job.ScheduledAt = job.CreatedAt
	}
	r.jobs[job.ID] = job
	return job, nil
}

func (r *stubJobRepo) GetByID(_ context.Context, id string) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (r *stubJobRepo) ClaimNext(_ context.Context, workerID string, leaseSeconds int) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	var best *model.Job
	for _, job := range r.jobs {
		if job.Status != model.JobStatusPending || job.ScheduledAt.After(now) {
			continue
		}
		if best == nil || job.Priority > best.Priority {
			best = job
		}
	}
	if best == nil {
		return nil, model.ErrNoJobsAvailable
	}
	lease := now.Add(time.Duration(leaseSeconds) * time.Second)
	best.Status = model.JobStatusClaimed
	best.ClaimedBy = &workerID
	best.ClaimedAt = &now
	best.LeaseExpiresAt = &lease
	copied := *best
	return &copied, nil
}

func (r *stubJobRepo) MarkRunning(_ context.Context, jobID, workerID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok || job.Status != model.JobStatusClaimed || job.ClaimedBy == nil || *job.ClaimedBy != workerID {
		return false, nil
	}
	job.Status = model.JobStatusRunning
	return true, nil
}

func (r *stubJobRepo) WaitForNotification(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (r *stubJobRepo) Heartbeat(_ context.Context, jobID string, leaseSeconds int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok || (job.Status != model.JobStatusClaimed && job.Status != model.JobStatusRunning) {
		return false, nil
	}
	lease := time.Now().Add(time.Duration(leaseSeconds) * time.Second)
	job.LeaseExpiresAt = &lease
	return true, nil
}

func (r *stubJobRepo) Complete(_ context.Context, id string, result json.RawMessage) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status != model.JobStatusRunning {
		return false, nil
	}
	now := time.Now().UTC()
	job.Status = model.JobStatusCompleted
	job.Result = result
	job.CompletedAt = &now
	job.LeaseExpiresAt = nil
	return true, nil
}

func (r *stubJobRepo) Fail(_ context.Context, params core.FailJobParams) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[params.JobID]
	if !ok || job.Status != model.JobStatusRunning {
		return nil, core.ErrNotFound
	}
	job.LastError = &params.ErrMsg
	job.ClaimedBy = nil
	job.ClaimedAt = nil
	job.LeaseExpiresAt = nil
	if params.Kind == model.FailureTransient && job.RetryCount+1 < job.MaxRetries {
		job.RetryCount++
		job.Status = model.JobStatusPending
		job.ScheduledAt = params.NextAttemptAt
	} else {
		if params.Kind == model.FailureTransient {
			job.RetryCount++
		}
		now := time.Now().UTC()
		job.Status = model.JobStatusFailed
		job.CompletedAt = &now
	}
	copied := *job
	return &copied, nil
}

func (r *stubJobRepo) Cancel(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status != model.JobStatusPending {
		return false, nil
	}
	job.Status = model.JobStatusCancelled
	return true, nil
}

func (r *stubJobRepo) Stats(_ context.Context, workType string) (*model.JobStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := &model.JobStats{}
	for _, job := range r.jobs {
		if job.WorkType != workType {
			continue
		}
		switch job.Status {
		case model.JobStatusPending:
			stats.Pending++
		case model.JobStatusClaimed:
			stats.Claimed++
		case model.JobStatusRunning:
			stats.Running++
		case model.JobStatusCompleted:
			stats.Completed++
		case model.JobStatusFailed:
			stats.Failed++
		case model.JobStatusCancelled:
			stats.Cancelled++
		}
	}
	return stats, nil
}

func (r *stubJobRepo) RequeueExpiredLeases(_ context.Context, _ int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requeued, nil
}

func (r *stubJobRepo) PurgeTerminal(_ context.Context, _ time.Duration, _ int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var purged int64
	for id, job := range r.jobs {
		switch job.Status {
		case model.JobStatusCompleted, model.JobStatusFailed, model.JobStatusCancelled:
			delete(r.jobs, id)
			purged++
		}
	}
	return purged, nil
}

func (r *stubJobRepo) jobsOfType(workType string) []*model.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Job
	for _, job := range r.jobs {
		if job.WorkType == workType {
			copied := *job
			out = append(out, &copied)
		}
	}
	return out
}

type stubSessionRepo struct {
	mu       sync.Mutex
	byKey    map[string]*model.Session
	byID     map[string]*model.Session
	idleHits int64
}

func newStubSessionRepo() *stubSessionRepo {
	return &stubSessionRepo{
		byKey: map[string]*model.Session{},
		byID:  map[string]*model.Session{},
	}
}

func (r *stubSessionRepo) Resolve(_ context.Context, req *model.ResolveSessionRequest) (*model.Session, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := model.SessionKey(req.Channel, req.UserID, req.PurposeKey)
	if session, ok := r.byKey[key]; ok && session.IsActive {
		session.LastUsedAt = time.Now().UTC()
		copied := *session
		return &copied, nil
	}
	session := &model.Session{
		ID:              uuid.NewString(),
		SessionKey:      key,
		Channel:         req.Channel,
		PurposeKey:      req.PurposeKey,
		UserID:          req.UserID,
		ParentSessionID: req.ParentSessionID,
		ParentSummary:   req.ParentSummary,
		IsActive:        true,
		LastUsedAt:      time.Now().UTC(),
		CreatedAt:       time.Now().UTC(),
	}
	r.byKey[key] = session
	r.byID[session.ID] = session
	copied := *session
	return &copied, nil
}

func (r *stubSessionRepo) GetByID(_ context.Context, id string) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.byID[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	copied := *session
	return &copied, nil
}

func (r *stubSessionRepo) DeactivateIdle(_ context.Context, _ time.Duration, _ int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.idleHits, nil
}

type stubExecutor struct {
	mu    sync.Mutex
	calls int
	fn    func(actionName string, args json.RawMessage) (json.RawMessage, error)
}

func (e *stubExecutor) Execute(_ context.Context, actionName string, args json.RawMessage) (json.RawMessage, error) {
	e.mu.Lock()
	e.calls++
	fn := e.fn
	e.mu.Unlock()
	if fn != nil {
		return fn(actionName, args)
	}
	return json.RawMessage(`{"ok":true}`), nil
}

func (e *stubExecutor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type stubAdapter struct {
	mu         sync.Mutex
	name       string
	deliverErr error
	delivered  []core.ChannelMessage
}

func (a *stubAdapter) Name() string { return a.name }

func (a *stubAdapter) Deliver(_ context.Context, _ string, msg core.ChannelMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.deliverErr != nil {
		return a.deliverErr
	}
	a.delivered = append(a.delivered, msg)
	return nil
}

func (a *stubAdapter) deliveredCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.delivered)
}

func newTestDispatcher(notifications *stubNotificationRepo, jobs core.JobRepository, adapters ...core.ChannelAdapter) *NotificationDispatcher {
	dispatcher, err := NewNotificationDispatcher(NotificationDispatcherOptions{
		Notifications: notifications,
		Jobs:          jobs,
		Adapters:      adapters,
	})
	if err != nil {
		panic(err)
	}
	return dispatcher
}

func newTestTierResolver(policies *stubPolicyRepo) *TierResolver {
	cache, err := core.NewPolicyCache(core.PolicyCacheOptions{
		Cache:    newMemCache(),
		Policies: policies,
	})
	if err != nil {
		panic(err)
	}
	resolver, err := NewTierResolver(TierResolverOptions{
		Policies: cache,
		Prefs:    policies,
	})
	if err != nil {
		panic(err)
	}
	return resolver
}
