package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/steward-labs/steward/internal/core"
	"github.com/steward-labs/steward/internal/data"
	"github.com/steward-labs/steward/internal/domain/model"
	"github.com/steward-labs/steward/internal/service"
	"github.com/steward-labs/steward/internal/testutil"
)

// In-memory repository doubles for router tests. They honor the same
// contracts the real repositories do (CAS resolution, pending-only cancel)
// so handler status mapping can be exercised end to end.

type fakeJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*model.Job
}

func newFakeJobRepo() *fakeJobRepo { return &fakeJobRepo{jobs: map[string]*model.Job{}} }

func (r *fakeJobRepo) Create(_ context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	job := &model.Job{
		ID:          uuid.NewString(),
		WorkType:    req.WorkType,
		Status:      model.JobStatusPending,
		Priority:    req.Priority,
		Payload:     req.Payload,
		UserID:      req.UserID,
		SessionID:   req.SessionID,
		MaxRetries:  req.MaxRetries,
		CreatedAt:   time.Now().UTC(),
		ScheduledAt: time.Now().UTC(),
	}
	r.jobs[job.ID] = job
	return job, nil
}

func (r *fakeJobRepo) GetByID(_ context.Context, id string) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (r *fakeJobRepo) ClaimNext(context.Context, string, int) (*model.Job, error) {
	return nil, model.ErrNoJobsAvailable
}

func (r *fakeJobRepo) MarkRunning(context.Context, string, string) (bool, error) {
	return false, nil
}

func (r *fakeJobRepo) WaitForNotification(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (r *fakeJobRepo) Heartbeat(context.Context, string, int) (bool, error) { return false, nil }

func (r *fakeJobRepo) Complete(context.Context, string, json.RawMessage) (bool, error) {
	return false, nil
}

func (r *fakeJobRepo) Fail(context.Context, core.FailJobParams) (*model.Job, error) {
	return nil, core.ErrNotFound
}

func (r *fakeJobRepo) Cancel(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status != model.JobStatusPending {
		return false, nil
	}
	job.Status = model.JobStatusCancelled
	return true, nil
}

func (r *fakeJobRepo) Stats(_ context.Context, workType string) (*model.JobStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := &model.JobStats{}
	for _, job := range r.jobs {
		if workType != "" && job.WorkType != workType {
			continue
		}
		if job.Status == model.JobStatusPending {
			stats.Pending++
		}
	}
	return stats, nil
}

func (r *fakeJobRepo) RequeueExpiredLeases(context.Context, int) (int64, error) { return 0, nil }

func (r *fakeJobRepo) PurgeTerminal(context.Context, time.Duration, int) (int64, error) {
	return 0, nil
}

type fakeActionRepo struct {
	mu      sync.Mutex
	actions map[string]*model.PendingAction
}

func newFakeActionRepo() *fakeActionRepo {
	return &fakeActionRepo{actions: map[string]*model.PendingAction{}}
}

func (r *fakeActionRepo) Create(_ context.Context, req *model.ProposeActionRequest, tier model.ApprovalTier, expiresAt time.Time) (*model.PendingAction, error) {
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

func (r *fakeActionRepo) GetByID(_ context.Context, id string) (*model.PendingAction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	action, ok := r.actions[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	copied := *action
	return &copied, nil
}

func (r *fakeActionRepo) Resolve(_ context.Context, params core.ResolveActionParams) (*model.PendingAction, error) {
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

func (r *fakeActionRepo) RecordExecutionResult(_ context.Context, id string, record model.ExecutionRecord) error {
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

func (r *fakeActionRepo) ListPendingByUser(_ context.Context, userID string) ([]*model.PendingAction, error) {
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

func (r *fakeActionRepo) ExpireLapsed(context.Context, int) ([]*model.PendingAction, error) {
	return nil, nil
}

type fakeNotificationRepo struct {
	mu      sync.Mutex
	records []*model.Notification
}

func (r *fakeNotificationRepo) Create(_ context.Context, req *model.CreateNotificationRequest) (*model.Notification, error) {
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

func (r *fakeNotificationRepo) GetByID(_ context.Context, id string) (*model.Notification, error) {
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

func (r *fakeNotificationRepo) ListByUser(_ context.Context, opts core.NotificationListOptions) ([]*model.Notification, error) {
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

func (r *fakeNotificationRepo) MarkRead(_ context.Context, id string) (bool, error) {
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

type fakePolicyRepo struct {
	mu       sync.Mutex
	policies []*model.ApprovalPolicy
	prefs    map[string]model.ApprovalTier
}

func newFakePolicyRepo() *fakePolicyRepo {
	return &fakePolicyRepo{prefs: map[string]model.ApprovalTier{}}
}

func (r *fakePolicyRepo) ListForAction(_ context.Context, actionName string) ([]*model.ApprovalPolicy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.ApprovalPolicy
	for _, p := range r.policies {
		if p.ActionName == actionName && p.Enabled {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *fakePolicyRepo) Upsert(_ context.Context, req *model.UpsertPolicyRequest) (*model.ApprovalPolicy, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
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

func (r *fakePolicyRepo) GetUserTierPref(_ context.Context, userID, actionName string) (*model.UserTierPref, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tier, ok := r.prefs[userID+"/"+actionName]
	if !ok {
		return nil, core.ErrNotFound
	}
	return &model.UserTierPref{UserID: userID, ActionName: actionName, Tier: tier}, nil
}

func (r *fakePolicyRepo) SetUserTierPref(_ context.Context, pref *model.UserTierPref) error {
	if err := pref.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prefs[pref.UserID+"/"+pref.ActionName] = pref.Tier
	return nil
}

type fakeSessionRepo struct {
	mu    sync.Mutex
	byKey map[string]*model.Session
	byID  map[string]*model.Session
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{byKey: map[string]*model.Session{}, byID: map[string]*model.Session{}}
}

func (r *fakeSessionRepo) Resolve(_ context.Context, req *model.ResolveSessionRequest) (*model.Session, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := model.SessionKey(req.Channel, req.UserID, req.PurposeKey)
	if session, ok := r.byKey[key]; ok && session.IsActive {
		copied := *session
		return &copied, nil
	}
	session := &model.Session{
		ID:         uuid.NewString(),
		SessionKey: key,
		Channel:    req.Channel,
		PurposeKey: req.PurposeKey,
		UserID:     req.UserID,
		IsActive:   true,
		LastUsedAt: time.Now().UTC(),
		CreatedAt:  time.Now().UTC(),
	}
	r.byKey[key] = session
	r.byID[session.ID] = session
	copied := *session
	return &copied, nil
}

func (r *fakeSessionRepo) GetByID(_ context.Context, id string) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.byID[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	copied := *session
	return &copied, nil
}

func (r *fakeSessionRepo) DeactivateIdle(context.Context, time.Duration, int) (int64, error) {
	return 0, nil
}

type fakeExecutor struct {
	mu    sync.Mutex
	calls int
	fn    func(actionName string, args json.RawMessage) (json.RawMessage, error)
}

func (e *fakeExecutor) Execute(_ context.Context, actionName string, args json.RawMessage) (json.RawMessage, error) {
	e.mu.Lock()
	e.calls++
	fn := e.fn
	e.mu.Unlock()
	if fn != nil {
		return fn(actionName, args)
	}
	return json.RawMessage(`{"ok":true}`), nil
}

// apiHarness wires a full router over the fakes plus a real cache client.
type apiHarness struct {
	handler       http.Handler
	jobs          *fakeJobRepo
	actions       *fakeActionRepo
	notifications *fakeNotificationRepo
	policies      *fakePolicyRepo
	sessions      *fakeSessionRepo
	executor      *fakeExecutor
	cache         core.CacheRepository
}

func newAPIHarness(t *testing.T, workTypes ...string) *apiHarness {
	t.Helper()

	h := &apiHarness{
		jobs:          newFakeJobRepo(),
		actions:       newFakeActionRepo(),
		notifications: &fakeNotificationRepo{},
		policies:      newFakePolicyRepo(),
		sessions:      newFakeSessionRepo(),
		executor:      &fakeExecutor{},
	}

	_, client := testutil.SetupTestRedis(t)
	h.cache = data.NewRedisCacheRepo(client)

	registry := core.NewHandlerRegistry(nil)
	for _, workType := range workTypes {
		require.NoError(t, registry.Register(workType,
			func(context.Context, *model.Job) (json.RawMessage, error) { return nil, nil }))
	}

	jobSvc, err := service.NewJobService(service.JobServiceOptions{
		Repo:         h.jobs,
		Registry:     registry,
		DefaultLease: 30 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(jobSvc.StopListeners)

	policyCache, err := core.NewPolicyCache(core.PolicyCacheOptions{
		Cache:    h.cache,
		Policies: h.policies,
	})
	require.NoError(t, err)

	tiers, err := service.NewTierResolver(service.TierResolverOptions{
		Policies: policyCache,
		Prefs:    h.policies,
	})
	require.NoError(t, err)

	dispatcher, err := service.NewNotificationDispatcher(service.NotificationDispatcherOptions{
		Notifications: h.notifications,
		Jobs:          h.jobs,
	})
	require.NoError(t, err)

	gate, err := service.NewPendingActionsGate(service.PendingActionsGateOptions{
		Actions:     h.actions,
		Tiers:       tiers,
		Executor:    h.executor,
		Dispatcher:  dispatcher,
		ApprovalTTL: 24 * time.Hour,
	})
	require.NoError(t, err)

	router, err := service.NewSessionRouter(service.SessionRouterOptions{Sessions: h.sessions})
	require.NoError(t, err)

	h.handler = NewRouter(RouterServices{
		Jobs:          jobSvc,
		Gate:          gate,
		Sessions:      router,
		Notifications: h.notifications,
		Policies:      h.policies,
		PolicyCache:   policyCache,
		Cache:         h.cache,
	})
	return h
}

func (h *apiHarness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}
