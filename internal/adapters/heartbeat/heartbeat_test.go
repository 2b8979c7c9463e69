package heartbeat

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steward-labs/steward/internal/adapters/jobrunner"
	"github.com/steward-labs/steward/internal/core"
	"github.com/steward-labs/steward/internal/data"
	"github.com/steward-labs/steward/internal/domain/model"
	"github.com/steward-labs/steward/internal/service"
	"github.com/steward-labs/steward/internal/testutil"
)

// recordingJobRepo captures created jobs; everything else is inert.
type recordingJobRepo struct {
	created []*model.CreateJobRequest
}

func (r *recordingJobRepo) Create(_ context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	r.created = append(r.created, req)
	return &model.Job{ID: "job-1", WorkType: req.WorkType, Status: model.JobStatusPending}, nil
}

func (r *recordingJobRepo) GetByID(context.Context, string) (*model.Job, error) {
	return nil, core.ErrNotFound
}

func (r *recordingJobRepo) ClaimNext(context.Context, string, int) (*model.Job, error) {
	return nil, model.ErrNoJobsAvailable
}

func (r *recordingJobRepo) MarkRunning(context.Context, string, string) (bool, error) {
	return false, nil
}

func (r *recordingJobRepo) WaitForNotification(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (r *recordingJobRepo) Heartbeat(context.Context, string, int) (bool, error) { return false, nil }

func (r *recordingJobRepo) Complete(context.Context, string, json.RawMessage) (bool, error) {
	return false, nil
}

func (r *recordingJobRepo) Fail(context.Context, core.FailJobParams) (*model.Job, error) {
	return nil, core.ErrNotFound
}

func (r *recordingJobRepo) Cancel(context.Context, string) (bool, error) { return false, nil }

func (r *recordingJobRepo) Stats(context.Context, string) (*model.JobStats, error) {
	return &model.JobStats{}, nil
}

func (r *recordingJobRepo) RequeueExpiredLeases(context.Context, int) (int64, error) { return 0, nil }

func (r *recordingJobRepo) PurgeTerminal(context.Context, time.Duration, int) (int64, error) {
	return 0, nil
}

func digestTrigger() Trigger {
	return Trigger{
		Name:       "daily_digest",
		Schedule:   "0 8 * * *",
		Channel:    model.ChannelScheduled,
		PurposeKey: "daily_digest",
		UserID:     "u1",
		Input:      json.RawMessage(`{"digest":"daily"}`),
	}
}

func newTestScheduler(t *testing.T, repo *recordingJobRepo, triggers ...Trigger) *Scheduler {
	t.Helper()

	registry := core.NewHandlerRegistry(nil)
	require.NoError(t, registry.Register(jobrunner.WorkTypeAgentRun,
		func(context.Context, *model.Job) (json.RawMessage, error) { return nil, nil }))

	jobs, err := service.NewJobService(service.JobServiceOptions{
		Repo:         repo,
		Registry:     registry,
		DefaultLease: 30 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(jobs.StopListeners)

	_, client := testutil.SetupTestRedis(t)

	scheduler, err := NewScheduler(SchedulerOptions{
		Jobs:     jobs,
		Cache:    data.NewRedisCacheRepo(client),
		Triggers: triggers,
	})
	require.NoError(t, err)
	return scheduler
}

func TestTrigger_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Trigger)
		wantErr string
	}{
		{name: "valid", mutate: func(*Trigger) {}},
		{
			name:    "interactive channel rejected",
			mutate:  func(tr *Trigger) { tr.Channel = model.ChannelInteractive },
			wantErr: "channel",
		},
		{
			name:    "missing schedule",
			mutate:  func(tr *Trigger) { tr.Schedule = "" },
			wantErr: "schedule",
		},
		{
			name:    "missing purpose key",
			mutate:  func(tr *Trigger) { tr.PurposeKey = "" },
			wantErr: "purpose key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trigger := digestTrigger()
			tt.mutate(&trigger)
			err := trigger.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestScheduler_Fire(t *testing.T) {
	repo := &recordingJobRepo{}
	scheduler := newTestScheduler(t, repo, digestTrigger())
	ctx := context.Background()

	require.NoError(t, scheduler.Fire(ctx, digestTrigger()))
	require.Len(t, repo.created, 1)

	created := repo.created[0]
	assert.Equal(t, jobrunner.WorkTypeAgentRun, created.WorkType)
	assert.Equal(t, "u1", created.UserID)

	var payload jobrunner.AgentRunPayload
	require.NoError(t, json.Unmarshal(created.Payload, &payload))
	assert.Equal(t, model.ChannelScheduled, payload.Channel)
	assert.Equal(t, "daily_digest", payload.PurposeKey)

	t.Run("second fire in the same window deduped", func(t *testing.T) {
		require.NoError(t, scheduler.Fire(ctx, digestTrigger()))
		assert.Len(t, repo.created, 1)
	})
}

func TestNewScheduler_RejectsBadTrigger(t *testing.T) {
	repo := &recordingJobRepo{}

	bad := digestTrigger()
	bad.Schedule = "not a cron expr"

	registry := core.NewHandlerRegistry(nil)
	jobs, err := service.NewJobService(service.JobServiceOptions{
		Repo:         repo,
		Registry:     registry,
		DefaultLease: 30 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(jobs.StopListeners)

	_, client := testutil.SetupTestRedis(t)

	_, err = NewScheduler(SchedulerOptions{
		Jobs:     jobs,
		Cache:    data.NewRedisCacheRepo(client),
		Triggers: []Trigger{bad},
	})
	require.Error(t, err)
}
