package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/steward-labs/steward/internal/core"
	domainjob "github.com/steward-labs/steward/internal/domain/job"
	"github.com/steward-labs/steward/internal/domain/model"
)

// ErrUnknownWorkType rejects job submissions no registered handler can serve.
var ErrUnknownWorkType = errors.New("unknown work type")

// JobServiceOptions groups dependencies for JobService.
type JobServiceOptions struct {
	Repo            core.JobRepository        // Required: job repository
	Registry        *core.HandlerRegistry     // Required: known work types
	DefaultLease    time.Duration             // Required: default lease duration
	Logger          *slog.Logger              // Optional: structured logger
	LeasePolicy     *domainjob.LeasePolicy    // Optional: override default lease policy
	Notifier        domainjob.Notifier        // Optional: custom availability notifier
	NotifierOptions domainjob.NotifierOptions // Optional: configure default notifier
}

// JobService provides the queue's submission-side operations and the
// availability pub/sub the worker pool subscribes to.
type JobService struct {
	repo        core.JobRepository
	registry    *core.HandlerRegistry
	leasePolicy *domainjob.LeasePolicy
	notifier    domainjob.Notifier
	logger      *slog.Logger
}

// NewJobService constructs a new JobService.
func NewJobService(opts JobServiceOptions) (*JobService, error) {
	if opts.Repo == nil {
		return nil, errors.New("job repository is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("handler registry is required")
	}

	var leasePolicy *domainjob.LeasePolicy
	switch {
	case opts.LeasePolicy != nil:
		leasePolicy = opts.LeasePolicy
	case opts.DefaultLease > 0:
		var err error
		leasePolicy, err = domainjob.NewLeasePolicy(opts.DefaultLease)
		if err != nil {
			return nil, fmt.Errorf("create lease policy: %w", err)
		}
	default:
		return nil, errors.New("default lease must be positive")
	}

	notifier := opts.Notifier
	if notifier == nil {
		options := opts.NotifierOptions
		if options.Waiter == nil {
			options.Waiter = opts.Repo
		}
		var err error
		notifier, err = domainjob.NewNotifier(options)
		if err != nil {
			return nil, fmt.Errorf("create job notifier: %w", err)
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &JobService{
		repo:        opts.Repo,
		registry:    opts.Registry,
		leasePolicy: leasePolicy,
		notifier:    notifier,
		logger:      logger.With("component", "job_service"),
	}, nil
}

// Create enqueues a job after rejecting work types nothing can execute. A job
// with no handler would claim, fail and retry to exhaustion for nothing.
func (s *JobService) Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if req == nil {
		return nil, errors.New("create job request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if !s.registry.Has(req.WorkType) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownWorkType, req.WorkType)
	}

	job, err := s.repo.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	s.logger.DebugContext(ctx, "job created",
		"id", job.ID,
		"work_type", job.WorkType,
		"priority", job.Priority,
	)
	return job, nil
}

// Get returns a job by ID.
func (s *JobService) Get(ctx context.Context, id string) (*model.Job, error) {
	return s.repo.GetByID(ctx, id)
}

// Status returns the lifecycle summary for a job.
func (s *JobService) Status(ctx context.Context, id string) (*model.JobStatusResponse, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &model.JobStatusResponse{
		Status:      job.Status,
		RetryCount:  job.RetryCount,
		CompletedAt: job.CompletedAt,
		LastError:   job.LastError,
	}, nil
}

// Stats returns per-state counts for a work type.
func (s *JobService) Stats(ctx context.Context, workType string) (*model.JobStats, error) {
	if workType == "" {
		return nil, errors.New("work type is required")
	}
	return s.repo.Stats(ctx, workType)
}

// Cancel cancels a job that has not been claimed yet. Returns false when the
// job already left the pending state.
func (s *JobService) Cancel(ctx context.Context, id string) (bool, error) {
	return s.repo.Cancel(ctx, id)
}

// Claim atomically claims the next eligible job for a worker using the
// default lease.
func (s *JobService) Claim(ctx context.Context, workerID string) (*model.Job, error) {
	decision := s.leasePolicy.Resolve(0)
	return s.repo.ClaimNext(ctx, workerID, decision.Seconds)
}

// MarkRunning transitions a claimed job to running for its claiming worker.
func (s *JobService) MarkRunning(ctx context.Context, jobID, workerID string) (bool, error) {
	return s.repo.MarkRunning(ctx, jobID, workerID)
}

// Heartbeat extends the worker's lease on a job.
func (s *JobService) Heartbeat(ctx context.Context, jobID string) (bool, error) {
	decision := s.leasePolicy.Resolve(0)
	return s.repo.Heartbeat(ctx, jobID, decision.Seconds)
}

// Complete records a successful handler run.
func (s *JobService) Complete(ctx context.Context, id string, result []byte) (bool, error) {
	return s.repo.Complete(ctx, id, result)
}

// Fail records a handler failure with its retry disposition.
func (s *JobService) Fail(ctx context.Context, params core.FailJobParams) (*model.Job, error) {
	return s.repo.Fail(ctx, params)
}

// Subscribe returns a channel signalled whenever new work may be available,
// plus an unsubscribe function.
func (s *JobService) Subscribe() (func(), <-chan struct{}) {
	return s.notifier.Subscribe()
}

// StopListeners shuts down the availability notifier.
func (s *JobService) StopListeners() {
	s.notifier.StopAll()
}

// DefaultLease exposes the effective lease duration.
func (s *JobService) DefaultLease() time.Duration {
	return s.leasePolicy.Default()
}
