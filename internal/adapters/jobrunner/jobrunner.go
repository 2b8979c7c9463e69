// Package jobrunner pulls jobs off the durable queue and executes them
// through the handler registry with lease heartbeats and retry backoff.
package jobrunner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/steward-labs/steward/internal/core"
	domainjob "github.com/steward-labs/steward/internal/domain/job"
	"github.com/steward-labs/steward/internal/domain/model"
	"github.com/steward-labs/steward/internal/observability/metrics"
	"github.com/steward-labs/steward/internal/observability/statsd"
	"github.com/steward-labs/steward/internal/service"
)

// RunnerOptions configures the job runner adapter.
type RunnerOptions struct {
	Jobs       *service.JobService             // Required: queue operations
	Registry   *core.HandlerRegistry           // Required: work-type handlers
	Dispatcher *service.NotificationDispatcher // Optional: terminal outcome notices
	Logger     *slog.Logger                    // Optional: structured logger

	// Worker settings.
	Concurrency       int                      // worker goroutines; defaults to 1
	WorkerID          string                   // base worker identity; defaults to a random ID
	Backoff           *domainjob.BackoffPolicy // Required: retry scheduling
	HeartbeatInterval time.Duration            // lease extension cadence; defaults to a third of the lease

	Metrics statsd.Sink // Optional: lifecycle metrics
}

// Runner claims jobs and executes them using registered handlers. Each worker
// goroutine runs the claim -> run -> complete/fail loop independently; a
// heartbeat goroutine keeps the lease alive while a handler runs, so slow
// jobs survive the sweeper.
type Runner struct {
	jobs              *service.JobService
	registry          *core.HandlerRegistry
	backoff           *domainjob.BackoffPolicy
	dispatcher        *service.NotificationDispatcher
	logger            *slog.Logger
	workers           int
	workerID          string
	heartbeatInterval time.Duration
	metrics           statsd.Sink
}

// NewRunner constructs a Runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Jobs == nil {
		return nil, errors.New("job service is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("handler registry is required")
	}
	if opts.Backoff == nil {
		return nil, errors.New("backoff policy is required")
	}

	workers := opts.Concurrency
	if workers <= 0 {
		workers = 1
	}
	workerID := opts.WorkerID
	if workerID == "" {
		workerID = "worker-" + uuid.NewString()[:8]
	}
	heartbeat := opts.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = opts.Jobs.DefaultLease() / 3
		if heartbeat <= 0 {
			heartbeat = 10 * time.Second
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		jobs:              opts.Jobs,
		registry:          opts.Registry,
		backoff:           opts.Backoff,
		dispatcher:        opts.Dispatcher,
		logger:            logger.With("component", "job_runner"),
		workers:           workers,
		workerID:          workerID,
		heartbeatInterval: heartbeat,
		metrics:           opts.Metrics,
	}, nil
}

// Run starts worker goroutines and processes jobs until the context is
// cancelled. The first worker error cancels the rest.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting job runner",
		"workers", r.workers,
		"worker_id", r.workerID,
		"work_types", r.registry.WorkTypes(),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	unsub, notify := r.jobs.Subscribe()
	defer unsub()

	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		workerID := fmt.Sprintf("%s-%d", r.workerID, i)
		go func() {
			defer wg.Done()
			if err := r.workerLoop(ctx, workerID, notify); err != nil {
				select {
				case errCh <- err:
					cancel()
				default:
				}
			}
		}()
	}

	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		return ctx.Err()
	}
}

func (r *Runner) workerLoop(ctx context.Context, workerID string, notify <-chan struct{}) error {
	for ctx.Err() == nil {
		job, err := r.jobs.Claim(ctx, workerID)
		switch {
		case err == nil:
			r.processJob(ctx, workerID, job)
		case errors.Is(err, model.ErrNoJobsAvailable):
			if !r.waitForNotify(ctx, notify) {
				return nil
			}
		default:
			return fmt.Errorf("claim next: %w", err)
		}
	}
	return ctx.Err()
}

func (r *Runner) waitForNotify(ctx context.Context, notify <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return false
	case <-notify:
		return true
	}
}

// processJob drives one job through running to a terminal state. The job
// arrives claimed; anything that stops it from reaching completed or failed
// leaves the lease to the sweeper.
func (r *Runner) processJob(ctx context.Context, workerID string, job *model.Job) {
	start := time.Now()
	emit := func(transition, result, failureKind string) {
		metrics.EmitJobLifecycle(r.metrics, metrics.JobMetric{
			WorkType:    job.WorkType,
			Transition:  transition,
			Result:      result,
			FailureKind: failureKind,
			Duration:    time.Since(start),
		})
	}

	ok, err := r.jobs.MarkRunning(ctx, job.ID, workerID)
	if err != nil {
		r.logger.ErrorContext(ctx, "mark running", "job_id", job.ID, "error", err)
		return
	}
	if !ok {
		// The claim no longer holds; someone else owns the job now.
		r.logger.WarnContext(ctx, "lost claim before running", "job_id", job.ID)
		return
	}

	handler, err := r.registry.Resolve(job.WorkType)
	if err != nil {
		// No handler means retrying is pointless.
		r.failJob(ctx, job, domainjob.Permanent(err))
		emit("failed", metrics.ResultError, string(model.FailurePermanent))
		return
	}

	result, err := r.runWithHeartbeat(ctx, job, handler)
	if err != nil {
		kind := domainjob.Classify(err)
		r.failJob(ctx, job, err)
		emit("failed", metrics.ResultError, string(kind))
		return
	}

	completed, err := r.jobs.Complete(ctx, job.ID, result)
	switch {
	case err != nil:
		r.logger.ErrorContext(ctx, "complete job", "job_id", job.ID, "error", err)
		emit("completed", metrics.ResultError, "")
	case completed:
		r.logger.DebugContext(ctx, "job completed",
			"job_id", job.ID,
			"work_type", job.WorkType,
			"duration", time.Since(start),
		)
		emit("completed", metrics.ResultSuccess, "")
		r.notifyOutcome(ctx, job, model.CategoryJobCompleted,
			"Job completed",
			fmt.Sprintf("Job %s finished successfully.", job.WorkType),
		)
	default:
		emit("completed", metrics.ResultNoop, "")
	}
}

// runWithHeartbeat executes the handler while extending the lease on a timer.
// The heartbeat stops as soon as the handler returns.
func (r *Runner) runWithHeartbeat(
	ctx context.Context,
	job *model.Job,
	handler core.Handler,
) (result []byte, err error) {
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()

	go func() {
		ticker := time.NewTicker(r.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if ok, hbErr := r.jobs.Heartbeat(hbCtx, job.ID); hbErr != nil {
					r.logger.WarnContext(hbCtx, "heartbeat failed", "job_id", job.ID, "error", hbErr)
				} else if !ok {
					r.logger.WarnContext(hbCtx, "heartbeat on non-live job", "job_id", job.ID)
					return
				}
			}
		}
	}()

	return handler(ctx, job)
}

// failJob records the failure with its retry disposition. The attempt number
// fed to the backoff is the one that just failed.
func (r *Runner) failJob(ctx context.Context, job *model.Job, handlerErr error) {
	kind := domainjob.Classify(handlerErr)
	params := core.FailJobParams{
		JobID:  job.ID,
		ErrMsg: handlerErr.Error(),
		Kind:   kind,
	}
	if kind == model.FailureTransient {
		params.NextAttemptAt = r.backoff.NextAttemptAt(time.Now().UTC(), job.RetryCount+1)
	}

	failed, err := r.jobs.Fail(ctx, params)
	if err != nil {
		r.logger.ErrorContext(ctx, "fail job", "job_id", job.ID, "error", err, "handler_error", handlerErr)
		return
	}

	r.logger.WarnContext(ctx, "job failed",
		"job_id", job.ID,
		"work_type", job.WorkType,
		"kind", kind,
		"status", failed.Status,
		"retry_count", failed.RetryCount,
		"error", handlerErr,
	)

	// Rescheduled retries stay quiet; only the terminal failure surfaces.
	if failed.Status == model.JobStatusFailed {
		r.notifyOutcome(ctx, job, model.CategoryJobFailed,
			"Job failed",
			fmt.Sprintf("Job %s failed after %d retries: %v", job.WorkType, failed.RetryCount, handlerErr),
		)
	}
}

// notifyOutcome surfaces a terminal job outcome to the owning user, one
// notification per job. Delivery jobs are excluded: a notice about a failed
// redelivery would only enqueue another redelivery.
func (r *Runner) notifyOutcome(
	ctx context.Context,
	job *model.Job,
	category model.NotificationCategory,
	title, body string,
) {
	if r.dispatcher == nil || job.WorkType == service.WorkTypeNotificationDelivery {
		return
	}

	metadata, err := json.Marshal(map[string]string{
		"job_id":    job.ID,
		"work_type": job.WorkType,
	})
	if err != nil {
		metadata = nil
	}

	if _, err := r.dispatcher.Dispatch(ctx, &model.CreateNotificationRequest{
		UserID:   job.UserID,
		Category: category,
		Title:    title,
		Body:     body,
		Metadata: metadata,
	}); err != nil {
		r.logger.ErrorContext(ctx, "dispatch job outcome notification",
			"job_id", job.ID,
			"error", err,
		)
	}
}
