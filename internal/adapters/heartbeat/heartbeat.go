// Package heartbeat turns cron schedules into background agent_run jobs,
// with a cache-backed dedupe so overlapping scheduler instances enqueue each
// trigger once.
package heartbeat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/steward-labs/steward/internal/adapters/jobrunner"
	"github.com/steward-labs/steward/internal/core"
	"github.com/steward-labs/steward/internal/domain/model"
	"github.com/steward-labs/steward/internal/service"
)

// Trigger describes one recurring background run.
type Trigger struct {
	Name       string          `json:"name"`
	Schedule   string          `json:"schedule"`
	Channel    model.Channel   `json:"channel"`
	PurposeKey string          `json:"purpose_key"`
	UserID     string          `json:"user_id"`
	Input      json.RawMessage `json:"input,omitempty"`
	Priority   int             `json:"priority,omitempty"`
}

// Validate checks trigger fields; only scheduled and heartbeat channels may
// be cron-driven.
func (t *Trigger) Validate() error {
	if t.Name == "" {
		return errors.New("trigger name is required")
	}
	if t.Schedule == "" {
		return errors.New("trigger schedule is required")
	}
	if t.Channel != model.ChannelScheduled && t.Channel != model.ChannelHeartbeat {
		return fmt.Errorf("trigger channel must be scheduled or heartbeat, got %q", t.Channel)
	}
	if t.PurposeKey == "" {
		return errors.New("trigger purpose key is required")
	}
	if t.UserID == "" {
		return errors.New("trigger user id is required")
	}
	return nil
}

// SchedulerOptions groups dependencies for Scheduler.
type SchedulerOptions struct {
	Jobs       *service.JobService  // Required: enqueue target
	Cache      core.CacheRepository // Required: trigger dedupe
	Triggers   []Trigger            // Required: at least one trigger
	DedupeTTL  time.Duration        // Optional: dedupe window, defaults to 1 minute
	MaxRetries int                  // Optional: per-job retries, defaults to 3
	Logger     *slog.Logger         // Optional: structured logger
}

// Scheduler fires the configured triggers on their cron schedules. Each
// firing enqueues one agent_run job; a SET NX lock keyed on trigger name and
// minute keeps concurrent scheduler replicas from double-enqueueing.
type Scheduler struct {
	jobs       *service.JobService
	cache      core.CacheRepository
	cron       *cron.Cron
	triggers   []Trigger
	dedupeTTL  time.Duration
	maxRetries int
	logger     *slog.Logger
}

// NewScheduler constructs a Scheduler and registers every trigger.
func NewScheduler(opts SchedulerOptions) (*Scheduler, error) {
	if opts.Jobs == nil {
		return nil, errors.New("job service is required")
	}
	if opts.Cache == nil {
		return nil, errors.New("cache repository is required")
	}
	if len(opts.Triggers) == 0 {
		return nil, errors.New("at least one trigger is required")
	}

	dedupeTTL := opts.DedupeTTL
	if dedupeTTL <= 0 {
		dedupeTTL = time.Minute
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Scheduler{
		jobs:       opts.Jobs,
		cache:      opts.Cache,
		cron:       cron.New(),
		triggers:   opts.Triggers,
		dedupeTTL:  dedupeTTL,
		maxRetries: maxRetries,
		logger:     logger.With("component", "heartbeat_scheduler"),
	}

	for i := range s.triggers {
		trigger := s.triggers[i]
		if err := trigger.Validate(); err != nil {
			return nil, fmt.Errorf("trigger %q: %w", trigger.Name, err)
		}
		if _, err := s.cron.AddFunc(trigger.Schedule, func() {
			s.fire(context.Background(), trigger)
		}); err != nil {
			return nil, fmt.Errorf("register trigger %q: %w", trigger.Name, err)
		}
	}
	return s, nil
}

// Run starts the cron loop and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "heartbeat scheduler started", "triggers", len(s.triggers))
	s.cron.Start()
	<-ctx.Done()

	stopped := s.cron.Stop()
	<-stopped.Done()
	s.logger.InfoContext(ctx, "heartbeat scheduler stopped")
	return ctx.Err()
}

// Fire enqueues a trigger's job immediately, outside its schedule. Used by
// tests and manual kicks.
func (s *Scheduler) Fire(ctx context.Context, trigger Trigger) error {
	if err := trigger.Validate(); err != nil {
		return err
	}
	return s.enqueue(ctx, trigger)
}

func (s *Scheduler) fire(ctx context.Context, trigger Trigger) {
	if err := s.enqueue(ctx, trigger); err != nil {
		s.logger.ErrorContext(ctx, "trigger enqueue failed",
			"trigger", trigger.Name,
			"error", err,
		)
	}
}

func (s *Scheduler) enqueue(ctx context.Context, trigger Trigger) error {
	lockKey := fmt.Sprintf("heartbeat:fired:%s:%s",
		trigger.Name, time.Now().UTC().Truncate(time.Minute).Format(time.RFC3339))
	acquired, err := s.cache.SetIfNotExists(ctx, lockKey, []byte("1"), s.dedupeTTL)
	if err != nil {
		return fmt.Errorf("acquire trigger lock: %w", err)
	}
	if !acquired {
		s.logger.DebugContext(ctx, "trigger already fired this window", "trigger", trigger.Name)
		return nil
	}

	payload, err := json.Marshal(jobrunner.AgentRunPayload{
		Channel:    trigger.Channel,
		PurposeKey: trigger.PurposeKey,
		Input:      trigger.Input,
	})
	if err != nil {
		return fmt.Errorf("marshal trigger payload: %w", err)
	}

	job, err := s.jobs.Create(ctx, &model.CreateJobRequest{
		WorkType:   jobrunner.WorkTypeAgentRun,
		Payload:    payload,
		UserID:     trigger.UserID,
		Priority:   trigger.Priority,
		MaxRetries: s.maxRetries,
	})
	if err != nil {
		return fmt.Errorf("enqueue trigger job: %w", err)
	}

	s.logger.InfoContext(ctx, "trigger fired",
		"trigger", trigger.Name,
		"job_id", job.ID,
		"channel", trigger.Channel,
	)
	return nil
}
