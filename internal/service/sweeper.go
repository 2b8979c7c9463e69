package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/steward-labs/steward/internal/core"
	"github.com/steward-labs/steward/internal/domain/model"
)

// SweeperOptions groups dependencies for Sweeper.
type SweeperOptions struct {
	Jobs        core.JobRepository           // Required: lease recovery
	Actions     core.PendingActionRepository // Required: approval expiry
	Sessions    core.SessionRepository       // Required: idle deactivation
	Dispatcher  *NotificationDispatcher      // Required: expiry notices
	Interval    time.Duration                // Required: sweep cadence
	IdleTimeout time.Duration                // Required: session idle window
	BatchSize   int                          // Optional: rows per sweep, defaults to 100
	Logger      *slog.Logger                 // Optional: structured logger

	// TerminalRetention is how long completed, failed and cancelled jobs are
	// kept before the sweeper purges them. Zero disables purging.
	TerminalRetention time.Duration
}

// Sweeper runs the periodic maintenance passes: requeueing jobs whose worker
// lease lapsed, expiring pending actions past their decision window and
// deactivating idle sessions. Every pass uses skip-locked batches, so
// multiple sweeper instances can run side by side without stepping on each
// other.
type Sweeper struct {
	jobs              core.JobRepository
	actions           core.PendingActionRepository
	sessions          core.SessionRepository
	dispatcher        *NotificationDispatcher
	interval          time.Duration
	idleTimeout       time.Duration
	terminalRetention time.Duration
	batchSize         int
	logger            *slog.Logger
}

// NewSweeper constructs a new Sweeper.
func NewSweeper(opts SweeperOptions) (*Sweeper, error) {
	if opts.Jobs == nil {
		return nil, errors.New("job repository is required")
	}
	if opts.Actions == nil {
		return nil, errors.New("pending action repository is required")
	}
	if opts.Sessions == nil {
		return nil, errors.New("session repository is required")
	}
	if opts.Dispatcher == nil {
		return nil, errors.New("notification dispatcher is required")
	}
	if opts.Interval <= 0 {
		return nil, errors.New("sweep interval must be positive")
	}
	if opts.IdleTimeout <= 0 {
		return nil, errors.New("session idle timeout must be positive")
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Sweeper{
		jobs:              opts.Jobs,
		actions:           opts.Actions,
		sessions:          opts.Sessions,
		dispatcher:        opts.Dispatcher,
		interval:          opts.Interval,
		idleTimeout:       opts.IdleTimeout,
		terminalRetention: opts.TerminalRetention,
		batchSize:         batchSize,
		logger:            logger.With("component", "sweeper"),
	}, nil
}

// Run sweeps on the configured interval until ctx is cancelled. The first
// sweep happens immediately so a restart recovers orphaned work without
// waiting out a full interval.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "sweeper started",
		"interval", s.interval,
		"idle_timeout", s.idleTimeout,
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.SweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single maintenance pass. Each sub-sweep is independent;
// one failing does not stop the others.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	if err := s.sweepLeases(ctx); err != nil {
		s.logger.ErrorContext(ctx, "lease sweep failed", "error", err)
	}
	if err := s.sweepApprovals(ctx); err != nil {
		s.logger.ErrorContext(ctx, "approval expiry sweep failed", "error", err)
	}
	if err := s.sweepSessions(ctx); err != nil {
		s.logger.ErrorContext(ctx, "idle session sweep failed", "error", err)
	}
	if err := s.sweepTerminalJobs(ctx); err != nil {
		s.logger.ErrorContext(ctx, "terminal job purge failed", "error", err)
	}
}

func (s *Sweeper) sweepLeases(ctx context.Context) error {
	requeued, err := s.jobs.RequeueExpiredLeases(ctx, s.batchSize)
	if err != nil {
		return fmt.Errorf("requeue expired leases: %w", err)
	}
	if requeued > 0 {
		s.logger.InfoContext(ctx, "requeued jobs with expired leases", "count", requeued)
	}
	return nil
}

func (s *Sweeper) sweepApprovals(ctx context.Context) error {
	expired, err := s.actions.ExpireLapsed(ctx, s.batchSize)
	if err != nil {
		return fmt.Errorf("expire lapsed actions: %w", err)
	}

	for _, action := range expired {
		if _, dispatchErr := s.dispatcher.Dispatch(ctx, &model.CreateNotificationRequest{
			UserID:   action.UserID,
			Category: model.CategoryActionExpired,
			Title:    "Approval window lapsed",
			Body:     fmt.Sprintf("Action %s expired without a decision and will not run.", action.ActionName),
			Metadata: pendingMetadata(action),
		}); dispatchErr != nil {
			s.logger.ErrorContext(ctx, "dispatch expiry notification",
				"pending_action_id", action.ID,
				"error", dispatchErr,
			)
		}
	}

	if len(expired) > 0 {
		s.logger.InfoContext(ctx, "expired lapsed pending actions", "count", len(expired))
	}
	return nil
}

func (s *Sweeper) sweepTerminalJobs(ctx context.Context) error {
	if s.terminalRetention <= 0 {
		return nil
	}
	purged, err := s.jobs.PurgeTerminal(ctx, s.terminalRetention, s.batchSize)
	if err != nil {
		return fmt.Errorf("purge terminal jobs: %w", err)
	}
	if purged > 0 {
		s.logger.InfoContext(ctx, "purged old terminal jobs", "count", purged)
	}
	return nil
}

func (s *Sweeper) sweepSessions(ctx context.Context) error {
	deactivated, err := s.sessions.DeactivateIdle(ctx, s.idleTimeout, s.batchSize)
	if err != nil {
		return fmt.Errorf("deactivate idle sessions: %w", err)
	}
	if deactivated > 0 {
		s.logger.InfoContext(ctx, "deactivated idle sessions", "count", deactivated)
	}
	return nil
}
