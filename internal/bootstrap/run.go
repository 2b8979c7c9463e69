package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/steward-labs/steward/config"
	"github.com/steward-labs/steward/internal/adapters/heartbeat"
	"github.com/steward-labs/steward/internal/adapters/jobrunner"
	domainjob "github.com/steward-labs/steward/internal/domain/job"
	"github.com/steward-labs/steward/internal/service"
)

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config      *config.AppConfig
	Services    ServiceContainer
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// RunServicesWithShutdown starts all enabled services and manages their
// lifecycle. It blocks until a termination signal arrives or a service
// fails; either way every service is stopped before it returns.
func RunServicesWithShutdown(ctx context.Context, cfg *ServiceOrchestrationConfig) error {
	if cfg == nil || cfg.Config == nil {
		return errors.New("service orchestration config is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	enabled, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(signalCtx)

	if enabled[config.ServiceModeAPI] {
		server := StartHTTPServer(&HTTPServerConfig{
			Config:   cfg.Config,
			Services: cfg.Services,
			Logger:   logger,
		})
		group.Go(func() error {
			<-groupCtx.Done()
			return ShutdownHTTPServer(ShutdownConfig{
				Context:    context.WithoutCancel(groupCtx),
				Server:     server,
				JobService: cfg.Services.Jobs,
				Timeout:    cfg.Config.HTTP.ShutdownTimeout,
				Logger:     logger,
			})
		})
	}

	if enabled[config.ServiceModeWorker] {
		runner, runnerErr := buildJobRunner(cfg, logger)
		if runnerErr != nil {
			return runnerErr
		}
		group.Go(func() error {
			logger.InfoContext(groupCtx, "background service started", "service", "job runner")
			if runErr := runner.Run(groupCtx); runErr != nil && !errors.Is(runErr, context.Canceled) {
				return fmt.Errorf("job runner failed: %w", runErr)
			}
			return nil
		})
	}

	if enabled[config.ServiceModeSweeper] {
		sweeper, sweeperErr := buildSweeper(cfg, logger)
		if sweeperErr != nil {
			return sweeperErr
		}
		group.Go(func() error {
			logger.InfoContext(groupCtx, "background service started", "service", "sweeper")
			if runErr := sweeper.Run(groupCtx); runErr != nil && !errors.Is(runErr, context.Canceled) {
				return fmt.Errorf("sweeper failed: %w", runErr)
			}
			return nil
		})
	}

	if enabled[config.ServiceModeHeartbeat] {
		scheduler, schedErr := buildHeartbeatScheduler(cfg, logger)
		if schedErr != nil {
			return schedErr
		}
		group.Go(func() error {
			logger.InfoContext(groupCtx, "background service started", "service", "heartbeat scheduler")
			if runErr := scheduler.Run(groupCtx); runErr != nil && !errors.Is(runErr, context.Canceled) {
				return fmt.Errorf("heartbeat scheduler failed: %w", runErr)
			}
			return nil
		})
	}

	<-groupCtx.Done()
	stop()
	logger.Info("shutting down services")

	if waitErr := group.Wait(); waitErr != nil {
		return waitErr
	}
	logger.Info("all services stopped")
	return nil
}

func buildJobRunner(cfg *ServiceOrchestrationConfig, logger *slog.Logger) (*jobrunner.Runner, error) {
	runnerCfg := cfg.Config.Runner
	backoff, err := domainjob.NewBackoffPolicy(runnerCfg.RetryBaseDelay, runnerCfg.RetryMaxDelay, 0.2)
	if err != nil {
		return nil, fmt.Errorf("build backoff policy: %w", err)
	}

	runner, err := jobrunner.NewRunner(jobrunner.RunnerOptions{
		Jobs:        cfg.Services.Jobs,
		Registry:    cfg.Services.Registry,
		Dispatcher:  cfg.Services.Dispatcher,
		Logger:      logger,
		Concurrency: runnerCfg.Concurrency,
		Backoff:     backoff,
		Metrics:     cfg.Services.Observability.Sink(),
	})
	if err != nil {
		return nil, fmt.Errorf("build job runner: %w", err)
	}
	return runner, nil
}

func buildSweeper(cfg *ServiceOrchestrationConfig, logger *slog.Logger) (*service.Sweeper, error) {
	repos := buildRepositories(cfg.DB, cfg.RedisClient, logger)
	sweeperCfg := cfg.Config.Sweeper

	sweeper, err := service.NewSweeper(service.SweeperOptions{
		Jobs:              repos.JobRepo,
		Actions:           repos.ActionRepo,
		Sessions:          repos.SessionRepo,
		Dispatcher:        cfg.Services.Dispatcher,
		Interval:          sweeperCfg.Interval,
		IdleTimeout:       sweeperCfg.SessionIdleTimeout,
		TerminalRetention: sweeperCfg.TerminalRetention,
		BatchSize:         sweeperCfg.BatchSize,
		Logger:            logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build sweeper: %w", err)
	}
	return sweeper, nil
}

func buildHeartbeatScheduler(cfg *ServiceOrchestrationConfig, logger *slog.Logger) (*heartbeat.Scheduler, error) {
	hbCfg := cfg.Config.Heartbeat
	triggers, err := heartbeat.LoadTriggersFile(hbCfg.TriggersFile)
	if err != nil {
		return nil, fmt.Errorf("load heartbeat triggers: %w", err)
	}

	scheduler, err := heartbeat.NewScheduler(heartbeat.SchedulerOptions{
		Jobs:       cfg.Services.Jobs,
		Cache:      cfg.Services.Cache,
		Triggers:   triggers,
		DedupeTTL:  hbCfg.DedupeTTL,
		MaxRetries: hbCfg.MaxRetries,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build heartbeat scheduler: %w", err)
	}
	return scheduler, nil
}
