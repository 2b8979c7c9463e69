package bootstrap

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/steward-labs/steward/config"
	"github.com/steward-labs/steward/internal/adapters/jobrunner"
	"github.com/steward-labs/steward/internal/adapters/notify"
	"github.com/steward-labs/steward/internal/adapters/webhook"
	"github.com/steward-labs/steward/internal/core"
	"github.com/steward-labs/steward/internal/data"
	"github.com/steward-labs/steward/internal/observability/statsd"
	"github.com/steward-labs/steward/internal/service"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Jobs          *service.JobService
	Gate          *service.PendingActionsGate
	Tiers         *service.TierResolver
	Dispatcher    *service.NotificationDispatcher
	Sessions      *service.SessionRouter
	Registry      *core.HandlerRegistry
	PolicyCache   *core.PolicyCache
	Notifications core.NotificationRepository
	Policies      core.ApprovalPolicyRepository
	Cache         core.CacheRepository
	Proposer      core.ToolProposer
	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink   *statsd.Client
	MetricsConfig config.ObservabilityMetricsConfig
}

// Sink returns the metrics sink, or nil when metrics are disabled.
//
//nolint:ireturn // statsd.Sink keeps runner wiring decoupled from the client type.
func (o ObservabilityContainer) Sink() statsd.Sink {
	if o.MetricsSink == nil {
		return nil
	}
	return o.MetricsSink
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// serviceRepositories groups data adapters backing service ports.
type serviceRepositories struct {
	DB               *sql.DB
	Redis            redis.UniversalClient
	JobRepo          *data.JobRepo
	ActionRepo       *data.PendingActionRepo
	SessionRepo      *data.SessionRepo
	NotificationRepo *data.NotificationRepo
	PolicyRepo       *data.ApprovalPolicyRepo
	CacheRepo        *data.RedisCacheRepo
}

// buildRepositories builds repositories backing service ports; no business rules here.
func buildRepositories(db *sql.DB, redisClient redis.UniversalClient, logger *slog.Logger) *serviceRepositories {
	return &serviceRepositories{
		DB:               db,
		Redis:            redisClient,
		JobRepo:          data.NewJobRepo(db, data.JobRepoConfig{Logger: logger}),
		ActionRepo:       data.NewPendingActionRepo(db, data.PendingActionRepoConfig{Logger: logger}),
		SessionRepo:      data.NewSessionRepo(db, data.SessionRepoConfig{Logger: logger}),
		NotificationRepo: data.NewNotificationRepo(db, nil),
		PolicyRepo:       data.NewApprovalPolicyRepo(db, nil),
		CacheRepo:        data.NewRedisCacheRepo(redisClient),
	}
}

// buildObservability configures the metrics sink.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	var metricsSink *statsd.Client
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.Metrics.StatsdAddress,
			Prefix:  cfg.Metrics.Prefix,
			Logger:  obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			metricsSink = client
		}
	}

	return ObservabilityContainer{
		MetricsSink:   metricsSink,
		MetricsConfig: cfg.Metrics,
	}
}

// buildCollaborators constructs the webhook-backed proposer and executor.
// Either may be nil when its URL is not configured; ValidateServiceConfig
// rejects service combinations that need a missing collaborator.
func buildCollaborators(cfg config.CollaboratorsConfig) (core.ToolProposer, core.ToolExecutor, error) {
	var proposer core.ToolProposer
	var executor core.ToolExecutor

	if cfg.ProposerURL != "" {
		p, err := webhook.NewProposer(webhook.Config{URL: cfg.ProposerURL, Timeout: cfg.Timeout})
		if err != nil {
			return nil, nil, fmt.Errorf("build proposer: %w", err)
		}
		proposer = p
	}
	if cfg.ExecutorURL != "" {
		e, err := webhook.NewExecutor(webhook.Config{URL: cfg.ExecutorURL, Timeout: cfg.Timeout})
		if err != nil {
			return nil, nil, fmt.Errorf("build executor: %w", err)
		}
		executor = e
	}
	return proposer, executor, nil
}

// buildChannelAdapters assembles the notification delivery surfaces. The log
// adapter is always present so no deployment silently drops notifications.
func buildChannelAdapters(cfg config.CollaboratorsConfig, logger *slog.Logger) ([]core.ChannelAdapter, error) {
	adapters := []core.ChannelAdapter{notify.NewLogAdapter(logger)}

	if cfg.NotifyWebhookURL != "" {
		wh, err := notify.NewWebhookAdapter(notify.WebhookAdapterConfig{
			Name:    cfg.NotifyWebhookName,
			URL:     cfg.NotifyWebhookURL,
			Timeout: cfg.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("build webhook channel adapter: %w", err)
		}
		adapters = append(adapters, wh)
	}
	return adapters, nil
}

// registerHandlers binds work types to their handlers. The agent_run handler
// is only registered when a proposer and gate are available; queue-only
// deployments still get notification redelivery.
func registerHandlers(container *ServiceContainer, proposer core.ToolProposer) error {
	if err := container.Registry.Register(service.WorkTypeNotificationDelivery, jobrunner.NewNotificationDeliveryHandler(container.Dispatcher)); err != nil {
		return fmt.Errorf("register notification delivery handler: %w", err)
	}

	if proposer != nil && container.Gate != nil {
		handler := jobrunner.NewAgentRunHandler(container.Sessions, proposer, container.Gate)
		if err := container.Registry.Register(jobrunner.WorkTypeAgentRun, handler); err != nil {
			return fmt.Errorf("register agent run handler: %w", err)
		}
	}
	return nil
}

// NewServices wires repositories, collaborators and domain services into a
// ready container. It does not start any loops; RunServicesWithShutdown owns
// the lifecycle.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return ServiceContainer{}, fmt.Errorf("service deps and config are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config

	observability := buildObservability(logger, cfg.Observability)
	repos := buildRepositories(deps.DB, deps.RedisClient, logger)

	proposer, executor, err := buildCollaborators(cfg.Collaborators)
	if err != nil {
		return ServiceContainer{}, err
	}
	adapters, err := buildChannelAdapters(cfg.Collaborators, logger)
	if err != nil {
		return ServiceContainer{}, err
	}

	dispatcher, err := service.NewNotificationDispatcher(service.NotificationDispatcherOptions{
		Notifications: repos.NotificationRepo,
		Jobs:          repos.JobRepo,
		Adapters:      adapters,
		Logger:        logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build notification dispatcher: %w", err)
	}

	policyCache, err := core.NewPolicyCache(core.PolicyCacheOptions{
		Cache:    repos.CacheRepo,
		Policies: repos.PolicyRepo,
		Config:   core.PolicyCacheConfig{TTL: cfg.Approvals.PolicyCacheTTL},
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build policy cache: %w", err)
	}

	tiers, err := service.NewTierResolver(service.TierResolverOptions{
		Policies: policyCache,
		Prefs:    repos.PolicyRepo,
		Logger:   logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build tier resolver: %w", err)
	}

	sessions, err := service.NewSessionRouter(service.SessionRouterOptions{
		Sessions: repos.SessionRepo,
		Logger:   logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build session router: %w", err)
	}

	registry := core.NewHandlerRegistry(logger)

	jobs, err := service.NewJobService(service.JobServiceOptions{
		Repo:         repos.JobRepo,
		Registry:     registry,
		DefaultLease: cfg.Runner.JobLease,
		Logger:       logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build job service: %w", err)
	}

	container := ServiceContainer{
		Jobs:          jobs,
		Tiers:         tiers,
		Dispatcher:    dispatcher,
		Sessions:      sessions,
		Registry:      registry,
		PolicyCache:   policyCache,
		Notifications: repos.NotificationRepo,
		Policies:      repos.PolicyRepo,
		Cache:         repos.CacheRepo,
		Proposer:      proposer,
		Observability: observability,
	}

	// The gate cannot exist without an executor to hand approved actions to.
	// Sweeper-only and heartbeat-only deployments run without one.
	if executor != nil {
		gate, gateErr := service.NewPendingActionsGate(service.PendingActionsGateOptions{
			Actions:     repos.ActionRepo,
			Tiers:       tiers,
			Executor:    executor,
			Dispatcher:  dispatcher,
			ApprovalTTL: cfg.Approvals.TTL,
			Logger:      logger,
			Metrics:     observability.Sink(),
		})
		if gateErr != nil {
			return ServiceContainer{}, fmt.Errorf("build pending actions gate: %w", gateErr)
		}
		container.Gate = gate
	}

	if err := registerHandlers(&container, proposer); err != nil {
		return ServiceContainer{}, err
	}

	return container, nil
}
