package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeAPI runs the HTTP API server.
	ServiceModeAPI ServiceMode = "api"
	// ServiceModeWorker runs the background job runner.
	ServiceModeWorker ServiceMode = "worker"
	// ServiceModeSweeper runs the lease, approval and session sweeper.
	ServiceModeSweeper ServiceMode = "sweeper"
	// ServiceModeHeartbeat runs the cron heartbeat scheduler.
	ServiceModeHeartbeat ServiceMode = "heartbeat"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeAPI,
		ServiceModeWorker,
		ServiceModeSweeper,
		ServiceModeHeartbeat,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	for _, part := range strings.Split(servicesStr, ",") {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeAPI, ServiceModeWorker, ServiceModeSweeper, ServiceModeHeartbeat:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: api, worker, sweeper, heartbeat)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// RunnerConfig contains job runner service configuration.
type RunnerConfig struct {
	// Concurrency is the number of worker goroutines.
	Concurrency int `env:"RUNNER_CONCURRENCY" envDefault:"2"`

	// JobLease is the duration a claimed job is leased before the sweeper
	// can requeue it.
	JobLease time.Duration `env:"RUNNER_JOB_LEASE" envDefault:"30s"`

	// RetryBaseDelay is the backoff delay after the first transient failure.
	RetryBaseDelay time.Duration `env:"RUNNER_RETRY_BASE_DELAY" envDefault:"30s"`

	// RetryMaxDelay caps the exponential backoff delay.
	RetryMaxDelay time.Duration `env:"RUNNER_RETRY_MAX_DELAY" envDefault:"1h"`

	// MaxRetries is the default retry budget for enqueued jobs.
	MaxRetries int `env:"RUNNER_MAX_RETRIES" envDefault:"3"`
}

// Sanitize applies guardrails to runner configuration values.
func (r *RunnerConfig) Sanitize() {
	if r.Concurrency < 1 {
		r.Concurrency = 1
	}
	if r.JobLease < 5*time.Second {
		r.JobLease = 5 * time.Second
	}
	if r.RetryBaseDelay <= 0 {
		r.RetryBaseDelay = 30 * time.Second
	}
	if r.RetryMaxDelay < r.RetryBaseDelay {
		r.RetryMaxDelay = r.RetryBaseDelay
	}
	if r.MaxRetries < 0 {
		r.MaxRetries = 0
	}
}

// SweeperConfig contains sweeper service configuration.
type SweeperConfig struct {
	// Interval is the sweeper tick interval.
	Interval time.Duration `env:"SWEEPER_INTERVAL" envDefault:"1m"`

	// BatchSize is the maximum number of rows to process per sweep operation.
	// Batching prevents long locks on large tables.
	BatchSize int `env:"SWEEPER_BATCH_SIZE" envDefault:"100"`

	// SessionIdleTimeout is how long a session may go unused before it is
	// deactivated.
	SessionIdleTimeout time.Duration `env:"SESSION_IDLE_TIMEOUT" envDefault:"72h"`

	// TerminalRetention is how long completed, failed and cancelled jobs
	// are kept before the sweeper purges them. Zero disables purging.
	TerminalRetention time.Duration `env:"SWEEPER_TERMINAL_RETENTION" envDefault:"168h"`
}

// Sanitize applies guardrails to sweeper configuration values.
func (s *SweeperConfig) Sanitize() {
	if s.Interval < time.Second {
		s.Interval = time.Second
	}
	if s.BatchSize < 1 {
		s.BatchSize = 1
	}
	if s.BatchSize > 10000 {
		s.BatchSize = 10000
	}
	if s.SessionIdleTimeout < time.Minute {
		s.SessionIdleTimeout = time.Minute
	}
	if s.TerminalRetention < 0 {
		s.TerminalRetention = 0
	}
}

// ApprovalConfig contains approval gate configuration.
type ApprovalConfig struct {
	// TTL is the decision window for a parked pending action.
	TTL time.Duration `env:"APPROVAL_TTL" envDefault:"24h"`

	// PolicyCacheTTL bounds staleness of cached per-action policy lists.
	PolicyCacheTTL time.Duration `env:"APPROVAL_POLICY_CACHE_TTL" envDefault:"5m"`
}

// Sanitize applies guardrails to approval configuration values.
func (a *ApprovalConfig) Sanitize() {
	if a.TTL < time.Minute {
		a.TTL = time.Minute
	}
	if a.PolicyCacheTTL <= 0 {
		a.PolicyCacheTTL = 5 * time.Minute
	}
}

// HeartbeatConfig contains heartbeat scheduler configuration.
type HeartbeatConfig struct {
	// DedupeTTL is the window within which a trigger fires at most once
	// across scheduler replicas.
	DedupeTTL time.Duration `env:"HEARTBEAT_DEDUPE_TTL" envDefault:"1m"`

	// MaxRetries is the retry budget for heartbeat-enqueued jobs.
	MaxRetries int `env:"HEARTBEAT_MAX_RETRIES" envDefault:"3"`

	// TriggersFile is an optional path to a JSON file of trigger definitions.
	TriggersFile string `env:"HEARTBEAT_TRIGGERS_FILE" envDefault:""`
}

// Sanitize applies guardrails to heartbeat configuration values.
func (h *HeartbeatConfig) Sanitize() {
	if h.DedupeTTL < time.Second {
		h.DedupeTTL = time.Second
	}
	if h.MaxRetries < 0 {
		h.MaxRetries = 0
	}
}
