// Package config holds the environment-driven application configuration,
// loaded with github.com/caarlos0/env and split by domain:
//   - database.go: Postgres and Redis configuration
//   - http.go: HTTP server configuration
//   - services.go: service mode, runner, sweeper, approval and heartbeat configuration
//   - collaborators.go: external proposer, executor and webhook configuration
//   - observability.go: metrics configuration
package config

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
type AppConfig struct {
	// IsDev controls development mode behavior (verbose logging, relaxed
	// guards). Set DEV=true for development mode.
	IsDev bool `env:"DEV" envDefault:"false"`

	// Database configuration
	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`

	// HTTP server configuration
	HTTP HTTPConfig

	// Services is a comma-delimited list of enabled services.
	// Valid values: api, worker, sweeper, heartbeat
	Services string `env:"SERVICES" envDefault:"api"`

	// Runner configuration
	Runner RunnerConfig

	// Sweeper configuration
	Sweeper SweeperConfig

	// Approval gate configuration
	Approvals ApprovalConfig

	// Heartbeat scheduler configuration
	Heartbeat HeartbeatConfig

	// External collaborator configuration
	Collaborators CollaboratorsConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.Runner.Sanitize()
	c.Sweeper.Sanitize()
	c.Approvals.Sanitize()
	c.Heartbeat.Sanitize()
	c.Collaborators.Sanitize()
	c.Observability.Sanitize()
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// IsAPIEnabled returns true if the HTTP API service is enabled.
func (c *AppConfig) IsAPIEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeAPI]
}

// IsWorkerEnabled returns true if the job runner service is enabled.
func (c *AppConfig) IsWorkerEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeWorker]
}

// IsSweeperEnabled returns true if the sweeper service is enabled.
func (c *AppConfig) IsSweeperEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeSweeper]
}

// IsHeartbeatEnabled returns true if the heartbeat scheduler is enabled.
func (c *AppConfig) IsHeartbeatEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeHeartbeat]
}
