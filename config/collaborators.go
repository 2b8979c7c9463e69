package config

import (
	"strings"
	"time"
)

// CollaboratorsConfig wires the external components the orchestrator talks
// to: the reasoning proposer, the tool executor and optional notification
// webhooks.
type CollaboratorsConfig struct {
	// ProposerURL is the webhook endpoint of the reasoning component.
	// Required when the worker service runs agent jobs.
	ProposerURL string `env:"PROPOSER_URL" envDefault:""`

	// ExecutorURL is the webhook endpoint performing action side effects.
	// Required when the worker service runs agent jobs.
	ExecutorURL string `env:"EXECUTOR_URL" envDefault:""`

	// Timeout bounds each collaborator call.
	Timeout time.Duration `env:"COLLABORATOR_TIMEOUT" envDefault:"30s"`

	// NotifyWebhookURL is an optional webhook delivery channel for
	// notifications. When empty, notifications are only logged.
	NotifyWebhookURL string `env:"NOTIFY_WEBHOOK_URL" envDefault:""`

	// NotifyWebhookName names the webhook channel on the dispatcher.
	NotifyWebhookName string `env:"NOTIFY_WEBHOOK_NAME" envDefault:"webhook"`
}

// Sanitize applies guardrails to collaborator configuration values.
func (c *CollaboratorsConfig) Sanitize() {
	c.ProposerURL = strings.TrimSpace(c.ProposerURL)
	c.ExecutorURL = strings.TrimSpace(c.ExecutorURL)
	c.NotifyWebhookURL = strings.TrimSpace(c.NotifyWebhookURL)
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
}
