// Package notify holds channel adapters for notification delivery.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/steward-labs/steward/internal/core"
)

// LogAdapter writes notifications to the structured log. It is the fallback
// delivery surface when no external channel is configured; the persisted
// notification row remains the source of truth either way.
type LogAdapter struct {
	logger *slog.Logger
}

// NewLogAdapter builds a log-backed channel adapter.
func NewLogAdapter(logger *slog.Logger) *LogAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogAdapter{logger: logger.With("component", "notify_log")}
}

// Name implements core.ChannelAdapter.
func (a *LogAdapter) Name() string { return "log" }

// Deliver implements core.ChannelAdapter.
func (a *LogAdapter) Deliver(ctx context.Context, userID string, msg core.ChannelMessage) error {
	a.logger.InfoContext(ctx, "notification",
		"user_id", userID,
		"notification_id", msg.NotificationID,
		"category", msg.Category,
		"title", msg.Title,
		"body", msg.Body,
	)
	return nil
}

// WebhookAdapterConfig configures a webhook delivery channel.
type WebhookAdapterConfig struct {
	// Name distinguishes multiple webhook channels on one dispatcher.
	Name string

	// URL receives one POST per notification.
	URL string

	Timeout time.Duration
	Client  *http.Client
}

// WebhookAdapter POSTs notifications to an external webhook, one request per
// delivery. Errors surface to the dispatcher, which re-enqueues the delivery
// as a job.
type WebhookAdapter struct {
	name   string
	url    string
	client *http.Client
}

// NewWebhookAdapter builds a webhook-backed channel adapter.
func NewWebhookAdapter(cfg WebhookAdapterConfig) (*WebhookAdapter, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("webhook adapter url is required")
	}
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = "webhook"
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	hc := cfg.Client
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}

	return &WebhookAdapter{name: name, url: url, client: hc}, nil
}

// Name implements core.ChannelAdapter.
func (a *WebhookAdapter) Name() string { return a.name }

type webhookDelivery struct {
	UserID string `json:"user_id"`
	core.ChannelMessage
}

// Deliver implements core.ChannelAdapter.
func (a *WebhookAdapter) Deliver(ctx context.Context, userID string, msg core.ChannelMessage) error {
	body, err := json.Marshal(webhookDelivery{UserID: userID, ChannelMessage: msg})
	if err != nil {
		return fmt.Errorf("encode delivery: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver notification %s: %w", msg.NotificationID, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("deliver notification %s: channel returned status %d", msg.NotificationID, resp.StatusCode)
	}
	return nil
}
