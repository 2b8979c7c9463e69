// Package webhook bridges the orchestration core to external collaborators
// over HTTP: the reasoning component that proposes actions and the executor
// that performs them.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/steward-labs/steward/internal/core"
	"github.com/steward-labs/steward/internal/domain/model"
)

const maxResponseBytes = 1 << 20 // 1 MiB

// Config captures the shared settings for webhook collaborators.
type Config struct {
	URL     string
	Timeout time.Duration
	Client  *http.Client
}

func newHTTPClient(cfg Config) (*http.Client, string, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, "", errors.New("webhook url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	hc := cfg.Client
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	return hc, url, nil
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any) ([]byte, int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	return data, resp.StatusCode, nil
}

// Executor performs action side effects by POSTing them to an external
// executor endpoint. A non-2xx response is reported as an execution error;
// the gate records it without retrying.
type Executor struct {
	url    string
	client *http.Client
}

// NewExecutor builds a webhook-backed ToolExecutor.
func NewExecutor(cfg Config) (*Executor, error) {
	hc, url, err := newHTTPClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Executor{url: url, client: hc}, nil
}

type executeRequest struct {
	ActionName string          `json:"action_name"`
	Args       json.RawMessage `json:"args"`
}

// Execute POSTs the action to the executor endpoint and returns its response
// body as the execution result.
func (e *Executor) Execute(ctx context.Context, actionName string, args json.RawMessage) (json.RawMessage, error) {
	data, status, err := postJSON(ctx, e.client, e.url, executeRequest{ActionName: actionName, Args: args})
	if err != nil {
		return nil, fmt.Errorf("execute %s: %w", actionName, err)
	}
	if status < 200 || status > 299 {
		return nil, fmt.Errorf("execute %s: executor returned status %d: %s", actionName, status, truncate(data))
	}
	if len(data) == 0 {
		return nil, nil
	}
	return json.RawMessage(data), nil
}

// Proposer asks the external reasoning component which action to take for a
// run. A 204 response means no action is proposed this turn.
type Proposer struct {
	url    string
	client *http.Client
}

// NewProposer builds a webhook-backed ToolProposer.
func NewProposer(cfg Config) (*Proposer, error) {
	hc, url, err := newHTTPClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Proposer{url: url, client: hc}, nil
}

// Propose POSTs the proposal context and decodes the proposed action.
func (p *Proposer) Propose(ctx context.Context, pctx core.ProposalContext) (*model.ProposeActionRequest, error) {
	data, status, err := postJSON(ctx, p.client, p.url, pctx)
	if err != nil {
		return nil, fmt.Errorf("propose: %w", err)
	}
	switch {
	case status == http.StatusNoContent:
		return nil, nil
	case status < 200 || status > 299:
		return nil, fmt.Errorf("propose: proposer returned status %d: %s", status, truncate(data))
	}

	var proposal model.ProposeActionRequest
	if err := json.Unmarshal(data, &proposal); err != nil {
		return nil, fmt.Errorf("propose: decode response: %w", err)
	}
	return &proposal, nil
}

func truncate(data []byte) string {
	const max = 256
	s := strings.TrimSpace(string(data))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
