package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/steward-labs/steward/internal/domain/model"
)

// Handler performs the work for one job. It receives the full job record and
// returns an output payload, or an error classified by the retry machinery.
// Handlers may run more than once for the same logical intent when retried or
// reclaimed after a crash; idempotency of side effects is the handler's
// contract, not the runner's.
type Handler func(ctx context.Context, job *model.Job) (json.RawMessage, error)

// HandlerRegistry maps work-type identifiers to handlers. It is populated at
// startup and read-only afterwards from the runner's perspective.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	logger   *slog.Logger
}

// NewHandlerRegistry constructs an empty registry.
func NewHandlerRegistry(logger *slog.Logger) *HandlerRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &HandlerRegistry{
		handlers: make(map[string]Handler),
		logger:   logger.With("component", "handler_registry"),
	}
}

// Register binds a handler to a work type. Last registration wins;
// re-registering a type is a configuration smell and gets logged.
func (r *HandlerRegistry) Register(workType string, h Handler) error {
	if workType == "" {
		return fmt.Errorf("work type is required")
	}
	if h == nil {
		return fmt.Errorf("handler for %q is nil", workType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[workType]; exists {
		r.logger.Warn("handler re-registered, last registration wins", "work_type", workType)
	}
	r.handlers[workType] = h
	return nil
}

// Resolve returns the handler for a work type.
func (r *HandlerRegistry) Resolve(workType string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[workType]
	if !ok {
		return nil, fmt.Errorf("no handler registered for work type %q", workType)
	}
	return h, nil
}

// Has reports whether a handler is registered for the work type. Job creation
// uses this to reject unknown work types eagerly.
func (r *HandlerRegistry) Has(workType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[workType]
	return ok
}

// WorkTypes returns the registered work types in sorted order.
func (r *HandlerRegistry) WorkTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
