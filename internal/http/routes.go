package httpx

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/steward-labs/steward/internal/core"
	"github.com/steward-labs/steward/internal/service"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Jobs     *service.JobService
	Gate     *service.PendingActionsGate
	Sessions *service.SessionRouter

	Notifications core.NotificationRepository
	Policies      core.ApprovalPolicyRepository
	PolicyCache   *core.PolicyCache

	// Optional: readiness reporting for the cache connection.
	Cache  core.CacheRepository
	Logger *slog.Logger
}

// NewRouter creates and configures the orchestration API router.
func NewRouter(services RouterServices) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	if services.Logger != nil {
		r.Use(RequestLogger(services.Logger))
	}

	jobHandlers := &JobHandlers{Svc: services.Jobs}
	actionHandlers := &ActionHandlers{Gate: services.Gate}
	sessionHandlers := &SessionHandlers{Router: services.Sessions}
	notificationHandlers := &NotificationHandlers{Repo: services.Notifications}
	policyHandlers := &PolicyHandlers{Repo: services.Policies, Cache: services.PolicyCache}

	r.Get("/healthz", healthHandler)
	r.Head("/healthz", healthHandler)
	r.Get("/readyz", readyHandler(services.Cache))

	r.Route("/api/jobs", func(r chi.Router) {
		r.Post("/", jobHandlers.CreateJob)
		r.Get("/stats", jobHandlers.JobStats)
		r.Get("/{id}", jobHandlers.GetJob)
		r.Get("/{id}/status", jobHandlers.JobStatus)
		r.Post("/{id}/cancel", jobHandlers.CancelJob)
	})

	r.Route("/api/actions", func(r chi.Router) {
		r.Post("/", actionHandlers.ProposeAction)
		r.Get("/", actionHandlers.ListPendingActions)
		r.Get("/{id}", actionHandlers.GetAction)
		r.Post("/{id}/approve", actionHandlers.ApproveAction)
		r.Post("/{id}/reject", actionHandlers.RejectAction)
	})

	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/resolve", sessionHandlers.ResolveSession)
		r.Get("/{id}", sessionHandlers.GetSession)
	})

	r.Route("/api/notifications", func(r chi.Router) {
		r.Get("/", notificationHandlers.ListNotifications)
		r.Post("/{id}/read", notificationHandlers.MarkNotificationRead)
	})

	r.Route("/api/policies", func(r chi.Router) {
		r.Put("/", policyHandlers.UpsertPolicy)
	})

	r.Route("/api/users/{id}/tier-prefs", func(r chi.Router) {
		r.Put("/", policyHandlers.SetUserTierPref)
		r.Get("/{action}", policyHandlers.GetUserTierPref)
	})

	return r
}
