package httpx

import (
	"io"
	"net/http"

	"github.com/steward-labs/steward/internal/core"
)

const healthResponse = `{"status":"ok"}`

// healthHandler returns a simple 200 OK status for liveness checks.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.WriteString(w, healthResponse); err != nil {
		// Nothing more to do if the client connection is gone.
		return
	}
}

// readyHandler reports readiness, including the cache connection when one is
// wired. A cache outage degrades policy lookups but keeps serving, so it is
// reported without failing the check.
func readyHandler(cache core.CacheRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]string{"status": "ok"}
		if cache != nil {
			if err := cache.Health(r.Context()); err != nil {
				body["cache"] = "unavailable"
			} else {
				body["cache"] = "ok"
			}
		}
		WriteJSON(w, http.StatusOK, body)
	}
}
