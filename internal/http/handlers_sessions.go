package httpx

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/steward-labs/steward/internal/domain/model"
	"github.com/steward-labs/steward/internal/service"
)

// SessionHandlers provides HTTP handlers for session routing.
type SessionHandlers struct {
	Router *service.SessionRouter
}

// ResolveSession returns the active session for a channel, purpose and user,
// creating it on first use. Repeated calls with the same key converge on the
// same session.
func (h *SessionHandlers) ResolveSession(w http.ResponseWriter, r *http.Request) {
	var req model.ResolveSessionRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	session, err := h.Router.Resolve(r.Context(), &req)
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "resolve_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, session)
}

// GetSession fetches a session by ID.
func (h *SessionHandlers) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if sessionID == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("session id is required")})
		return
	}

	session, err := h.Router.Get(r.Context(), sessionID)
	if err != nil {
		writeServiceError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "get_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, session)
}
