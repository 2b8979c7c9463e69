package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/steward-labs/steward/internal/domain/model"
	"github.com/steward-labs/steward/internal/service"
)

// ActionHandlers provides HTTP handlers for the pending actions gate.
type ActionHandlers struct {
	Gate *service.PendingActionsGate
}

// ProposeActionBody is the request body for ProposeAction. Channel rides
// alongside the proposal because tier policies may be channel-scoped.
type ProposeActionBody struct {
	ActionName string          `json:"action_name"`
	Args       json.RawMessage `json:"args"`
	UserID     string          `json:"user_id"`
	SessionID  *string         `json:"session_id,omitempty"`
	Context    json.RawMessage `json:"context,omitempty"`
	Channel    model.Channel   `json:"channel"`
}

// ProposeAction routes a proposed side effect through the gate.
// Auto-approved actions execute before the response is written; everything
// else comes back with the pending action ID to decide on.
func (h *ActionHandlers) ProposeAction(w http.ResponseWriter, r *http.Request) {
	var body ProposeActionBody
	if !DecodeJSON(w, r, &body) {
		return
	}
	if !body.Channel.Valid() {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_channel", Err: errors.New("a valid channel is required")})
		return
	}

	outcome, err := h.Gate.Propose(r.Context(), &model.ProposeActionRequest{
		ActionName: body.ActionName,
		Args:       body.Args,
		UserID:     body.UserID,
		SessionID:  body.SessionID,
		Context:    body.Context,
	}, body.Channel)
	if err != nil {
		writeServiceError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "propose_failed", Err: err})
		return
	}

	code := http.StatusOK
	if !outcome.Executed {
		code = http.StatusAccepted
	}
	WriteJSON(w, code, outcome)
}

// ApproveAction resolves a pending action as approved and executes it.
// Losing a decision race maps to 409; the winner's execution result is
// recorded on the action either way.
func (h *ActionHandlers) ApproveAction(w http.ResponseWriter, r *http.Request) {
	actionID := chi.URLParam(r, "id")
	if actionID == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("action id is required")})
		return
	}

	resolved, err := h.Gate.Approve(r.Context(), actionID)
	if err != nil {
		writeServiceError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "approve_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, resolved)
}

// RejectActionBody is the optional request body for RejectAction.
type RejectActionBody struct {
	Reason *string `json:"reason,omitempty"`
}

// RejectAction resolves a pending action as rejected. The executor is never
// invoked for rejected actions.
func (h *ActionHandlers) RejectAction(w http.ResponseWriter, r *http.Request) {
	actionID := chi.URLParam(r, "id")
	if actionID == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("action id is required")})
		return
	}

	var body RejectActionBody
	if r.ContentLength > 0 && !DecodeJSON(w, r, &body) {
		return
	}

	resolved, err := h.Gate.Reject(r.Context(), actionID, body.Reason)
	if err != nil {
		writeServiceError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "reject_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, resolved)
}

// GetAction fetches a single pending action by ID, any status.
func (h *ActionHandlers) GetAction(w http.ResponseWriter, r *http.Request) {
	actionID := chi.URLParam(r, "id")
	if actionID == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("action id is required")})
		return
	}

	pending, err := h.Gate.Get(r.Context(), actionID)
	if err != nil {
		writeServiceError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "get_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, pending)
}

// ListPendingActions returns the undecided, unexpired actions for a user.
func (h *ActionHandlers) ListPendingActions(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_query", Err: errors.New("user_id is required")})
		return
	}

	actions, err := h.Gate.ListPending(r.Context(), userID)
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "list_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"actions": actions})
}
