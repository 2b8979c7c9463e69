package httpx

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/steward-labs/steward/internal/core"
	"github.com/steward-labs/steward/internal/domain/model"
)

// PolicyHandlers provides HTTP handlers for approval policy administration.
type PolicyHandlers struct {
	Repo  core.ApprovalPolicyRepository
	Cache *core.PolicyCache
}

// UpsertPolicy creates or replaces the policy for an action, channel and
// matcher combination, then drops the action's cached policy list so the
// change takes effect without waiting out the TTL.
func (h *PolicyHandlers) UpsertPolicy(w http.ResponseWriter, r *http.Request) {
	var req model.UpsertPolicyRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	policy, err := h.Repo.Upsert(r.Context(), &req)
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "upsert_failed", Err: err})
		return
	}

	if h.Cache != nil {
		if err := h.Cache.Invalidate(r.Context(), policy.ActionName); err != nil {
			// Stale reads self-heal when the TTL lapses; the write succeeded.
			WriteJSON(w, http.StatusOK, policy)
			return
		}
	}
	WriteJSON(w, http.StatusOK, policy)
}

// SetUserTierPrefBody is the request body for SetUserTierPref.
type SetUserTierPrefBody struct {
	ActionName string             `json:"action_name"`
	Tier       model.ApprovalTier `json:"tier"`
}

// SetUserTierPref stores a user's standing answer for a user_configurable
// action. Only resolved tiers are accepted.
func (h *PolicyHandlers) SetUserTierPref(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if userID == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("user id is required")})
		return
	}

	var body SetUserTierPrefBody
	if !DecodeJSON(w, r, &body) {
		return
	}

	pref := &model.UserTierPref{
		UserID:     userID,
		ActionName: body.ActionName,
		Tier:       body.Tier,
	}
	if err := h.Repo.SetUserTierPref(r.Context(), pref); err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "set_pref_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, pref)
}

// GetUserTierPref returns a user's stored answer for an action, 404 when the
// user has not answered yet.
func (h *PolicyHandlers) GetUserTierPref(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	actionName := chi.URLParam(r, "action")
	if userID == "" || actionName == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("user id and action name are required")})
		return
	}

	pref, err := h.Repo.GetUserTierPref(r.Context(), userID, actionName)
	if err != nil {
		writeServiceError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "get_pref_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, pref)
}
