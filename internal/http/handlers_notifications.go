package httpx

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/steward-labs/steward/internal/core"
)

const (
	defaultNotificationLimit = 50
	maxNotificationLimit     = 200
)

// NotificationHandlers provides HTTP handlers for reading the persisted
// notification feed. Writes go through the dispatcher, never this surface.
type NotificationHandlers struct {
	Repo core.NotificationRepository
}

// ListNotifications returns a user's notifications, newest first. The unread
// query param narrows the feed to unread records.
func (h *NotificationHandlers) ListNotifications(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_query", Err: errors.New("user_id is required")})
		return
	}
	limit, offset := ParseLimitOffset(r, defaultNotificationLimit, maxNotificationLimit)

	notifications, err := h.Repo.ListByUser(r.Context(), core.NotificationListOptions{
		UserID:     userID,
		UnreadOnly: parseBoolQuery(r, "unread", false),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "list_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"notifications": notifications})
}

// MarkNotificationRead marks one notification as read. Re-marking an already
// read record reports ok=false rather than an error.
func (h *NotificationHandlers) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	notificationID := chi.URLParam(r, "id")
	if notificationID == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("notification id is required")})
		return
	}

	marked, err := h.Repo.MarkRead(r.Context(), notificationID)
	if err != nil {
		writeServiceError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "mark_read_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": marked})
}
