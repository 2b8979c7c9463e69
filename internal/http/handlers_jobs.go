// Package httpx provides HTTP handlers and utilities for the steward
// orchestration API.
package httpx

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/steward-labs/steward/internal/domain/model"
	"github.com/steward-labs/steward/internal/service"
)

// JobHandlers provides HTTP handlers for job-related operations.
type JobHandlers struct {
	Svc *service.JobService
}

// CreateJob handles HTTP requests to enqueue a new background job.
func (h *JobHandlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req model.CreateJobRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	job, err := h.Svc.Create(r.Context(), &req)
	if err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, service.ErrUnknownWorkType) {
			code = http.StatusUnprocessableEntity
		}
		WriteError(w, ErrorParams{Code: code, ErrCode: "create_failed", Err: err})
		return
	}

	WriteJSON(w, http.StatusCreated, job)
}

// GetJob handles HTTP requests to fetch a full job record.
func (h *JobHandlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	if jobID == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("job id is required")})
		return
	}

	job, err := h.Svc.Get(r.Context(), jobID)
	if err != nil {
		writeServiceError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "get_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// JobStatus handles HTTP requests for the condensed status view of a job.
func (h *JobHandlers) JobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	if jobID == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("job id is required")})
		return
	}

	status, err := h.Svc.Status(r.Context(), jobID)
	if err != nil {
		writeServiceError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "status_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, status)
}

// JobStats handles HTTP requests for queue depth counters, optionally scoped
// to one work type via the work_type query param.
func (h *JobHandlers) JobStats(w http.ResponseWriter, r *http.Request) {
	workType := r.URL.Query().Get("work_type")

	stats, err := h.Svc.Stats(r.Context(), workType)
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "stats_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}

// CancelJob handles HTTP requests to cancel a job that has not started.
func (h *JobHandlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	if jobID == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("job id is required")})
		return
	}

	cancelled, err := h.Svc.Cancel(r.Context(), jobID)
	if err != nil {
		writeServiceError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "cancel_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": cancelled})
}
