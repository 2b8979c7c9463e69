package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/steward-labs/steward/internal/core"
	"github.com/steward-labs/steward/internal/service"
)

// DecodeJSON decodes JSON from the request body into the destination and handles errors.
// Returns true if successful, false if there was an error (error response already written).
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_json", Err: err})
		return false
	}

	return true
}

// WriteJSON writes a JSON response with the given status code and data.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := buf.WriteTo(w); err != nil {
		// Response writer errors (e.g., client disconnect) can't be recovered from here.
		return
	}
}

// ErrorParams groups parameters for WriteError to adhere to the ≤3 params guideline.
type ErrorParams struct {
	Code    int
	ErrCode string
	Err     error
}

// WriteError writes a JSON error response using ErrorParams.
func WriteError(w http.ResponseWriter, p ErrorParams) {
	WriteJSON(w, p.Code, map[string]string{"error": p.ErrCode, "message": p.Err.Error()})
}

// writeServiceError maps known service sentinels onto HTTP statuses. Anything
// unrecognized is reported with the fallback code.
func writeServiceError(w http.ResponseWriter, fallback ErrorParams) {
	switch {
	case errors.Is(fallback.Err, core.ErrNotFound):
		WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: "not_found", Err: fallback.Err})
	case errors.Is(fallback.Err, core.ErrActionAlreadyResolved):
		WriteError(w, ErrorParams{Code: http.StatusConflict, ErrCode: "already_resolved", Err: fallback.Err})
	case errors.Is(fallback.Err, service.ErrSchemaViolation):
		WriteError(w, ErrorParams{Code: http.StatusUnprocessableEntity, ErrCode: "schema_violation", Err: fallback.Err})
	default:
		WriteError(w, fallback)
	}
}
