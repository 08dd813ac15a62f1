package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"tally/internal/core"
	"tally/internal/log"
	"tally/internal/middleware/trace"
)

// errorResponse is the uniform error body. Validation messages already
// carry the field name ("amount: must be greater than zero").
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v with the right headers. Encoding failures are logged,
// not surfaced: the status line is already on the wire.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Failed to encode response",
			"error", err, log.FieldPath, r.URL.Path)
	}
}

// writeError maps a service error onto a status code and JSON body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Request failed",
			"error", err, log.FieldMethod, r.Method, log.FieldPath, r.URL.Path,
			log.FieldStatusCode, status, log.FieldRequestID, trace.GetRequestID(r.Context()))
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		// Internal details stay in the log
		msg = "internal error"
	}
	writeJSON(w, r, status, errorResponse{Error: msg})
}

// statusFor picks the response code for a domain error. Specific sentinels
// are matched before the kinds they wrap.
func statusFor(err error) int {
	switch {
	case core.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrNotYetDue),
		errors.Is(err, core.ErrTemplateInactive),
		errors.Is(err, core.ErrTemplateExpired),
		errors.Is(err, core.ErrDuplicate),
		errors.Is(err, core.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, core.ErrEmptyList),
		errors.Is(err, core.ErrCurrencyMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrRateUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrDependency):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// maxBodySize caps request bodies; the largest legitimate payload is a
// shopping template with a few dozen items.
const maxBodySize = 1 << 20 // 1MB

// decodeJSON reads the request body into dst, rejecting unknown fields so
// client typos fail loudly instead of silently dropping data.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return core.Validationf("body", "invalid JSON: %s", err.Error())
	}
	// A second document in the body is a client bug
	if dec.More() {
		return core.Validationf("body", "unexpected trailing data")
	}
	return nil
}

// notFound is the fallback for unmatched /api paths.
func notFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusNotFound, errorResponse{Error: fmt.Sprintf("no such endpoint: %s %s", r.Method, r.URL.Path)})
}
