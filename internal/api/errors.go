package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/johnschieferleuhlenbrock/ha-snapshot/internal/service"
	"github.com/johnschieferleuhlenbrock/ha-snapshot/internal/snapshot"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest          = "bad_request"
	ErrCodeNotFound            = "not_found"
	ErrCodeParse               = "parse_error"
	ErrCodeIO                  = "io_error"
	ErrCodeRegistryUnavailable = "registry_unavailable"
	ErrCodeUnavailable         = "unavailable"
	ErrCodeTimeout             = "timeout"
	ErrCodeInternal            = "internal_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeServiceError maps a service call error onto a status code. The
// message is the error text, surfaced verbatim to the caller.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrUnknownService):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, snapshot.ErrParse):
		writeError(w, http.StatusBadRequest, ErrCodeParse, err.Error())
	case errors.Is(err, snapshot.ErrConfiguration):
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, snapshot.ErrRegistryUnavailable):
		writeError(w, http.StatusServiceUnavailable, ErrCodeRegistryUnavailable, err.Error())
	case errors.Is(err, snapshot.ErrIO):
		writeError(w, http.StatusInternalServerError, ErrCodeIO, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
