package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/campusdesk/helpdesk/internal/middleware"
	"github.com/campusdesk/helpdesk/internal/model"
	"github.com/campusdesk/helpdesk/internal/service"
	"github.com/campusdesk/helpdesk/internal/store"
	"github.com/campusdesk/helpdesk/pkg/logger"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// decodeJSON reads a JSON request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// statusFor maps a service error to its HTTP status.
func statusFor(err error) int {
	switch {
	case service.IsValidation(err), errors.Is(err, service.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, service.ErrLLMDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError writes err with its mapped status. Server errors are
// logged and replaced by fallback.
func writeServiceError(w http.ResponseWriter, log *logger.Logger, err error, fallback string) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error(fallback, zap.Error(err))
		writeError(w, status, fallback)
		return
	}

	message := err.Error()
	switch status {
	case http.StatusNotFound:
		message = "not found"
	case http.StatusConflict:
		message = "email already registered"
	}
	writeError(w, status, message)
}

// identity returns the caller set by the auth middleware.
func identity(r *http.Request) model.Identity {
	id, _ := middleware.GetIdentity(r.Context())
	return id
}
