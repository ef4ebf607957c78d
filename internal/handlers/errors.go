package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"docqa-ai/internal/apperr"
	"docqa-ai/internal/contextutil"
)

// ErrorResponse represents an error response.
//
// swagger:model ErrorResponse
type ErrorResponse struct {
	Error string `json:"error"`
}

// statusForError maps the error taxonomy to an HTTP status and a message
// safe to show the caller.
func statusForError(err error) (int, string) {
	var vErr *apperr.ValidationError
	switch {
	case errors.As(err, &vErr):
		return http.StatusBadRequest, vErr.Error()
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest, "Invalid input"
	case errors.Is(err, apperr.ErrOwnership):
		return http.StatusForbidden, "Document does not belong to the caller"
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound, "Resource not found"
	case errors.Is(err, apperr.ErrExternal):
		return http.StatusBadGateway, "External service error"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "Request timed out"
	default:
		return http.StatusInternalServerError, ""
	}
}

// handleError logs err and writes the mapped status. defaultMsg is used for
// unclassified errors.
func handleError(w http.ResponseWriter, ctx context.Context, err error, defaultMsg string) {
	status, msg := statusForError(err)
	logger := contextutil.LoggerFromContext(ctx)
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(ctx, "request failed", "status", status, "error", err)
	} else {
		logger.WarnContext(ctx, "request rejected", "status", status, "error", err)
	}
	if msg == "" {
		msg = defaultMsg
	}
	writeError(w, status, msg)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// requireUser returns the caller identity set by the router's identity
// middleware, writing 401 when it is missing.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := contextutil.UserIDFromContext(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "User identity is required")
		return "", false
	}
	return userID, true
}
