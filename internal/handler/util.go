package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/civic-reports/chat-gateway/internal/chat"
	"github.com/civic-reports/chat-gateway/internal/upstream"
	"github.com/civic-reports/chat-gateway/pkg/logger"
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

// statusFor maps a chat or backend error to the status returned to clients.
// Backend client errors keep their status; backend server errors become 502.
func statusFor(err error) int {
	var apiErr *upstream.APIError
	switch {
	case errors.Is(err, upstream.ErrMissingToken):
		return http.StatusUnauthorized
	case errors.Is(err, chat.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, chat.ErrNotOpen), errors.Is(err, chat.ErrStale):
		return http.StatusConflict
	case errors.As(err, &apiErr):
		if apiErr.Status >= 400 && apiErr.Status < 500 {
			return apiErr.Status
		}
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// messageFor returns the text shown to the user for err.
func messageFor(err error) string {
	var apiErr *upstream.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Detail
	}
	return err.Error()
}

// writeChatError reports err to the client and logs it.
func writeChatError(w http.ResponseWriter, log *logger.Logger, msg string, err error) {
	status := statusFor(err)
	if status >= 500 {
		log.Error(msg, zap.Error(err), zap.Int("status", status))
	} else {
		log.Debug(msg, zap.Error(err), zap.Int("status", status))
	}
	writeError(w, status, messageFor(err))
}
