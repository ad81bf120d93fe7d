package upstream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// APIError is a non-success HTTP response from the backend.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Detail)
}

// newAPIError parses the body best-effort. A "detail" field is preferred as
// the message; list details are joined one JSON element per line.
func newAPIError(status int, body []byte) *APIError {
	return &APIError{Status: status, Detail: detailMessage(status, body)}
}

func detailMessage(status int, body []byte) string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && len(payload.Detail) > 0 {
		var s string
		if err := json.Unmarshal(payload.Detail, &s); err == nil && s != "" {
			return s
		}
		var list []json.RawMessage
		if err := json.Unmarshal(payload.Detail, &list); err == nil && len(list) > 0 {
			parts := make([]string, len(list))
			for i, item := range list {
				parts[i] = string(item)
			}
			return strings.Join(parts, "\n")
		}
	}
	if text := http.StatusText(status); text != "" {
		return "request failed: " + strings.ToLower(text)
	}
	return "request failed"
}
