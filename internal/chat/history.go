package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/civic-reports/chat-gateway/internal/model"
	"github.com/civic-reports/chat-gateway/internal/upstream"
	"github.com/civic-reports/chat-gateway/pkg/logger"
	"github.com/civic-reports/chat-gateway/pkg/metrics"
)

// HistoryLoader fetches the message backlog of a conversation.
type HistoryLoader struct {
	client *upstream.Client
	role   model.Role
	logger *logger.Logger
}

// NewHistoryLoader creates a loader for one role namespace.
func NewHistoryLoader(client *upstream.Client, role model.Role, log *logger.Logger) *HistoryLoader {
	return &HistoryLoader{
		client: client,
		role:   role,
		logger: log,
	}
}

// Load returns the normalized history in the order the backend sent it.
// A body that is not a JSON array is treated as an empty history.
func (h *HistoryLoader) Load(ctx context.Context, sess *upstream.Session, chatID string) ([]model.Message, error) {
	path := fmt.Sprintf("/api/%s/chats/%s/messages", h.role, url.PathEscape(chatID))

	data, err := h.client.GetJSON(ctx, sess, path, nil)
	if err != nil {
		metrics.HistoryLoads.WithLabelValues(string(h.role), "error").Inc()
		return nil, fmt.Errorf("load history for chat %s: %w", chatID, err)
	}

	msgs := DecodeHistory(data, h.client.BaseURL(), h.logger)
	metrics.HistoryLoads.WithLabelValues(string(h.role), "ok").Inc()
	return msgs, nil
}

// DecodeHistory normalizes a history body. Elements that fail to decode
// are skipped.
func DecodeHistory(data []byte, apiBase string, log *logger.Logger) []model.Message {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		log.Debug("history body is not an array, treating as empty")
		return []model.Message{}
	}

	msgs := make([]model.Message, 0, len(items))
	for _, item := range items {
		var raw model.RawMessage
		if err := json.Unmarshal(item, &raw); err != nil {
			log.Warn("skipping malformed history entry", zap.Error(err))
			continue
		}
		msgs = append(msgs, Normalize(raw, apiBase))
	}
	return msgs
}
