package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/civic-reports/chat-gateway/internal/model"
	"github.com/civic-reports/chat-gateway/pkg/metrics"
)

const (
	// StreamName is the name of the chat messages stream.
	StreamName = "CHAT_MESSAGES"

	// SubjectPrefix is the prefix for all chat subjects.
	SubjectPrefix = "chat"
)

// publisher is the slice of JetStream the mirror needs.
type publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// MirroredMessage is the payload published for each chat message.
type MirroredMessage struct {
	Role    model.Role    `json:"role"`
	ChatID  string        `json:"chat_id"`
	Message model.Message `json:"message"`
}

// Mirror publishes canonical chat messages so other services can follow
// conversations without holding sockets to the backend.
type Mirror struct {
	js publisher
}

// NewMirror creates a mirror publishing over conn.
func NewMirror(conn *Conn) *Mirror {
	return &Mirror{js: conn.js}
}

// MessageSubject returns the subject for a conversation's messages.
func MessageSubject(role model.Role, chatID string) string {
	return fmt.Sprintf("%s.%s.%s.msg", SubjectPrefix, role, chatID)
}

// PublishMessage publishes one message. Several gateway instances may
// observe the same message, so the JetStream message id deduplicates them.
func (m *Mirror) PublishMessage(ctx context.Context, role model.Role, chatID string, msg model.Message) error {
	if msg.Pending {
		return nil
	}

	data, err := json.Marshal(MirroredMessage{Role: role, ChatID: chatID, Message: msg})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	var opts []jetstream.PublishOpt
	if msg.ID != "" {
		opts = append(opts, jetstream.WithMsgID(fmt.Sprintf("%s:%s:%s", role, chatID, msg.ID)))
	}

	if _, err := m.js.Publish(ctx, MessageSubject(role, chatID), data, opts...); err != nil {
		metrics.MirrorPublished.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to publish message: %w", err)
	}
	metrics.MirrorPublished.WithLabelValues("ok").Inc()
	return nil
}
