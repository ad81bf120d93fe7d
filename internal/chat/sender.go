package chat

import (
	"context"
	"encoding/base64"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/civic-reports/chat-gateway/internal/model"
	"github.com/civic-reports/chat-gateway/internal/upstream"
	"github.com/civic-reports/chat-gateway/pkg/logger"
	"github.com/civic-reports/chat-gateway/pkg/metrics"
)

// Sender performs optimistic sends: the message is shown immediately and
// retracted if the backend rejects it.
type Sender struct {
	ns     Namespace
	log    *MessageLog
	now    func() time.Time
	newID  func() model.ID
	logger *logger.Logger
}

// NewSender creates a sender writing placeholders into log.
func NewSender(ns Namespace, log *MessageLog, lg *logger.Logger) *Sender {
	return &Sender{
		ns:     ns,
		log:    log,
		now:    time.Now,
		newID:  placeholderID,
		logger: lg,
	}
}

// placeholderID is unique within the process and time-ordered, so it never
// collides with a backend id.
func placeholderID() model.ID {
	return model.ID("local-" + uuid.Must(uuid.NewV7()).String())
}

// Send appends a placeholder, posts the message and removes the placeholder
// again if the post fails. On success the placeholder stays in the log.
func (s *Sender) Send(ctx context.Context, sess *upstream.Session, chatID, text string, image *Attachment) (*model.Message, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" && image == nil {
		metrics.Sends.WithLabelValues("rejected").Inc()
		return nil, ErrEmptyMessage
	}
	if !sess.Valid() {
		metrics.Sends.WithLabelValues("rejected").Inc()
		return nil, upstream.ErrMissingToken
	}

	placeholder := model.Message{
		ID:        s.newID(),
		Sender:    model.ID(sess.UserID),
		CreatedAt: s.now().UTC(),
		Pending:   true,
	}
	if trimmed != "" {
		placeholder.Text = &trimmed
	}
	if image != nil {
		preview := previewURL(image)
		placeholder.Image = &preview
	}
	s.log.Append(placeholder)

	if err := s.ns.SendMessage(ctx, sess, chatID, trimmed, image); err != nil {
		s.log.Remove(placeholder.ID)
		metrics.Sends.WithLabelValues("rolled_back").Inc()
		s.logger.Warn("send failed, placeholder retracted",
			zap.String("chat_id", chatID),
			zap.String("placeholder_id", string(placeholder.ID)),
			zap.Error(err),
		)
		return nil, err
	}

	metrics.Sends.WithLabelValues("ok").Inc()
	return &placeholder, nil
}

// previewURL renders the attachment locally so it shows before upload.
func previewURL(a *Attachment) string {
	contentType := a.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(a.Data)
}
