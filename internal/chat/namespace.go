package chat

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/civic-reports/chat-gateway/internal/model"
	"github.com/civic-reports/chat-gateway/internal/upstream"
	"github.com/civic-reports/chat-gateway/pkg/logger"
)

// RoleNamespace implements Namespace against /api/{role}.
type RoleNamespace struct {
	role     model.Role
	client   *upstream.Client
	wsBase   string
	resolver *Resolver
	history  *HistoryLoader
	logger   *logger.Logger
}

// NewRoleNamespace creates the endpoint strategy for role.
func NewRoleNamespace(role model.Role, client *upstream.Client, wsBase string, cache ChatIDCache, log *logger.Logger) *RoleNamespace {
	log = log.Named(string(role))
	return &RoleNamespace{
		role:     role,
		client:   client,
		wsBase:   strings.TrimRight(wsBase, "/"),
		resolver: NewResolver(client, role, cache, log),
		history:  NewHistoryLoader(client, role, log),
		logger:   log,
	}
}

// Role returns the namespace role.
func (n *RoleNamespace) Role() model.Role {
	return n.role
}

// ResolveSession returns the conversation id for reportID.
func (n *RoleNamespace) ResolveSession(ctx context.Context, sess *upstream.Session, reportID string) (string, error) {
	return n.resolver.Resolve(ctx, sess, reportID)
}

// ForgetSession drops the remembered conversation id for reportID.
func (n *RoleNamespace) ForgetSession(ctx context.Context, sess *upstream.Session, reportID string) error {
	return n.resolver.Forget(ctx, sess, reportID)
}

// LoadHistory returns the normalized backlog of chatID.
func (n *RoleNamespace) LoadHistory(ctx context.Context, sess *upstream.Session, chatID string) ([]model.Message, error) {
	return n.history.Load(ctx, sess, chatID)
}

// OpenStream dials the conversation socket.
func (n *RoleNamespace) OpenStream(ctx context.Context, sess *upstream.Session, chatID string, onMessage func(model.Message)) (*Stream, error) {
	if !sess.Valid() {
		return nil, upstream.ErrMissingToken
	}

	stream := NewStream(n.StreamURL(sess, chatID), n.client.BaseURL(), onMessage, n.logger.WithChat(string(n.role), "", chatID))
	if err := stream.Connect(ctx); err != nil {
		return stream, fmt.Errorf("open stream for chat %s: %w", chatID, err)
	}
	return stream, nil
}

// StreamURL is the socket URL for chatID. The company backend serves its
// sockets under its own prefix.
func (n *RoleNamespace) StreamURL(sess *upstream.Session, chatID string) string {
	prefix := "/ws/chats/"
	if n.role == model.RoleCompany {
		prefix = "/ws/company/chats/"
	}
	return n.wsBase + prefix + url.PathEscape(chatID) + "?token=" + url.QueryEscape(sess.Token)
}

// SendMessage posts a multipart message. The created message in the
// response is ignored; the authoritative copy arrives through the stream
// or the next history load.
func (n *RoleNamespace) SendMessage(ctx context.Context, sess *upstream.Session, chatID, text string, image *Attachment) error {
	path := fmt.Sprintf("/api/%s/chats/%s/messages", n.role, url.PathEscape(chatID))

	var file *upstream.FilePart
	if image != nil {
		file = &upstream.FilePart{
			Field:       "file",
			Filename:    image.Filename,
			ContentType: image.ContentType,
			Data:        image.Data,
		}
	}

	if _, err := n.client.PostMultipart(ctx, sess, path, map[string]string{"text": text}, file); err != nil {
		return fmt.Errorf("send message to chat %s: %w", chatID, err)
	}
	return nil
}
