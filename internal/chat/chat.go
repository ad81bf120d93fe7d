// Package chat implements the per-report chat synchronization protocol:
// conversation id resolution, history loading, the live message socket and
// optimistic sends, composed into a Room for one open conversation.
package chat

import (
	"context"
	"errors"

	"github.com/civic-reports/chat-gateway/internal/model"
	"github.com/civic-reports/chat-gateway/internal/upstream"
)

var (
	// ErrEmptyMessage rejects a send with neither text nor image.
	ErrEmptyMessage = errors.New("message must contain text or an image")

	// ErrNotOpen is returned when a room operation needs an open conversation.
	ErrNotOpen = errors.New("chat room is not open")

	// ErrStale is returned when an open was superseded by a newer one.
	ErrStale = errors.New("chat room was switched or closed")

	// ErrNoChatID is returned when the backend create call yields no id.
	ErrNoChatID = errors.New("backend returned no chat id")
)

// Attachment is an image file attached to a send.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Namespace is the role-specific endpoint strategy. City and company
// dashboards share every behavior except the URL namespace.
type Namespace interface {
	Role() model.Role
	ResolveSession(ctx context.Context, sess *upstream.Session, reportID string) (string, error)
	ForgetSession(ctx context.Context, sess *upstream.Session, reportID string) error
	LoadHistory(ctx context.Context, sess *upstream.Session, chatID string) ([]model.Message, error)
	OpenStream(ctx context.Context, sess *upstream.Session, chatID string, onMessage func(model.Message)) (*Stream, error)
	SendMessage(ctx context.Context, sess *upstream.Session, chatID, text string, image *Attachment) error
}

// ChatIDCache remembers resolved conversation ids. Entries are partitioned
// by the caller's scope (see upstream.Session.Scope), since the backend
// keeps a separate conversation per counterpart organization.
type ChatIDCache interface {
	Get(ctx context.Context, role model.Role, scope, reportID string) (string, bool, error)
	Set(ctx context.Context, role model.Role, scope, reportID, chatID string) error
	Forget(ctx context.Context, role model.Role, scope, reportID string) error
}

// MessageSink receives every authoritative message merged into a room.
type MessageSink interface {
	PublishMessage(ctx context.Context, role model.Role, chatID string, msg model.Message) error
}
