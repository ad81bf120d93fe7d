package chat

import (
	"strings"

	"github.com/civic-reports/chat-gateway/internal/model"
)

// NormalizePath rewrites OS-style separators to forward slashes.
func NormalizePath(p string) string {
	return strings.ReplaceAll(p, `\`, "/")
}

// Normalize converts a backend message into the canonical shape. Empty text
// and image become null, image paths use forward slashes and relative image
// paths are resolved against apiBase, and the sender is sender_id with
// user_id as the fallback.
func Normalize(raw model.RawMessage, apiBase string) model.Message {
	msg := model.Message{
		ID:        raw.ID,
		Sender:    raw.SenderID,
		CreatedAt: model.ParseTimestamp(raw.CreatedAt),
	}
	if msg.Sender == "" {
		msg.Sender = raw.UserID
	}

	if raw.Text != nil && *raw.Text != "" {
		text := *raw.Text
		msg.Text = &text
	}

	if raw.Image != nil && *raw.Image != "" {
		image := resolveImage(NormalizePath(*raw.Image), apiBase)
		msg.Image = &image
	}

	return msg
}

func resolveImage(p, apiBase string) string {
	if apiBase == "" || isAbsoluteRef(p) {
		return p
	}
	return strings.TrimRight(apiBase, "/") + "/" + strings.TrimLeft(p, "/")
}

func isAbsoluteRef(p string) bool {
	for _, prefix := range []string{"http://", "https://", "blob:", "data:", "//"} {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}
