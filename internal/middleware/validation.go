package middleware

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/civic-reports/chat-gateway/internal/model"
)

const (
	// MaxMessageLength bounds a chat message's text in bytes.
	MaxMessageLength = 10000

	// MaxImageSize bounds an attached image.
	MaxImageSize = 10 << 20
)

// ValidateRole parses a dashboard role path segment.
func ValidateRole(role string) (model.Role, error) {
	r, err := model.ParseRole(role)
	if err != nil {
		return "", errors.New("role must be city or company")
	}
	return r, nil
}

// ValidateReportID validates a report id path segment.
func ValidateReportID(id string) error {
	if id == "" {
		return errors.New("report ID cannot be empty")
	}
	if len(id) > 64 {
		return errors.New("report ID exceeds maximum length")
	}
	if strings.ContainsAny(id, "/?#\\ ") {
		return errors.New("invalid report ID format")
	}
	return nil
}

// ValidateMessageText validates outgoing text. Empty text is allowed here;
// whether a send is empty depends on the attachment too.
func ValidateMessageText(text string) error {
	if len(text) > MaxMessageLength {
		return errors.New("message exceeds maximum length")
	}
	if !utf8.ValidString(text) {
		return errors.New("message must be valid UTF-8")
	}
	return nil
}

// ValidateImage validates an attachment's size and type.
func ValidateImage(contentType string, size int) error {
	if size > MaxImageSize {
		return errors.New("image exceeds maximum size")
	}
	if contentType != "" && !strings.HasPrefix(contentType, "image/") {
		return errors.New("attachment must be an image")
	}
	return nil
}
