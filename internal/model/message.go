package model

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// ID is an identifier the backend may send as a JSON number or string.
// The zero value means absent.
type ID string

// UnmarshalJSON accepts numbers, strings and null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON writes numeric ids as numbers so the backend sees what it sent.
func (id ID) MarshalJSON() ([]byte, error) {
	if id == "" {
		return []byte("null"), nil
	}
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// RawMessage is a chat message as the backend sends it. Field names drift
// between endpoints, so every field is optional.
type RawMessage struct {
	ID        ID      `json:"id"`
	Text      *string `json:"text"`
	Image     *string `json:"image"`
	SenderID  ID      `json:"sender_id"`
	UserID    ID      `json:"user_id"`
	CreatedAt string  `json:"created_at"`
}

// Message is the canonical chat message shape.
type Message struct {
	ID        ID        `json:"id"`
	Text      *string   `json:"text"`
	Image     *string   `json:"image"`
	Sender    ID        `json:"sender"`
	CreatedAt time.Time `json:"created_at"`

	// Pending marks a local placeholder that has not been acknowledged.
	Pending bool `json:"pending,omitempty"`
}

// Renderable reports whether the message carries text or an image.
func (m Message) Renderable() bool {
	return (m.Text != nil && *m.Text != "") || (m.Image != nil && *m.Image != "")
}

// TextValue returns the text or "" when absent.
func (m Message) TextValue() string {
	if m.Text == nil {
		return ""
	}
	return *m.Text
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses the timestamp formats the backend emits. Values
// without a zone are UTC. Unparseable input yields the zero time.
func ParseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t
		}
	}
	return time.Time{}
}

// SendMessageResponse is returned by the gateway after an optimistic send.
type SendMessageResponse struct {
	Placeholder *Message `json:"placeholder"`
}

// ListMessagesResponse is the gateway snapshot of one room.
type ListMessagesResponse struct {
	ReportID    string    `json:"report_id"`
	ChatID      string    `json:"chat_id"`
	Messages    []Message `json:"messages"`
	Draft       string    `json:"draft"`
	StreamState string    `json:"stream_state"`
	Version     uint64    `json:"version"`
}
