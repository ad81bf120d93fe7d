package model

import (
	"time"
)

// EventType names an event pushed to gateway stream subscribers.
type EventType string

const (
	EventTypeSnapshot  EventType = "snapshot"
	EventTypeMessages  EventType = "messages"
	EventTypeState     EventType = "state"
	EventTypeError     EventType = "error"
	EventTypeHeartbeat EventType = "heartbeat"
)

// RoomEvent is the payload of a snapshot or messages event.
type RoomEvent struct {
	ChatID      string    `json:"chat_id"`
	Messages    []Message `json:"messages"`
	StreamState string    `json:"stream_state"`
	Version     uint64    `json:"version"`
}

// ErrorEvent represents an error event.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HeartbeatEvent represents a heartbeat event.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}
