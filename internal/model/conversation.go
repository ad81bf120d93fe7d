// Package model defines data structures for the report chat gateway.
package model

import (
	"fmt"
)

// Role selects the backend namespace a party talks to.
type Role string

const (
	RoleCity    Role = "city"
	RoleCompany Role = "company"
)

// ParseRole validates a role string.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleCity, RoleCompany:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Chat is a per-report, per-counterpart conversation.
type Chat struct {
	ID       ID `json:"id"`
	ReportID ID `json:"report_id"`
}

// ChatLookupResponse is the body of the chat lookup and create endpoints.
// The city namespace answers chat_id, the company namespace chatId.
type ChatLookupResponse struct {
	ChatID      ID `json:"chat_id"`
	ChatIDCamel ID `json:"chatId"`
}

// Resolved returns the first present chat id.
func (r ChatLookupResponse) Resolved() ID {
	if r.ChatID != "" {
		return r.ChatID
	}
	return r.ChatIDCamel
}

// OpenRoomResponse is returned by the gateway when a room is opened.
type OpenRoomResponse struct {
	Role     Role   `json:"role"`
	ReportID string `json:"report_id"`
	ChatID   string `json:"chat_id"`
	Messages int    `json:"messages"`
}

// UpdateDraftRequest replaces the compose text of a room.
type UpdateDraftRequest struct {
	Text string `json:"text"`
}
