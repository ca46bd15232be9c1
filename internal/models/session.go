package models

import (
	"time"

	"github.com/segmentio/ksuid"
)

// Status is the connection state of a live session
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// ParseStatus maps a transport status string onto a session status.
// Anything unrecognised is treated as connecting.
func ParseStatus(s string) Status {
	switch Status(s) {
	case StatusConnected:
		return StatusConnected
	case StatusDisconnected:
		return StatusDisconnected
	default:
		return StatusConnecting
	}
}

// Session identifies one logical editing session for a (document, token) pair
type Session struct {
	ID          string    `json:"id"`
	DocumentID  string    `json:"document_id"`
	AccessToken string    `json:"-"`
	OpenedAt    time.Time `json:"opened_at"`
}

func NewSession(documentID, accessToken string) *Session {
	return &Session{
		ID:          ksuid.New().String(),
		DocumentID:  documentID,
		AccessToken: accessToken,
		OpenedAt:    time.Now(),
	}
}

// SessionState is what the consuming view renders
type SessionState struct {
	SessionID  string `json:"session_id"`
	DocumentID string `json:"document_id"`
	Title      string `json:"title,omitempty"`
	Status     Status `json:"status"`
	IsReadOnly bool   `json:"is_read_only"`
	Archived   bool   `json:"archived"`
	Error      string `json:"error,omitempty"`
}

// PresenceEntry is one participant in the roster
type PresenceEntry struct {
	IdentityID  string `json:"identity_id"`
	DisplayName string `json:"display_name"`
	Color       string `json:"color,omitempty"`
	TransportID uint64 `json:"transport_id"`
}

// AwarenessState is the local participant's presence as published on the
// awareness channel.
// Learning: This is separate from document content - it's ephemeral user state
type AwarenessState struct {
	User   *UserInfo       `json:"user,omitempty"`
	Cursor *CursorPosition `json:"cursor,omitempty"`
}

// UserInfo represents information about a connected user
type UserInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"` // Hex color for cursor/highlight
}

// CursorPosition represents where a user's cursor is in the document
type CursorPosition struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// AwarenessSnapshot maps transport client ids to their raw JSON awareness state
type AwarenessSnapshot map[uint64]string

// MessageType is the leading varuint of every frame in the Yjs websocket protocol
type MessageType uint64

const (
	MessageTypeSync           MessageType = 0
	MessageTypeAwareness      MessageType = 1
	MessageTypeAuth           MessageType = 2
	MessageTypeQueryAwareness MessageType = 3
)

// NotificationLevel distinguishes warnings from errors shown to the user
type NotificationLevel string

const (
	NotificationWarning NotificationLevel = "warning"
	NotificationError   NotificationLevel = "error"
)

// Notification is a one-shot, user-visible message
type Notification struct {
	Level      NotificationLevel
	DocumentID string
	Message    string
}
