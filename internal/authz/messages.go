package authz

import (
	"time"

	"github.com/yudame/valor/internal/workspace"
)

// Stream message types
const (
	MessageTypeDecision  = "decision"
	MessageTypeSubscribe = "subscribe"
	MessageTypeError     = "error"
)

// StreamMessage is sent over the audit stream websocket. Clients may send a
// subscribe message with ChatID set to receive only that chat's decisions;
// an empty ChatID subscribes to everything.
type StreamMessage struct {
	Type      string    `json:"type"`
	ChatID    string    `json:"chat_id,omitempty"`
	Operation string    `json:"operation,omitempty"`
	Workspace string    `json:"workspace,omitempty"`
	Resource  string    `json:"resource,omitempty"`
	Allowed   bool      `json:"allowed"`
	Kind      string    `json:"kind,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

func decisionMessage(d workspace.Decision) *StreamMessage {
	return &StreamMessage{
		Type:      MessageTypeDecision,
		ChatID:    d.ChatID,
		Operation: d.Operation,
		Workspace: d.Workspace,
		Resource:  d.Resource,
		Allowed:   d.Allowed,
		Kind:      d.Kind,
		Detail:    d.Message,
		Timestamp: d.Time,
	}
}

type notionCheckRequest struct {
	ChatID    string `json:"chat_id"`
	Workspace string `json:"workspace"`
}

type directoryCheckRequest struct {
	ChatID string `json:"chat_id"`
	Path   string `json:"path"`
}

type whitelistCheckRequest struct {
	ChatID    int64  `json:"chat_id"`
	IsPrivate bool   `json:"is_private"`
	Username  string `json:"username,omitempty"`
}

// Decision is the body of every check response.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
}

// ChatInfo describes the workspace bound to a chat.
type ChatInfo struct {
	ChatID             string   `json:"chat_id"`
	Workspace          string   `json:"workspace"`
	Type               string   `json:"type"`
	NotionDatabaseID   string   `json:"notion_database_id,omitempty"`
	AllowedDirectories []string `json:"allowed_directories"`
}
