// Package memory stores conversation transcripts per session.
package memory

import "time"

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Metadata is optional per-message bookkeeping.
type Metadata struct {
	Model           string `json:"model,omitempty"`
	TokenCount      int    `json:"token_count,omitempty"`
	LatencyMs       int64  `json:"latency_ms,omitempty"`
	DocumentGroupID string `json:"document_group_id,omitempty"`
}

// Message is one entry in a session transcript. Messages are never
// edited after they are appended.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Metadata  Metadata  `json:"metadata"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionSummary describes one session for listings.
type SessionSummary struct {
	ID           string    `json:"id"`
	MessageCount int       `json:"message_count"`
	StartedAt    time.Time `json:"started_at"`
	LastActive   time.Time `json:"last_active"`
}

// ToolCall records one tool invocation made during a session.
type ToolCall struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id"`
	ToolName    string     `json:"tool_name"`
	Arguments   string     `json:"arguments"`
	Result      string     `json:"result,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMs  int64      `json:"duration_ms,omitempty"`
}
