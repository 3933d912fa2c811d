// Package transcript holds the conversation transcript model and its
// storage backends. The conductor treats the store as a sink: one
// growing assistant entry per query, appended or updated in place.
package transcript

import (
	"time"

	"github.com/google/uuid"

	"github.com/bazelment/agentdeck/protocol"
)

// Role identifies who produced a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ToolUsage is one tool invocation recorded on an assistant message,
// updated in place when its correlated result arrives.
type ToolUsage struct {
	ToolID       string                 `json:"tool_id"`
	Name         string                 `json:"name"`
	Input        map[string]interface{} `json:"input,omitempty"`
	ParentToolID string                 `json:"parent_tool_id,omitempty"`
	Result       string                 `json:"result,omitempty"`
	IsError      bool                   `json:"is_error,omitempty"`
	Completed    bool                   `json:"completed,omitempty"`
}

// Message is one transcript entry. Content is append-only across
// streamed chunks; the message id stays stable so stores can upsert.
type Message struct {
	ID                   string         `json:"id"`
	Role                 Role           `json:"role"`
	Content              string         `json:"content"`
	TokenUsage           protocol.Usage `json:"token_usage,omitempty"`
	ToolUsages           []ToolUsage    `json:"tool_usages,omitempty"`
	StopReason           string         `json:"stop_reason,omitempty"`
	Error                string         `json:"error,omitempty"`
	IsInterruptionMarker bool           `json:"is_interruption_marker,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// NewMessage creates a transcript message with a fresh id.
func NewMessage(role Role, content string) *Message {
	now := time.Now().UTC()
	return &Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ToolUsage returns the recorded usage for a tool id, if present.
func (m *Message) ToolUsage(toolID string) *ToolUsage {
	for i := range m.ToolUsages {
		if m.ToolUsages[i].ToolID == toolID {
			return &m.ToolUsages[i]
		}
	}
	return nil
}

// Clone returns a deep copy safe to hand to other goroutines.
func (m *Message) Clone() *Message {
	out := *m
	out.ToolUsages = append([]ToolUsage(nil), m.ToolUsages...)
	return &out
}
