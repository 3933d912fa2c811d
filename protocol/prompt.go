package protocol

import (
	"encoding/json"
	"fmt"
)

// FileRef is an attachment resolved to an inline file reference.
type FileRef struct {
	Path    string `json:"path"`
	Display string `json:"display,omitempty"`
}

// PromptPayload is the outbound request that starts one query.
type PromptPayload struct {
	Prompt          string    `json:"prompt"`
	ResumeSessionID string    `json:"resume_session_id,omitempty"`
	WorkDir         string    `json:"cwd,omitempty"`
	Model           string    `json:"model,omitempty"`
	PermissionMode  string    `json:"permission_mode,omitempty"`
	MaxTurns        int       `json:"max_turns,omitempty"`
	Attachments     []FileRef `json:"attachments,omitempty"`
}

// UserMessageToSend is the user-turn line written to the backend.
type UserMessageToSend struct {
	Type    string                 `json:"type"`
	Message UserMessageToSendInner `json:"message"`
}

// UserMessageToSendInner is the inner part of messages we send.
type UserMessageToSendInner struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

// NewUserTextMessage constructs a UserMessageToSend with a plain text string.
func NewUserTextMessage(text string) UserMessageToSend {
	return UserMessageToSend{
		Type: "user",
		Message: UserMessageToSendInner{
			Role:    "user",
			Content: text,
		},
	}
}

// Marshal serializes the message to a JSON line ready to write to the backend.
func (m UserMessageToSend) Marshal() ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal UserMessageToSend: %w", err)
	}
	return b, nil
}

// InterruptRequest is the control line that asks the backend to abort
// the in-flight turn.
type InterruptRequest struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	Request   struct {
		Subtype string `json:"subtype"`
	} `json:"request"`
}

// NewInterrupt constructs an interrupt control request.
func NewInterrupt(requestID string) InterruptRequest {
	req := InterruptRequest{Type: "control_request", RequestID: requestID}
	req.Request.Subtype = "interrupt"
	return req
}
