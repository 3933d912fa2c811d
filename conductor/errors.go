package conductor

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	ErrClosed        = errors.New("conductor is closed")
	ErrSessionExists = errors.New("agent session already exists")
	ErrEmptyPrompt   = errors.New("prompt text is empty")
)

// ConfigurationError indicates an agent id that resolves to no session.
type ConfigurationError struct {
	AgentID string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: no agent session %q", e.AgentID)
}

// ProtocolError represents a malformed or unexpected message for one
// session. It never halts dispatch for other sessions.
type ProtocolError struct {
	Cause   error
	Message string
	Line    string
}

func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("protocol error: %s", e.Message)
}

func (e *ProtocolError) Unwrap() error {
	return e.Cause
}

// ValidationError represents a non-fatal schema/shape check failure;
// the turn continues.
type ValidationError struct {
	Cause   error
	Message string
}

func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("validation error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Cause
}
