package channel

import (
	"errors"
	"fmt"
)

// Sentinel errors for common channel conditions.
var (
	ErrClosed       = errors.New("channel is closed")
	ErrUnknownQuery = errors.New("unknown query id")
)

// ChannelError indicates the backend process failed to start.
type ChannelError struct {
	Cause   error
	Message string
}

func (e *ChannelError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("channel error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("channel error: %s", e.Message)
}

func (e *ChannelError) Unwrap() error {
	return e.Cause
}
