package channel

import (
	"errors"
	"testing"
)

func TestChannelErrorUnwrap(t *testing.T) {
	cause := errors.New("fork failed")
	err := &ChannelError{Message: "spawn backend CLI", Cause: cause}

	if !errors.Is(err, cause) {
		t.Error("ChannelError should unwrap to its cause")
	}
	msg := err.Error()
	if msg == "" || msg == cause.Error() {
		t.Errorf("error text should carry context: %q", msg)
	}
}

func TestChannelErrorSentinels(t *testing.T) {
	err := &ChannelError{Message: "start query", Cause: ErrClosed}
	if !errors.Is(err, ErrClosed) {
		t.Error("sentinel should survive wrapping")
	}
}
