// Package channel abstracts the backend query channel: start a query,
// receive its message/complete/error events, request an abort. Delivery
// is FIFO per query id; ordering across query ids is unspecified.
package channel

import (
	"context"
	"encoding/json"

	"github.com/bazelment/agentdeck/protocol"
)

// EventType discriminates between channel event kinds.
type EventType int

const (
	// EventTypeMessage carries one raw protocol line for a query.
	EventTypeMessage EventType = iota
	// EventTypeComplete fires when a query's stream has ended.
	EventTypeComplete
	// EventTypeError fires when the backend failed mid-query.
	EventTypeError
)

// Event is the interface for all channel events.
type Event interface {
	Type() EventType
	Query() string
}

// MessageEvent carries one raw protocol message.
type MessageEvent struct {
	QueryID string
	Raw     json.RawMessage
}

// Type returns the event type.
func (e MessageEvent) Type() EventType { return EventTypeMessage }

// Query returns the query id the event belongs to.
func (e MessageEvent) Query() string { return e.QueryID }

// CompleteEvent marks the end of a query's stream.
type CompleteEvent struct {
	QueryID string
}

// Type returns the event type.
func (e CompleteEvent) Type() EventType { return EventTypeComplete }

// Query returns the query id the event belongs to.
func (e CompleteEvent) Query() string { return e.QueryID }

// ErrorEvent carries a backend failure for one query.
type ErrorEvent struct {
	QueryID string
	Err     error
}

// Type returns the event type.
func (e ErrorEvent) Type() EventType { return EventTypeError }

// Query returns the query id the event belongs to.
func (e ErrorEvent) Query() string { return e.QueryID }

// Channel is the backend query channel consumed by the conductor.
type Channel interface {
	// Start begins a new query and returns its id. The context gates
	// only the launch; the running query's lifetime belongs to the
	// channel and ends via Abort or Close. A failure to launch the
	// backend is reported as a *ChannelError.
	Start(ctx context.Context, p protocol.PromptPayload) (string, error)
	// Events returns the shared event stream for all queries. Closed by
	// Close().
	Events() <-chan Event
	// Abort asks the backend to stop a query. The query's remaining
	// messages (cancellation echo, final result) are still delivered.
	Abort(queryID string) error
	// Close tears the channel down and closes the event stream.
	Close() error
}
