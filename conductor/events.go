package conductor

import "github.com/bazelment/agentdeck/transcript"

// EventType discriminates between event kinds.
type EventType int

const (
	// EventTypeSessionBound fires when the backend binds a session id.
	EventTypeSessionBound EventType = iota
	// EventTypeContentDelta fires for streamed assistant text chunks.
	EventTypeContentDelta
	// EventTypeToolInvocation fires when the assistant invokes a tool.
	EventTypeToolInvocation
	// EventTypeToolCompletion fires when a tool's correlated result arrives.
	EventTypeToolCompletion
	// EventTypeTurnComplete fires when the turn's result message lands.
	EventTypeTurnComplete
	// EventTypeError fires on query errors (at most once per query).
	EventTypeError
)

// Event is the interface for all observer events.
type Event interface {
	Type() EventType
}

// SessionBoundEvent fires when the backend binds a resumable session id
// to the agent session.
type SessionBoundEvent struct {
	AgentID          string
	QueryID          string
	BackendSessionID string
	Model            string
}

// Type returns the event type.
func (e SessionBoundEvent) Type() EventType { return EventTypeSessionBound }

// ContentDeltaEvent contains one streamed assistant text chunk.
type ContentDeltaEvent struct {
	AgentID      string
	QueryID      string
	Delta        string
	FullText     string
	IsNewMessage bool
}

// Type returns the event type.
func (e ContentDeltaEvent) Type() EventType { return EventTypeContentDelta }

// ToolInvocationEvent fires for each tool-use item, in array order.
type ToolInvocationEvent struct {
	AgentID      string
	QueryID      string
	ToolID       string
	Name         string
	Input        map[string]interface{}
	ParentToolID string
}

// Type returns the event type.
func (e ToolInvocationEvent) Type() EventType { return EventTypeToolInvocation }

// ToolCompletionEvent carries the correlated outcome of a tool invocation.
type ToolCompletionEvent struct {
	AgentID string
	QueryID string
	ToolID  string
	Result  string
	IsError bool
}

// Type returns the event type.
func (e ToolCompletionEvent) Type() EventType { return EventTypeToolCompletion }

// TurnCompleteEvent fires when the turn finalizes.
type TurnCompleteEvent struct {
	AgentID     string
	QueryID     string
	Success     bool
	Interrupted bool
	DurationMs  int64
	CostUSD     float64
	StopReason  string
	Usage       TokenCounts
	Err         error
}

// Type returns the event type.
func (e TurnCompleteEvent) Type() EventType { return EventTypeTurnComplete }

// ErrorEvent carries a query error.
type ErrorEvent struct {
	AgentID string
	QueryID string
	Err     error
	Context string
}

// Type returns the event type.
func (e ErrorEvent) Type() EventType { return EventTypeError }

// Callbacks is the per-send observer set. Nil fields are skipped.
type Callbacks struct {
	OnSessionBound   func(SessionBoundEvent)
	OnContentDelta   func(ContentDeltaEvent)
	OnToolInvocation func(ToolInvocationEvent)
	OnToolCompletion func(ToolCompletionEvent)
	OnTurnComplete   func(TurnCompleteEvent)
	OnError          func(ErrorEvent)
	// OnTranscript observes every transcript mutation the query makes.
	OnTranscript func(agentID string, msg *transcript.Message)
}
