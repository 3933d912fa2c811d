package conductor

import (
	"sync"
	"time"

	"github.com/bazelment/agentdeck/transcript"
)

// query is the lifecycle handle for one in-flight turn. All fields are
// guarded by the conductor mutex except resolved, which is closed
// exactly once via resolveOnce.
type query struct {
	id      string
	agentID string

	startedAt time.Time
	callbacks Callbacks

	// fullText accumulates assistant text across protocol messages of
	// the same turn; assistantMsg is the single growing transcript
	// entry, created lazily on the first text or tool item.
	fullText     string
	assistantMsg *transcript.Message

	// interrupted is set on the first Stop/CancelAndSend for the query
	// and makes later cancels no-ops.
	interrupted bool
	// superseded marks a silent cancel: no interruption marker, no
	// Interrupted flag on the final event.
	superseded bool
	// errorSurfaced latches after the first surfaced error so a turn
	// reports at most one.
	errorSurfaced bool

	resolveOnce sync.Once
	resolved    chan struct{}
	finalText   string
	finalErr    error
}

func newQuery(id, agentID string, startedAt time.Time, cb Callbacks) *query {
	return &query{
		id:        id,
		agentID:   agentID,
		startedAt: startedAt,
		callbacks: cb,
		resolved:  make(chan struct{}),
	}
}

// resolve settles the Ask waiter. First call wins; later calls are
// no-ops, which keeps result-then-complete from racing.
func (q *query) resolve(text string, err error) {
	q.resolveOnce.Do(func() {
		q.finalText = text
		q.finalErr = err
		close(q.resolved)
	})
}

// surfaceError latches the error slot. Returns false when an error was
// already surfaced for this query.
func (q *query) surfaceError() bool {
	if q.errorSurfaced {
		return false
	}
	q.errorSurfaced = true
	return true
}
