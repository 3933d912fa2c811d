package conductor

import (
	"time"
)

// interruptRecord is one user-initiated cancel: the query that was
// cancelled and when.
type interruptRecord struct {
	queryID string
	at      time.Time
}

// interruptTracker records user-initiated cancels per agent so late
// backend echoes can be suppressed. Entries expire after the grace
// window and are swept periodically, independent of any query.
type interruptTracker struct {
	records map[string]interruptRecord
	now     func() time.Time
	window  time.Duration
}

func newInterruptTracker(now func() time.Time, window time.Duration) *interruptTracker {
	return &interruptTracker{
		records: make(map[string]interruptRecord),
		now:     now,
		window:  window,
	}
}

// mark records a cancel of the given query at the current time.
func (t *interruptTracker) mark(agentID, queryID string) {
	t.records[agentID] = interruptRecord{queryID: queryID, at: t.now()}
}

// suppresses reports whether the agent's record is younger than the
// grace window and belongs to the given query. Keying on the cancelled
// query's id means a record can never suppress a query started after
// the cancel, even one registered in the same clock instant.
func (t *interruptTracker) suppresses(agentID, queryID string) bool {
	rec, ok := t.records[agentID]
	if !ok || rec.queryID != queryID {
		return false
	}
	return t.now().Sub(rec.at) < t.window
}

// sweep drops expired records and returns how many were removed.
func (t *interruptTracker) sweep() int {
	removed := 0
	cutoff := t.now().Add(-t.window)
	for agentID, rec := range t.records {
		if rec.at.Before(cutoff) {
			delete(t.records, agentID)
			removed++
		}
	}
	return removed
}
