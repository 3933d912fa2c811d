package conductor

import (
	"testing"
	"time"
)

func TestInterruptTracker(t *testing.T) {
	clock := newFakeClock()
	tr := newInterruptTracker(clock.Now, 15*time.Second)

	if tr.suppresses("a", "q1") {
		t.Fatal("no record yet, nothing to suppress")
	}

	tr.mark("a", "q1")
	if !tr.suppresses("a", "q1") {
		t.Fatal("fresh record should suppress its own query")
	}
	if tr.suppresses("b", "q1") {
		t.Fatal("records are per agent")
	}

	clock.Advance(14 * time.Second)
	if !tr.suppresses("a", "q1") {
		t.Fatal("record inside the window should still suppress")
	}

	clock.Advance(2 * time.Second)
	if tr.suppresses("a", "q1") {
		t.Fatal("record past the window must not suppress")
	}
}

func TestInterruptTrackerNeverSuppressesNewerQuery(t *testing.T) {
	clock := newFakeClock()
	tr := newInterruptTracker(clock.Now, 15*time.Second)

	// No clock advance: the replacement registers in the same instant
	// the cancel was recorded, as cancel-and-resubmit does.
	tr.mark("a", "q1")
	if tr.suppresses("a", "q2") {
		t.Fatal("a record belongs to the cancelled query, never its replacement")
	}
	if !tr.suppresses("a", "q1") {
		t.Fatal("the cancelled query itself is still suppressed")
	}
}

func TestInterruptTrackerSweep(t *testing.T) {
	clock := newFakeClock()
	tr := newInterruptTracker(clock.Now, 15*time.Second)

	tr.mark("a", "q1")
	clock.Advance(10 * time.Second)
	tr.mark("b", "q2")

	if removed := tr.sweep(); removed != 0 {
		t.Fatalf("nothing expired yet, removed %d", removed)
	}

	clock.Advance(6 * time.Second)
	if removed := tr.sweep(); removed != 1 {
		t.Fatalf("expected 1 expired record, removed %d", removed)
	}
	if _, ok := tr.records["a"]; ok {
		t.Fatal("expired record for a should be gone")
	}
	if _, ok := tr.records["b"]; !ok {
		t.Fatal("record for b is still inside the window")
	}
}
