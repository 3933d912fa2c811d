package transcript

import (
	"path/filepath"
	"testing"
)

func TestMemoryStoreAppendThenUpdate(t *testing.T) {
	s := NewMemoryStore()

	msg := NewMessage(RoleAssistant, "partial")
	if err := s.AppendOrUpdate("a1", msg); err != nil {
		t.Fatalf("append: %v", err)
	}

	msg.Content = "partial then more"
	msg.ToolUsages = append(msg.ToolUsages, ToolUsage{ToolID: "toolu_1", Name: "Bash"})
	if err := s.AppendOrUpdate("a1", msg); err != nil {
		t.Fatalf("update: %v", err)
	}

	msgs, err := s.Messages("a1")
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("same id must update in place, got %d entries", len(msgs))
	}
	if msgs[0].Content != "partial then more" {
		t.Errorf("content = %q", msgs[0].Content)
	}
	if len(msgs[0].ToolUsages) != 1 {
		t.Errorf("tool usages = %d", len(msgs[0].ToolUsages))
	}
}

func TestMemoryStoreIsolatesAgentsAndCopies(t *testing.T) {
	s := NewMemoryStore()

	if err := s.AppendOrUpdate("a1", NewMessage(RoleUser, "for a1")); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendOrUpdate("a2", NewMessage(RoleUser, "for a2")); err != nil {
		t.Fatal(err)
	}

	msgs, _ := s.Messages("a1")
	if len(msgs) != 1 || msgs[0].Content != "for a1" {
		t.Fatalf("a1 transcript: %+v", msgs)
	}

	// Mutating a returned message must not leak into the store.
	msgs[0].Content = "mutated"
	again, _ := s.Messages("a1")
	if again[0].Content != "for a1" {
		t.Error("store handed out shared state")
	}

	if err := s.Clear("a1"); err != nil {
		t.Fatal(err)
	}
	msgs, _ = s.Messages("a1")
	if len(msgs) != 0 {
		t.Errorf("a1 should be empty after Clear, got %d", len(msgs))
	}
	msgs, _ = s.Messages("a2")
	if len(msgs) != 1 {
		t.Errorf("a2 must survive a1's Clear, got %d", len(msgs))
	}
}

func TestMemoryStorePreservesAppendOrder(t *testing.T) {
	s := NewMemoryStore()
	first := NewMessage(RoleUser, "one")
	second := NewMessage(RoleAssistant, "two")
	third := NewMessage(RoleUser, "three")
	for _, m := range []*Message{first, second, third} {
		if err := s.AppendOrUpdate("a1", m); err != nil {
			t.Fatal(err)
		}
	}

	// Updating the first entry must not move it.
	first.Content = "one, updated"
	if err := s.AppendOrUpdate("a1", first); err != nil {
		t.Fatal(err)
	}

	msgs, _ := s.Messages("a1")
	if len(msgs) != 3 {
		t.Fatalf("got %d entries", len(msgs))
	}
	if msgs[0].Content != "one, updated" || msgs[2].Content != "three" {
		t.Errorf("order not preserved: %q, %q, %q", msgs[0].Content, msgs[1].Content, msgs[2].Content)
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcripts.db")
	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	msg := NewMessage(RoleAssistant, "hello")
	msg.ToolUsages = []ToolUsage{{ToolID: "toolu_1", Name: "Read", Completed: true, Result: "ok"}}
	msg.StopReason = "end_turn"
	if err := s.AppendOrUpdate("a1", msg); err != nil {
		t.Fatalf("append: %v", err)
	}

	msg.Content = "hello world"
	if err := s.AppendOrUpdate("a1", msg); err != nil {
		t.Fatalf("update: %v", err)
	}

	marker := NewMessage(RoleUser, "[Request interrupted by user]")
	marker.IsInterruptionMarker = true
	if err := s.AppendOrUpdate("a1", marker); err != nil {
		t.Fatalf("append marker: %v", err)
	}

	msgs, err := s.Messages("a1")
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(msgs))
	}
	if msgs[0].Content != "hello world" {
		t.Errorf("upsert content = %q", msgs[0].Content)
	}
	if len(msgs[0].ToolUsages) != 1 || !msgs[0].ToolUsages[0].Completed {
		t.Errorf("tool usages not round-tripped: %+v", msgs[0].ToolUsages)
	}
	if !msgs[1].IsInterruptionMarker {
		t.Error("interruption flag not round-tripped")
	}

	if err := s.Clear("a1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	msgs, _ = s.Messages("a1")
	if len(msgs) != 0 {
		t.Errorf("expected empty after Clear, got %d", len(msgs))
	}
}
