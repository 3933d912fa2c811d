package channel

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/bazelment/agentdeck/protocol"
)

func TestBuildArgs(t *testing.T) {
	c := NewSubprocessChannel()
	args := c.buildArgs(protocol.PromptPayload{
		Model:           "sonnet",
		PermissionMode:  "plan",
		MaxTurns:        5,
		ResumeSessionID: "sess-1",
	})

	joined := strings.Join(args, " ")
	for _, want := range []string{
		"--output-format stream-json",
		"--model sonnet",
		"--permission-mode plan",
		"--max-turns 5",
		"--resume sess-1",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q: %v", want, args)
		}
	}

	bare := c.buildArgs(protocol.PromptPayload{})
	if strings.Contains(strings.Join(bare, " "), "--resume") {
		t.Error("no resume flag without a session id")
	}
}

func TestPromptWithAttachments(t *testing.T) {
	p := protocol.PromptPayload{
		Prompt: "explain this",
		Attachments: []protocol.FileRef{
			{Path: "/tmp/a.go"},
			{Path: "/tmp/b.go"},
		},
	}
	got := promptWithAttachments(p)
	want := "@/tmp/a.go\n@/tmp/b.go\nexplain this"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	if promptWithAttachments(protocol.PromptPayload{Prompt: "plain"}) != "plain" {
		t.Error("no attachments means the prompt passes through")
	}
}

func TestGenerateQueryIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := generateQueryID()
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestStartSpawnFailure(t *testing.T) {
	c := NewSubprocessChannel(WithCLIPath("/nonexistent/agentdeck-backend"))
	defer c.Close()

	_, err := c.Start(context.Background(), protocol.PromptPayload{Prompt: "hi"})
	var chErr *ChannelError
	if !errors.As(err, &chErr) {
		t.Fatalf("expected *ChannelError, got %v", err)
	}
}

func TestAbortUnknownQuery(t *testing.T) {
	c := NewSubprocessChannel()
	defer c.Close()
	if err := c.Abort("nope"); !errors.Is(err, ErrUnknownQuery) {
		t.Fatalf("expected ErrUnknownQuery, got %v", err)
	}
}

func TestStartRejectsCancelledContext(t *testing.T) {
	c := NewSubprocessChannel()
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Start(ctx, protocol.PromptPayload{Prompt: "hi"})
	var chErr *ChannelError
	if !errors.As(err, &chErr) {
		t.Fatalf("expected *ChannelError, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled cause, got %v", err)
	}
}

// The caller's context gates only the launch: cancelling it after
// Start must not kill the running query.
func TestCallerContextCancelDoesNotKillQuery(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("relies on a unix head binary")
	}

	c := NewSubprocessChannel(WithCLIPath("head"), WithBaseArgs("-n", "1"))
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	queryID, err := c.Start(ctx, protocol.PromptPayload{Prompt: "still here"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	cancel()

	var sawMessage bool
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-c.Events():
			if ev.Query() != queryID {
				t.Fatalf("event for unexpected query %s", ev.Query())
			}
			switch e := ev.(type) {
			case MessageEvent:
				sawMessage = true
			case ErrorEvent:
				t.Fatalf("caller cancel must not surface as a query error: %v", e.Err)
			case CompleteEvent:
				if !sawMessage {
					t.Fatal("query was cut short by the caller's context")
				}
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for events")
		}
	}
}

// head -n 1 echoes the user turn back and exits cleanly, which walks
// the whole message-then-complete path without a real backend.
func TestStartStreamsUntilComplete(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("relies on a unix head binary")
	}

	c := NewSubprocessChannel(WithCLIPath("head"), WithBaseArgs("-n", "1"))
	defer c.Close()

	queryID, err := c.Start(context.Background(), protocol.PromptPayload{Prompt: "round trip"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	var sawMessage bool
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-c.Events():
			if ev.Query() != queryID {
				t.Fatalf("event for unexpected query %s", ev.Query())
			}
			switch e := ev.(type) {
			case MessageEvent:
				if !strings.Contains(string(e.Raw), "round trip") {
					t.Errorf("echoed line missing prompt: %s", e.Raw)
				}
				sawMessage = true
			case ErrorEvent:
				t.Fatalf("unexpected error event: %v", e.Err)
			case CompleteEvent:
				if !sawMessage {
					t.Fatal("complete arrived before the echoed message")
				}
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for events")
		}
	}
}
