package channel

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/bazelment/agentdeck/protocol"
)

// SubprocessConfig holds subprocess channel configuration.
type SubprocessConfig struct {
	// CLIPath is the path to the assistant CLI binary.
	CLIPath string

	// BaseArgs are prepended to every invocation (output/input format flags).
	BaseArgs []string

	// Env is added to the inherited environment.
	Env map[string]string

	// Logger receives channel lifecycle logs.
	Logger *slog.Logger

	// EventBufferSize is the event channel buffer size (default: 256).
	EventBufferSize int

	// AbortGrace is how long Abort waits for a graceful exit before
	// killing the process (default: 5s).
	AbortGrace time.Duration
}

// SubprocessOption is a functional option for configuring a SubprocessChannel.
type SubprocessOption func(*SubprocessConfig)

// WithCLIPath sets a custom CLI binary path.
func WithCLIPath(path string) SubprocessOption {
	return func(c *SubprocessConfig) {
		c.CLIPath = path
	}
}

// WithBaseArgs sets the arguments prepended to every invocation.
func WithBaseArgs(args ...string) SubprocessOption {
	return func(c *SubprocessConfig) {
		c.BaseArgs = args
	}
}

// WithEnv adds environment variables for spawned processes.
func WithEnv(env map[string]string) SubprocessOption {
	return func(c *SubprocessConfig) {
		c.Env = env
	}
}

// WithLogger sets the channel logger.
func WithLogger(logger *slog.Logger) SubprocessOption {
	return func(c *SubprocessConfig) {
		c.Logger = logger
	}
}

// WithEventBufferSize sets the event channel buffer size.
func WithEventBufferSize(size int) SubprocessOption {
	return func(c *SubprocessConfig) {
		c.EventBufferSize = size
	}
}

// WithAbortGrace sets the graceful-abort window before SIGKILL.
func WithAbortGrace(d time.Duration) SubprocessOption {
	return func(c *SubprocessConfig) {
		c.AbortGrace = d
	}
}

func defaultSubprocessConfig() SubprocessConfig {
	return SubprocessConfig{
		CLIPath:         "claude",
		BaseArgs:        []string{"--output-format", "stream-json", "--input-format", "stream-json", "--verbose"},
		EventBufferSize: 256,
		AbortGrace:      5 * time.Second,
	}
}

// queryProcess tracks one spawned backend process.
type queryProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	mu     sync.Mutex
	done   bool
}

// SubprocessChannel runs one assistant CLI process per query, writing
// the prompt over stdin and streaming NDJSON protocol lines back as
// events. Delivery per query is FIFO because one goroutine owns each
// process's stdout.
type SubprocessChannel struct {
	config  SubprocessConfig
	events  chan Event
	mu      sync.Mutex
	procs   map[string]*queryProcess
	closed  bool
	closeWG sync.WaitGroup
}

// NewSubprocessChannel creates a subprocess channel with options.
func NewSubprocessChannel(opts ...SubprocessOption) *SubprocessChannel {
	config := defaultSubprocessConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}

	return &SubprocessChannel{
		config: config,
		events: make(chan Event, config.EventBufferSize),
		procs:  make(map[string]*queryProcess),
	}
}

// Events implements Channel.
func (c *SubprocessChannel) Events() <-chan Event {
	return c.events
}

// Start implements Channel. It spawns the CLI with the payload's
// session options, writes the user turn, and begins streaming.
func (c *SubprocessChannel) Start(ctx context.Context, p protocol.PromptPayload) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return "", &ChannelError{Message: "start query", Cause: ErrClosed}
	}
	if err := ctx.Err(); err != nil {
		return "", &ChannelError{Message: "start query", Cause: err}
	}

	queryID := generateQueryID()
	args := c.buildArgs(p)

	// The context gates only the launch. Process lifetime is owned by
	// the channel: Abort and Close are the only kill paths, so a caller
	// going away mid-query does not tear down the backend.
	cmd := exec.Command(c.config.CLIPath, args...)
	if p.WorkDir != "" {
		cmd.Dir = p.WorkDir
	}
	if len(c.config.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range c.config.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return "", &ChannelError{Message: "open stdin", Cause: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", &ChannelError{Message: "open stdout", Cause: err}
	}

	if err := cmd.Start(); err != nil {
		return "", &ChannelError{Message: "spawn backend CLI", Cause: err}
	}

	proc := &queryProcess{cmd: cmd, stdin: stdin, stdout: stdout}
	c.procs[queryID] = proc

	// Write the user turn. Attachments ride along as inline references
	// ahead of the prompt text.
	turn := protocol.NewUserTextMessage(promptWithAttachments(p))
	if err := writeJSONLine(stdin, turn); err != nil {
		cmd.Process.Kill()
		delete(c.procs, queryID)
		return "", &ChannelError{Message: "write prompt", Cause: err}
	}

	c.config.Logger.Info("query started",
		"queryID", queryID,
		"model", p.Model,
		"resume", p.ResumeSessionID != "",
	)

	c.closeWG.Add(1)
	go c.readLoop(queryID, proc)

	return queryID, nil
}

// buildArgs assembles CLI flags from the prompt payload.
func (c *SubprocessChannel) buildArgs(p protocol.PromptPayload) []string {
	args := append([]string{}, c.config.BaseArgs...)
	if p.Model != "" {
		args = append(args, "--model", p.Model)
	}
	if p.PermissionMode != "" {
		args = append(args, "--permission-mode", p.PermissionMode)
	}
	if p.MaxTurns > 0 {
		args = append(args, "--max-turns", fmt.Sprintf("%d", p.MaxTurns))
	}
	if p.ResumeSessionID != "" {
		args = append(args, "--resume", p.ResumeSessionID)
	}
	return args
}

// readLoop streams NDJSON lines from one process until EOF.
func (c *SubprocessChannel) readLoop(queryID string, proc *queryProcess) {
	defer c.closeWG.Done()

	reader := bufio.NewReader(proc.stdout)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 1 {
			raw := make(json.RawMessage, len(line))
			copy(raw, line)
			c.emit(MessageEvent{QueryID: queryID, Raw: raw})
		}
		if err != nil {
			if err != io.EOF {
				c.emit(ErrorEvent{QueryID: queryID, Err: err})
			}
			break
		}
	}

	waitErr := proc.cmd.Wait()

	proc.mu.Lock()
	aborted := proc.done
	proc.done = true
	proc.mu.Unlock()

	// A non-zero exit after an abort is expected; only surface exits
	// that happened on their own.
	if waitErr != nil && !aborted {
		c.emit(ErrorEvent{QueryID: queryID, Err: waitErr})
	}
	c.emit(CompleteEvent{QueryID: queryID})

	c.mu.Lock()
	delete(c.procs, queryID)
	c.mu.Unlock()

	c.config.Logger.Info("query stream ended", "queryID", queryID)
}

// Abort implements Channel. It sends the interrupt control line and
// escalates to SIGKILL after the grace window.
func (c *SubprocessChannel) Abort(queryID string) error {
	c.mu.Lock()
	proc, ok := c.procs[queryID]
	c.mu.Unlock()

	if !ok {
		return ErrUnknownQuery
	}

	proc.mu.Lock()
	proc.done = true
	proc.mu.Unlock()

	req := protocol.NewInterrupt(generateQueryID())
	if err := writeJSONLine(proc.stdin, req); err != nil {
		// stdin already gone; fall through to the kill path.
		c.config.Logger.Warn("interrupt write failed", "queryID", queryID, "error", err)
	}

	grace := c.config.AbortGrace
	go func() {
		time.Sleep(grace)
		c.mu.Lock()
		_, alive := c.procs[queryID]
		c.mu.Unlock()
		if alive {
			c.config.Logger.Warn("abort grace expired, killing", "queryID", queryID)
			proc.cmd.Process.Kill()
		}
	}()

	return nil
}

// Close implements Channel.
func (c *SubprocessChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	procs := make([]*queryProcess, 0, len(c.procs))
	for _, proc := range c.procs {
		procs = append(procs, proc)
	}
	c.mu.Unlock()

	for _, proc := range procs {
		proc.mu.Lock()
		proc.done = true
		proc.mu.Unlock()
		proc.cmd.Process.Kill()
	}

	c.closeWG.Wait()
	close(c.events)
	return nil
}

// emit delivers an event, dropping it if the buffer is full and the
// consumer has gone away (Close drains via reader goroutines).
func (c *SubprocessChannel) emit(event Event) {
	select {
	case c.events <- event:
	default:
		c.config.Logger.Warn("event buffer full, dropping", "queryID", event.Query(), "type", event.Type())
	}
}

func writeJSONLine(w io.Writer, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = w.Write(b)
	return err
}

// promptWithAttachments prefixes resolved file references so the
// backend sees them as part of the user turn.
func promptWithAttachments(p protocol.PromptPayload) string {
	if len(p.Attachments) == 0 {
		return p.Prompt
	}
	out := ""
	for _, ref := range p.Attachments {
		out += "@" + ref.Path + "\n"
	}
	return out + p.Prompt
}

// generateQueryID generates a unique query ID.
func generateQueryID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return fmt.Sprintf("q_%d_%s", time.Now().UnixNano(), hex.EncodeToString(b))
}
