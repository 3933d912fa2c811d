// Package conductor is the query-orchestration core: it owns agent
// sessions, enforces the one-live-query-per-agent invariant, normalizes
// the backend's message stream into a growing transcript entry, and
// accounts tokens and cost per turn and per session.
package conductor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bazelment/agentdeck/channel"
	"github.com/bazelment/agentdeck/protocol"
	"github.com/bazelment/agentdeck/transcript"
)

const (
	// DefaultInterruptionWindow is the grace period after a user cancel
	// during which late echoes and error-subtype results are suppressed.
	DefaultInterruptionWindow = 15 * time.Second
	// DefaultSweepInterval is how often expired interruption records are
	// garbage-collected.
	DefaultSweepInterval = 60 * time.Second
)

// Conductor orchestrates queries across agent sessions. All mutable
// state lives behind one mutex; observer callbacks always run outside
// it so they may call back into the conductor.
type Conductor struct {
	ch     channel.Channel
	store  transcript.Store
	logger *slog.Logger
	now    func() time.Time

	defaultModel      string
	defaultPermission string
	defaultMaxTurns   int

	mu       sync.Mutex
	closed   bool
	sessions map[string]*AgentSession
	// active holds the live query per agent; cleared when the result
	// message lands (or the query errors or is superseded).
	active map[string]*query
	// byQuery routes channel events to their query; cleared on the
	// stream's complete signal or on supersession.
	byQuery map[string]*query
	// streaming maps agent id to the query id whose stream is still
	// open; cleared on complete, always at or after active clears.
	streaming map[string]string
	tracker   *interruptTracker

	stopSweep chan struct{}
	wg        sync.WaitGroup
}

// NewConductor wires a conductor over a backend channel and a
// transcript store, then starts its dispatch and sweep loops.
func NewConductor(ch channel.Channel, store transcript.Store, opts ...Option) *Conductor {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &Conductor{
		ch:                ch,
		store:             store,
		logger:            cfg.logger,
		now:               cfg.now,
		defaultModel:      cfg.defaultModel,
		defaultPermission: cfg.defaultPermission,
		defaultMaxTurns:   cfg.defaultMaxTurns,
		sessions:          make(map[string]*AgentSession),
		active:            make(map[string]*query),
		byQuery:           make(map[string]*query),
		streaming:         make(map[string]string),
		stopSweep:         make(chan struct{}),
	}
	c.tracker = newInterruptTracker(cfg.now, cfg.interruptionWindow)

	c.wg.Add(2)
	go c.dispatch()
	go c.sweepLoop(cfg.sweepInterval)
	return c
}

// CreateSession registers a new agent session and returns its snapshot.
func (c *Conductor) CreateSession(opts ...SessionOption) (SessionSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return SessionSnapshot{}, ErrClosed
	}
	sess := newAgentSession(c.now().UTC(), opts...)
	if _, ok := c.sessions[sess.ID]; ok {
		return SessionSnapshot{}, ErrSessionExists
	}
	if sess.Model == "" {
		sess.Model = c.defaultModel
	}
	if sess.PermissionMode == "" {
		sess.PermissionMode = c.defaultPermission
	}
	c.sessions[sess.ID] = sess
	c.logger.Info("agent session created", "agent_id", sess.ID, "title", sess.Title)
	return sess.snapshot(), nil
}

// Session returns a snapshot of one agent session.
func (c *Conductor) Session(agentID string) (SessionSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess, ok := c.sessions[agentID]
	if !ok {
		return SessionSnapshot{}, false
	}
	return sess.snapshot(), true
}

// Sessions returns snapshots of all agent sessions.
func (c *Conductor) Sessions() []SessionSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SessionSnapshot, 0, len(c.sessions))
	for _, sess := range c.sessions {
		out = append(out, sess.snapshot())
	}
	return out
}

// Send starts a query for the agent and returns its query id. A live
// query for the same agent is superseded: detached silently, with no
// interruption side effects. The returned id is the backend channel's
// query id.
func (c *Conductor) Send(ctx context.Context, agentID, prompt string, opts ...SendOption) (string, error) {
	cfg := sendConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	q, err := c.sendLocked(ctx, agentID, prompt, cfg)
	if err != nil {
		return "", err
	}
	return q.id, nil
}

// Ask sends a prompt and blocks until the turn settles, returning the
// accumulated assistant text. A cancelled turn returns the partial text
// with a nil error; only genuine failures return a non-nil error.
func (c *Conductor) Ask(ctx context.Context, agentID, prompt string, opts ...SendOption) (string, error) {
	cfg := sendConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	c.mu.Lock()
	q, err := c.sendLocked(ctx, agentID, prompt, cfg)
	c.mu.Unlock()
	if err != nil {
		return "", err
	}

	select {
	case <-q.resolved:
		return q.finalText, q.finalErr
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Stop cancels the agent's live query. With silent set, no interruption
// marker is written to the transcript. Unknown agents and agents with
// no live query are no-ops. A second Stop for the same query is also a
// no-op, so rapid double-stops yield exactly one marker line.
func (c *Conductor) Stop(agentID string, silent bool) {
	c.mu.Lock()
	effects := c.stopLocked(agentID, silent)
	c.mu.Unlock()
	c.invoke(effects)
}

// CancelAndSend atomically replaces the agent's live query: a silent
// cancel followed by a fresh send under the same mutex hold. The old
// query's listeners are detached before the new query registers, so its
// late terminal events can never touch the new query's state.
func (c *Conductor) CancelAndSend(ctx context.Context, agentID, prompt string, opts ...SendOption) (string, error) {
	cfg := sendConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	c.mu.Lock()
	effects := c.stopLocked(agentID, true)
	q, err := c.sendLocked(ctx, agentID, prompt, cfg)
	c.mu.Unlock()

	c.invoke(effects)
	if err != nil {
		return "", err
	}
	return q.id, nil
}

// IsQuerying reports whether the agent has a live query. True from send
// until the result message lands.
func (c *Conductor) IsQuerying(agentID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active[agentID] != nil
}

// IsStreaming reports whether the agent's query stream is still open.
// True from send until the channel's complete signal, which can arrive
// after the result.
func (c *Conductor) IsStreaming(agentID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streaming[agentID] != ""
}

// Messages returns the agent's transcript.
func (c *Conductor) Messages(agentID string) ([]*transcript.Message, error) {
	return c.store.Messages(agentID)
}

// ClearTranscript drops the agent's transcript. The live query, if any,
// keeps running.
func (c *Conductor) ClearTranscript(agentID string) error {
	return c.store.Clear(agentID)
}

// Close tears the conductor down: pending Ask waiters resolve with
// their partial text, the channel closes, and both loops drain.
func (c *Conductor) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for _, q := range c.byQuery {
		q.resolve(q.fullText, nil)
	}
	c.active = make(map[string]*query)
	c.byQuery = make(map[string]*query)
	c.streaming = make(map[string]string)
	c.mu.Unlock()

	close(c.stopSweep)
	err := c.ch.Close()
	c.wg.Wait()
	return err
}

func (c *Conductor) sendLocked(ctx context.Context, agentID, prompt string, cfg sendConfig) (*query, error) {
	if c.closed {
		return nil, ErrClosed
	}
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}
	sess, ok := c.sessions[agentID]
	if !ok {
		return nil, &ConfigurationError{AgentID: agentID}
	}

	// Supersede any live query before the new one registers. Detach
	// only: no marker line, no interruption record, no abort.
	if old := c.active[agentID]; old != nil {
		c.detachLocked(old)
	}

	payload := protocol.PromptPayload{
		Prompt:          prompt,
		ResumeSessionID: sess.BackendSessionID,
		WorkDir:         sess.WorkDir,
		Model:           sess.Model,
		PermissionMode:  sess.PermissionMode,
		MaxTurns:        c.defaultMaxTurns,
		Attachments:     cfg.attachments,
	}
	if cfg.model != "" {
		payload.Model = cfg.model
	}
	if cfg.permissionMode != "" {
		payload.PermissionMode = cfg.permissionMode
	}
	if cfg.maxTurns > 0 {
		payload.MaxTurns = cfg.maxTurns
	}

	queryID, err := c.ch.Start(ctx, payload)
	if err != nil {
		return nil, err
	}

	q := newQuery(queryID, agentID, c.now(), cfg.callbacks)
	c.active[agentID] = q
	c.byQuery[queryID] = q
	c.streaming[agentID] = queryID

	c.logger.Info("query started",
		"agent_id", agentID, "query_id", queryID, "resume", sess.BackendSessionID != "")
	return q, nil
}

func (c *Conductor) stopLocked(agentID string, silent bool) []func() {
	q := c.active[agentID]
	if q == nil || q.interrupted {
		return nil
	}
	q.interrupted = true
	q.superseded = silent
	c.tracker.mark(agentID, q.id)

	if err := c.ch.Abort(q.id); err != nil {
		c.logger.Warn("abort request failed",
			"agent_id", agentID, "query_id", q.id, "error", err)
	}
	c.logger.Info("query cancelled", "agent_id", agentID, "query_id", q.id, "silent", silent)

	if silent {
		return nil
	}
	// Optimistic local marker; the backend's own echo is suppressed
	// inside the interruption window so the line appears once.
	marker := transcript.NewMessage(transcript.RoleUser, interruptionEchoText)
	marker.IsInterruptionMarker = true
	return c.persistLocked(q, marker)
}

// detachLocked unsubscribes a superseded query and settles its waiters.
// Late events for its query id are discarded by dispatch.
func (c *Conductor) detachLocked(q *query) {
	q.superseded = true
	delete(c.byQuery, q.id)
	if c.active[q.agentID] == q {
		delete(c.active, q.agentID)
	}
	if c.streaming[q.agentID] == q.id {
		delete(c.streaming, q.agentID)
	}
	q.resolve(q.fullText, nil)
	c.logger.Debug("query superseded", "agent_id", q.agentID, "query_id", q.id)
}

// dispatch owns the channel event stream. Each event is handled under
// the mutex; emissions run after unlock so observers can re-enter.
func (c *Conductor) dispatch() {
	defer c.wg.Done()
	for ev := range c.ch.Events() {
		c.mu.Lock()
		q, ok := c.byQuery[ev.Query()]
		if !ok {
			c.mu.Unlock()
			continue
		}

		var effects []func()
		switch e := ev.(type) {
		case channel.MessageEvent:
			effects = c.handleRawLocked(q, e.Raw)
		case channel.ErrorEvent:
			effects = c.handleChannelErrorLocked(q, e.Err)
		case channel.CompleteEvent:
			effects = c.handleCompleteLocked(q)
		}
		c.mu.Unlock()
		c.invoke(effects)
	}
}

// handleChannelErrorLocked surfaces a backend failure for one query.
// Cancellation is not an error: failures inside the interruption window
// of a user cancel are swallowed and the turn settles as interrupted.
func (c *Conductor) handleChannelErrorLocked(q *query, err error) []func() {
	if c.active[q.agentID] == q {
		delete(c.active, q.agentID)
	}
	if q.interrupted && c.tracker.suppresses(q.agentID, q.id) {
		c.logger.Debug("suppressed post-cancel channel error",
			"agent_id", q.agentID, "query_id", q.id, "error", err)
		q.resolve(q.fullText, nil)
		return nil
	}
	effects := c.surfaceErrorLocked(q, err)
	q.resolve(q.fullText, err)
	return effects
}

// handleCompleteLocked finalizes the stream. A stream that ends without
// a result message still settles its waiters.
func (c *Conductor) handleCompleteLocked(q *query) []func() {
	delete(c.byQuery, q.id)
	if c.streaming[q.agentID] == q.id {
		delete(c.streaming, q.agentID)
	}
	if c.active[q.agentID] == q {
		delete(c.active, q.agentID)
	}
	q.resolve(q.fullText, nil)
	c.logger.Debug("query stream complete", "agent_id", q.agentID, "query_id", q.id)
	return nil
}

func (c *Conductor) sweepLoop(interval time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			removed := c.tracker.sweep()
			c.mu.Unlock()
			if removed > 0 {
				c.logger.Debug("swept interruption records", "removed", removed)
			}
		case <-c.stopSweep:
			return
		}
	}
}

// invoke runs emissions outside the mutex. A panicking observer is
// contained so the remaining observers still fire.
func (c *Conductor) invoke(effects []func()) {
	for _, fn := range effects {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("observer callback panicked", "panic", r)
				}
			}()
			fn()
		}()
	}
}
