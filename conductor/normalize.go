package conductor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bazelment/agentdeck/protocol"
	"github.com/bazelment/agentdeck/transcript"
)

// interruptionEchoText is the exact line the backend echoes after an
// abort. Suppression matches on this literal, so a wording change on
// the backend side breaks it silently. There is no structured flag on
// the wire to match instead.
const interruptionEchoText = "[Request interrupted by user]"

// handleRawLocked normalizes one raw protocol line for a live query.
// Called with the conductor mutex held; returns callback emissions to
// run after unlock.
func (c *Conductor) handleRawLocked(q *query, raw json.RawMessage) []func() {
	msg, err := protocol.ParseMessage(raw)
	if err != nil {
		perr := &ProtocolError{Cause: err, Message: "unparseable message", Line: string(raw)}
		c.logger.Warn("dropping unparseable message",
			"agent_id", q.agentID, "query_id", q.id, "error", err)
		return c.surfaceErrorLocked(q, perr)
	}
	if msg == nil {
		// Unknown top-level tag, already logged by the parser.
		return nil
	}

	switch m := msg.(type) {
	case protocol.SystemMessage:
		return c.handleSystemLocked(q, m)
	case protocol.AssistantMessage:
		return c.handleAssistantLocked(q, m)
	case protocol.UserMessage:
		return c.handleUserLocked(q, m)
	case protocol.ResultMessage:
		return c.handleResultLocked(q, m)
	default:
		c.logger.Warn("unhandled message kind", "type", msg.MsgType())
		return nil
	}
}

func (c *Conductor) handleSystemLocked(q *query, m protocol.SystemMessage) []func() {
	switch m.Subtype {
	case protocol.SystemSubtypeInit:
		sess := c.sessions[q.agentID]
		if sess == nil {
			return nil
		}
		sess.BackendSessionID = m.SessionID
		if m.Model != "" {
			sess.Model = m.Model
		}
		if q.callbacks.OnSessionBound == nil {
			return nil
		}
		ev := SessionBoundEvent{
			AgentID:          q.agentID,
			QueryID:          q.id,
			BackendSessionID: m.SessionID,
			Model:            m.Model,
		}
		return []func(){func() { q.callbacks.OnSessionBound(ev) }}
	case protocol.SystemSubtypeCompact:
		c.logger.Debug("context compacted",
			"agent_id", q.agentID, "summary_len", len(m.Summary))
		return nil
	default:
		c.logger.Debug("ignoring system message", "subtype", m.Subtype)
		return nil
	}
}

func (c *Conductor) handleAssistantLocked(q *query, m protocol.AssistantMessage) []func() {
	sess := c.sessions[q.agentID]
	items := contentItems(m.Message.Content)

	var effects []func()
	msgFirstText := true
	parentToolID := deref(m.ParentToolUseID)

	for _, item := range items {
		switch b := item.(type) {
		case protocol.TextBlock:
			if b.Text == "" {
				continue
			}
			// The turn's first delta resets the live counter; later
			// protocol messages within the same turn accumulate into it.
			isNew := q.assistantMsg == nil
			if msgFirstText {
				if sess != nil {
					sess.meter.onResponseUsage(m.Message.Usage, isNew)
				}
				msgFirstText = false
			}

			q.fullText += b.Text
			entry := c.ensureAssistantEntryLocked(q)
			entry.Content = q.fullText
			if !m.Message.Usage.IsZero() {
				entry.TokenUsage = m.Message.Usage
			}
			if m.Message.StopReason != nil {
				entry.StopReason = *m.Message.StopReason
			}
			effects = append(effects, c.persistLocked(q, entry)...)

			if q.callbacks.OnContentDelta != nil {
				ev := ContentDeltaEvent{
					AgentID:      q.agentID,
					QueryID:      q.id,
					Delta:        b.Text,
					FullText:     q.fullText,
					IsNewMessage: isNew,
				}
				effects = append(effects, func() { q.callbacks.OnContentDelta(ev) })
			}

		case protocol.ToolUseBlock:
			entry := c.ensureAssistantEntryLocked(q)
			entry.ToolUsages = append(entry.ToolUsages, transcript.ToolUsage{
				ToolID:       b.ID,
				Name:         b.Name,
				Input:        b.Input,
				ParentToolID: parentToolID,
			})
			effects = append(effects, c.persistLocked(q, entry)...)

			if q.callbacks.OnToolInvocation != nil {
				ev := ToolInvocationEvent{
					AgentID:      q.agentID,
					QueryID:      q.id,
					ToolID:       b.ID,
					Name:         b.Name,
					Input:        b.Input,
					ParentToolID: parentToolID,
				}
				effects = append(effects, func() { q.callbacks.OnToolInvocation(ev) })
			}
		}
	}
	return effects
}

// handleUserLocked processes user-side echoes: tool results executed by
// the backend and text echoes, including the interruption marker.
func (c *Conductor) handleUserLocked(q *query, m protocol.UserMessage) []func() {
	var effects []func()

	if blocks, ok := m.Message.Content.AsBlocks(); ok {
		for _, item := range blocks {
			switch b := item.(type) {
			case protocol.ToolResultBlock:
				effects = append(effects, c.completeToolLocked(q, b)...)
			case protocol.TextBlock:
				effects = append(effects, c.userTextLocked(q, b.Text)...)
			}
		}
		return effects
	}
	if s, ok := m.Message.Content.AsString(); ok {
		return c.userTextLocked(q, s)
	}
	return nil
}

func (c *Conductor) userTextLocked(q *query, text string) []func() {
	if text == "" {
		return nil
	}
	if text == interruptionEchoText && c.tracker.suppresses(q.agentID, q.id) {
		// Marker already synthesized locally when the cancel happened.
		c.logger.Debug("suppressed interruption echo", "agent_id", q.agentID)
		return nil
	}
	entry := transcript.NewMessage(transcript.RoleUser, text)
	entry.IsInterruptionMarker = text == interruptionEchoText
	return c.persistLocked(q, entry)
}

func (c *Conductor) completeToolLocked(q *query, b protocol.ToolResultBlock) []func() {
	result := flattenContent(b.Content)
	isError := b.IsError != nil && *b.IsError

	var effects []func()
	if q.assistantMsg != nil {
		if tu := q.assistantMsg.ToolUsage(b.ToolUseID); tu != nil {
			tu.Result = result
			tu.IsError = isError
			tu.Completed = true
			effects = append(effects, c.persistLocked(q, q.assistantMsg)...)
		}
	}
	if q.callbacks.OnToolCompletion != nil {
		ev := ToolCompletionEvent{
			AgentID: q.agentID,
			QueryID: q.id,
			ToolID:  b.ToolUseID,
			Result:  result,
			IsError: isError,
		}
		effects = append(effects, func() { q.callbacks.OnToolCompletion(ev) })
	}
	return effects
}

func (c *Conductor) handleResultLocked(q *query, m protocol.ResultMessage) []func() {
	sess := c.sessions[q.agentID]

	durationMs := m.DurationMs
	if durationMs <= 0 {
		durationMs = c.now().Sub(q.startedAt).Milliseconds()
	}
	usage := countsFromUsage(m.Usage)
	if sess != nil {
		sess.meter.onTurnComplete(usage, m.TotalCostUSD)
	}

	failed := m.IsError || m.IsErrorSubtype()
	suppressed := failed && c.tracker.suppresses(q.agentID, q.id)
	interrupted := (q.interrupted && !q.superseded) || suppressed

	var effects []func()
	var turnErr error
	if failed && !suppressed {
		turnErr = fmt.Errorf("query failed (%s): %s", m.Subtype, m.Result)
		if q.surfaceError() {
			if q.assistantMsg != nil {
				q.assistantMsg.Error = turnErr.Error()
				effects = append(effects, c.persistLocked(q, q.assistantMsg)...)
			}
			if q.callbacks.OnError != nil {
				ev := ErrorEvent{AgentID: q.agentID, QueryID: q.id, Err: turnErr, Context: "result"}
				effects = append(effects, func() { q.callbacks.OnError(ev) })
			}
		} else {
			turnErr = nil
		}
	}

	if q.assistantMsg != nil {
		if m.StopReason != "" {
			q.assistantMsg.StopReason = m.StopReason
		}
		if !m.Usage.IsZero() {
			q.assistantMsg.TokenUsage = m.Usage
		}
		effects = append(effects, c.persistLocked(q, q.assistantMsg)...)
	}

	// The result clears the querying flag; the stream stays open until
	// the channel's complete signal.
	if c.active[q.agentID] == q {
		delete(c.active, q.agentID)
	}

	finalText := q.fullText
	if finalText == "" && !failed {
		finalText = m.Result
	}
	q.resolve(finalText, turnErr)

	if q.callbacks.OnTurnComplete != nil {
		ev := TurnCompleteEvent{
			AgentID:     q.agentID,
			QueryID:     q.id,
			Success:     !failed,
			Interrupted: interrupted,
			DurationMs:  durationMs,
			CostUSD:     m.TotalCostUSD,
			StopReason:  m.StopReason,
			Usage:       usage,
			Err:         turnErr,
		}
		effects = append(effects, func() { q.callbacks.OnTurnComplete(ev) })
	}
	return effects
}

// ensureAssistantEntryLocked lazily creates the query's single growing
// assistant transcript entry. Text-free assistant messages never get
// one, so no empty bubbles reach the transcript.
func (c *Conductor) ensureAssistantEntryLocked(q *query) *transcript.Message {
	if q.assistantMsg == nil {
		q.assistantMsg = transcript.NewMessage(transcript.RoleAssistant, "")
	}
	return q.assistantMsg
}

// persistLocked writes the entry through the store and returns the
// transcript observation effect, if any.
func (c *Conductor) persistLocked(q *query, msg *transcript.Message) []func() {
	msg.UpdatedAt = c.now().UTC()
	if err := c.store.AppendOrUpdate(q.agentID, msg); err != nil {
		c.logger.Warn("transcript write failed",
			"agent_id", q.agentID, "message_id", msg.ID, "error", err)
	}
	if q.callbacks.OnTranscript == nil {
		return nil
	}
	clone := msg.Clone()
	return []func(){func() { q.callbacks.OnTranscript(q.agentID, clone) }}
}

// surfaceErrorLocked routes an error through the one-per-query latch.
func (c *Conductor) surfaceErrorLocked(q *query, err error) []func() {
	if !q.surfaceError() {
		return nil
	}
	if q.callbacks.OnError == nil {
		return nil
	}
	ev := ErrorEvent{AgentID: q.agentID, QueryID: q.id, Err: err}
	return []func(){func() { q.callbacks.OnError(ev) }}
}

// contentItems flattens flexible content into ordered blocks; a bare
// string becomes a single text block.
func contentItems(fc protocol.FlexibleContent) []protocol.ContentBlock {
	if s, ok := fc.AsString(); ok {
		return []protocol.ContentBlock{protocol.TextBlock{Type: "text", Text: s}}
	}
	blocks, _ := fc.AsBlocks()
	return blocks
}

// flattenContent renders tool-result content as plain text.
func flattenContent(fc protocol.FlexibleContent) string {
	if s, ok := fc.AsString(); ok {
		return s
	}
	blocks, ok := fc.AsBlocks()
	if !ok {
		return ""
	}
	var sb strings.Builder
	for _, b := range blocks {
		if t, ok := b.(protocol.TextBlock); ok {
			sb.WriteString(t.Text)
		}
	}
	return sb.String()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
