package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/bazelment/agentdeck/conductor"
	"github.com/bazelment/agentdeck/transcript"
)

type sendRequest struct {
	Text        string   `json:"text"`
	Attachments []string `json:"attachments"`
}

// streamLine is one NDJSON line on a send response.
type streamLine struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// handleSend streams conductor events for one query as NDJSON. With
// replace set, a live query is silently cancelled first.
func (s *Server) handleSend(replace bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agentID := chi.URLParam(r, "agentID")
		var req sendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		var opts []conductor.SendOption
		var notices []streamLine
		if len(req.Attachments) > 0 && s.resolver != nil {
			res, err := s.resolver.Resolve(s.baseDir, req.Attachments)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			if len(res.Unresolved) > 0 {
				// Non-fatal: the query proceeds with what resolved.
				verr := &conductor.ValidationError{
					Message: "unresolved attachments: " + strings.Join(res.Unresolved, ", "),
				}
				s.logger.Warn("attachment validation",
					"agent_id", agentID, "error", verr)
				notices = append(notices, streamLine{
					Event: "notice",
					Data:  map[string]string{"error": verr.Error()},
				})
			}
			if len(res.Files) > 0 {
				opts = append(opts, conductor.WithAttachments(res.Files))
			}
		}

		// Callbacks run on the conductor's dispatch goroutine; lines are
		// handed off through a buffered channel and dropped rather than
		// ever blocking dispatch. The closed flag keeps a trailing event
		// (a channel error after the result, say) from hitting a closed
		// channel.
		lines := make(chan streamLine, 256)
		var mu sync.Mutex
		closed := false
		finish := func() {
			mu.Lock()
			defer mu.Unlock()
			if !closed {
				closed = true
				close(lines)
			}
		}
		push := func(line streamLine) {
			mu.Lock()
			defer mu.Unlock()
			if closed {
				return
			}
			select {
			case lines <- line:
			default:
				s.logger.Warn("stream backpressure, dropping event", "agent_id", agentID)
			}
		}

		cb := conductor.Callbacks{
			OnSessionBound: func(e conductor.SessionBoundEvent) {
				push(streamLine{Event: "session_bound", Data: e})
			},
			OnContentDelta: func(e conductor.ContentDeltaEvent) {
				push(streamLine{Event: "content_delta", Data: e})
			},
			OnToolInvocation: func(e conductor.ToolInvocationEvent) {
				push(streamLine{Event: "tool_invocation", Data: e})
			},
			OnToolCompletion: func(e conductor.ToolCompletionEvent) {
				push(streamLine{Event: "tool_completion", Data: e})
			},
			OnTranscript: func(agentID string, msg *transcript.Message) {
				push(streamLine{Event: "transcript", Data: msg})
			},
			OnError: func(e conductor.ErrorEvent) {
				push(streamLine{Event: "error", Data: map[string]string{"error": e.Err.Error()}})
				finish()
			},
			OnTurnComplete: func(e conductor.TurnCompleteEvent) {
				data := map[string]interface{}{
					"success":     e.Success,
					"interrupted": e.Interrupted,
					"duration_ms": e.DurationMs,
					"cost_usd":    e.CostUSD,
					"stop_reason": e.StopReason,
					"usage":       e.Usage,
				}
				if e.Err != nil {
					data["error"] = e.Err.Error()
				}
				push(streamLine{Event: "turn_complete", Data: data})
				finish()
			},
		}
		opts = append(opts, conductor.WithCallbacks(cb))

		send := s.cond.Send
		if replace {
			send = s.cond.CancelAndSend
		}
		queryID, err := send(r.Context(), agentID, req.Text, opts...)
		if err != nil {
			s.writeConductorError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)

		enc := json.NewEncoder(w)
		_ = enc.Encode(streamLine{Event: "query_started", Data: map[string]string{"query_id": queryID}})
		for _, notice := range notices {
			_ = enc.Encode(notice)
		}
		if flusher != nil {
			flusher.Flush()
		}

		for {
			select {
			case line, ok := <-lines:
				if !ok {
					return
				}
				if err := enc.Encode(line); err != nil {
					return
				}
				if flusher != nil {
					flusher.Flush()
				}
			case <-r.Context().Done():
				// Client went away; the query keeps running and the
				// transcript stays fetchable.
				return
			}
		}
	}
}
