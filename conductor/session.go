package conductor

import (
	"time"

	"github.com/google/uuid"
)

// AgentSession is one independent conversation with its own backend
// session identity. Fields are owned by the conductor; use Snapshot to
// read them from other goroutines.
type AgentSession struct {
	ID               string
	Title            string
	WorkDir          string
	Model            string
	PermissionMode   string
	BackendSessionID string
	CreatedAt        time.Time

	meter usageMeter
}

// SessionSnapshot is a read-only copy of an agent session's state.
type SessionSnapshot struct {
	ID               string      `json:"id"`
	Title            string      `json:"title,omitempty"`
	WorkDir          string      `json:"work_dir,omitempty"`
	Model            string      `json:"model,omitempty"`
	PermissionMode   string      `json:"permission_mode,omitempty"`
	BackendSessionID string      `json:"backend_session_id,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	Usage            TokenCounts `json:"usage"`
	CostUSD          float64     `json:"cost_usd"`
	LiveOutputTokens int         `json:"live_output_tokens"`
}

func (s *AgentSession) snapshot() SessionSnapshot {
	return SessionSnapshot{
		ID:               s.ID,
		Title:            s.Title,
		WorkDir:          s.WorkDir,
		Model:            s.Model,
		PermissionMode:   s.PermissionMode,
		BackendSessionID: s.BackendSessionID,
		CreatedAt:        s.CreatedAt,
		Usage:            s.meter.session,
		CostUSD:          s.meter.costUSD,
		LiveOutputTokens: s.meter.currentResponse,
	}
}

// SessionOption configures a new agent session.
type SessionOption func(*AgentSession)

// WithTitle sets the session title shown in pickers.
func WithTitle(title string) SessionOption {
	return func(s *AgentSession) { s.Title = title }
}

// WithWorkDir sets the session working directory.
func WithWorkDir(dir string) SessionOption {
	return func(s *AgentSession) { s.WorkDir = dir }
}

// WithModel sets the session model selector.
func WithModel(model string) SessionOption {
	return func(s *AgentSession) { s.Model = model }
}

// WithPermissionMode sets the session permission mode.
func WithPermissionMode(mode string) SessionOption {
	return func(s *AgentSession) { s.PermissionMode = mode }
}

// WithSessionID pins the session id instead of generating one.
func WithSessionID(id string) SessionOption {
	return func(s *AgentSession) { s.ID = id }
}

func newAgentSession(now time.Time, opts ...SessionOption) *AgentSession {
	s := &AgentSession{
		ID:        uuid.NewString(),
		CreatedAt: now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}
