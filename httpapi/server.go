// Package httpapi exposes the conductor over HTTP for desktop clients.
// Send endpoints stream conductor events as NDJSON; everything else is
// plain JSON.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/bazelment/agentdeck/attachment"
	"github.com/bazelment/agentdeck/channel"
	"github.com/bazelment/agentdeck/conductor"
)

// Server wires the conductor and attachment resolver behind a router.
type Server struct {
	cond     *conductor.Conductor
	resolver attachment.Resolver
	baseDir  string
	logger   *slog.Logger
}

// NewServer builds a server. resolver may be nil to disable attachment
// resolution.
func NewServer(cond *conductor.Conductor, resolver attachment.Resolver, baseDir string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{cond: cond, resolver: resolver, baseDir: baseDir, logger: logger}
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/agents", s.handleCreateAgent)
		r.Get("/agents", s.handleListAgents)
		r.Route("/agents/{agentID}", func(r chi.Router) {
			r.Get("/", s.handleGetAgent)
			r.Get("/status", s.handleStatus)
			r.Get("/messages", s.handleGetMessages)
			r.Delete("/messages", s.handleClearMessages)
			r.Post("/messages", s.handleSend(false))
			r.Post("/messages/replace", s.handleSend(true))
			r.Post("/interrupt", s.handleInterrupt)
		})
	})
	return r
}

type createAgentRequest struct {
	Title          string `json:"title"`
	WorkDir        string `json:"work_dir"`
	Model          string `json:"model"`
	PermissionMode string `json:"permission_mode"`
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req createAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var opts []conductor.SessionOption
	if req.Title != "" {
		opts = append(opts, conductor.WithTitle(req.Title))
	}
	workDir := req.WorkDir
	if workDir == "" {
		workDir = s.baseDir
	}
	if workDir != "" {
		opts = append(opts, conductor.WithWorkDir(workDir))
	}
	if req.Model != "" {
		opts = append(opts, conductor.WithModel(req.Model))
	}
	if req.PermissionMode != "" {
		opts = append(opts, conductor.WithPermissionMode(req.PermissionMode))
	}

	snap, err := s.cond.CreateSession(opts...)
	if err != nil {
		s.writeConductorError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cond.Sessions())
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	snap, ok := s.cond.Session(agentID)
	if !ok {
		writeError(w, http.StatusNotFound, "no such agent")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	if _, ok := s.cond.Session(agentID); !ok {
		writeError(w, http.StatusNotFound, "no such agent")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{
		"is_querying":  s.cond.IsQuerying(agentID),
		"is_streaming": s.cond.IsStreaming(agentID),
	})
}

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	if _, ok := s.cond.Session(agentID); !ok {
		writeError(w, http.StatusNotFound, "no such agent")
		return
	}
	msgs, err := s.cond.Messages(agentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleClearMessages(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	if _, ok := s.cond.Session(agentID); !ok {
		writeError(w, http.StatusNotFound, "no such agent")
		return
	}
	if err := s.cond.ClearTranscript(agentID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type interruptRequest struct {
	Silent bool `json:"silent"`
}

func (s *Server) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	if _, ok := s.cond.Session(agentID); !ok {
		writeError(w, http.StatusNotFound, "no such agent")
		return
	}
	var req interruptRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	s.cond.Stop(agentID, req.Silent)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) writeConductorError(w http.ResponseWriter, err error) {
	var cfgErr *conductor.ConfigurationError
	var chErr *channel.ChannelError
	switch {
	case errors.As(err, &cfgErr):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &chErr):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, conductor.ErrEmptyPrompt):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, conductor.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
