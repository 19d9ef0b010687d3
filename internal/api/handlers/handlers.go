// Package handlers implements the HTTP and WebSocket handlers of the
// huddle server.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/agentoven/huddle/internal/completion"
	"github.com/agentoven/huddle/internal/engine"
	"github.com/agentoven/huddle/internal/intent"
	"github.com/agentoven/huddle/internal/roster"
	"github.com/agentoven/huddle/internal/sessions"
	"github.com/agentoven/huddle/pkg/models"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Engine *engine.Engine
	Store  sessions.Store
	Router engine.Router
	Roster *roster.Roster
	// OriginPatterns are the extra origins accepted for WebSocket upgrades.
	OriginPatterns []string
}

// New creates a new Handlers instance with all dependencies.
func New(e *engine.Engine, s sessions.Store, rt engine.Router, r *roster.Roster) *Handlers {
	return &Handlers{
		Engine:         e,
		Store:          s,
		Router:         rt,
		Roster:         r,
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	}
}

// ══════════════════════════════════════════════════════════════
// ── Agent Handlers ───────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// ListAgents returns the roster, leader first.
// GET /api/v1/agents
func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"leader": h.Roster.LeaderID(),
		"agents": h.Roster.Agents(),
	})
}

type routeRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// RouteMessage classifies a message without running a pass.
// POST /api/v1/route
func (h *Handlers) RouteMessage(w http.ResponseWriter, r *http.Request) {
	var req routeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Message == "" {
		respondError(w, http.StatusBadRequest, "message is required")
		return
	}

	var history []models.Turn
	if req.SessionID != "" {
		turns, err := h.Store.History(r.Context(), req.SessionID, sessions.HistoryQuery{})
		if err != nil {
			respondStoreError(w, err)
			return
		}
		history = turns
	}

	d, err := h.Router.RouteUserMessage(r.Context(), req.Message, history)
	if err != nil {
		respondRoutingError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, d)
}

// ══════════════════════════════════════════════════════════════
// ── Session Handlers ─────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

type createSessionRequest struct {
	ID       string                 `json:"id,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// CreateSession starts an empty session. The body is optional.
// POST /api/v1/sessions
func (h *Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}
	sess, err := h.Store.Create(r.Context(), req.ID, req.Metadata)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	log.Info().Str("session", sess.ID).Msg("Session created")
	respondJSON(w, http.StatusCreated, sess)
}

// ListSessions returns stats for every live session, most recent first.
// GET /api/v1/sessions
func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	list := h.Store.List(r.Context())
	if list == nil {
		list = []models.SessionStats{}
	}
	respondJSON(w, http.StatusOK, list)
}

// GetSession returns a session with its full transcript.
// GET /api/v1/sessions/{id}
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

// SessionStats returns turn counts for a session.
// GET /api/v1/sessions/{id}/stats
func (h *Handlers) SessionStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.Store.Stats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

// DeleteSession cancels running passes and removes the session.
// DELETE /api/v1/sessions/{id}
func (h *Handlers) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if n := h.Engine.CancelSession(id); n > 0 {
		log.Info().Str("session", id).Int("passes", n).Msg("Cancelled running passes")
	}
	if err := h.Store.Delete(r.Context(), id); err != nil {
		respondStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearSession drops the transcript but keeps the session.
// POST /api/v1/sessions/{id}/clear
func (h *Handlers) ClearSession(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Clear(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SessionHistory returns the transcript tail.
// GET /api/v1/sessions/{id}/history?max=20&role=agent
func (h *Handlers) SessionHistory(w http.ResponseWriter, r *http.Request) {
	q := sessions.HistoryQuery{}
	if v := r.URL.Query().Get("max"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "max must be an integer")
			return
		}
		q.Max = n
	}
	switch role := models.Role(r.URL.Query().Get("role")); role {
	case "", models.RoleUser, models.RoleAgent:
		q.Role = role
	default:
		respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown role %q", role))
		return
	}

	turns, err := h.Store.History(r.Context(), chi.URLParam(r, "id"), q)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if turns == nil {
		turns = []models.Turn{}
	}
	respondJSON(w, http.StatusOK, turns)
}

// ══════════════════════════════════════════════════════════════
// ── Chat (SSE) ───────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

type chatRequest struct {
	Message      string  `json:"message"`
	Mode         string  `json:"mode,omitempty"`
	MaxRounds    int     `json:"max_rounds,omitempty"`
	MinConsensus float64 `json:"min_consensus,omitempty"`
}

// toEngine validates the request and converts it for the engine.
func (c chatRequest) toEngine(sessionID string) (engine.Request, error) {
	if c.Message == "" {
		return engine.Request{}, errors.New("message is required")
	}
	mode, ok := models.ParseMode(c.Mode)
	if !ok {
		return engine.Request{}, fmt.Errorf("unknown mode %q", c.Mode)
	}
	if c.MaxRounds < 0 || c.MaxRounds > engine.MaxThinkTankRounds {
		return engine.Request{}, fmt.Errorf("max_rounds must be between 1 and %d", engine.MaxThinkTankRounds)
	}
	if c.MinConsensus < 0 || c.MinConsensus > 1 {
		return engine.Request{}, errors.New("min_consensus must be in (0, 1]")
	}
	return engine.Request{
		SessionID:    sessionID,
		Message:      c.Message,
		Mode:         mode,
		MaxRounds:    c.MaxRounds,
		MinConsensus: c.MinConsensus,
	}, nil
}

// Chat runs one pass and streams its events as Server-Sent Events. The
// stream always ends with a pass_complete event.
// POST /api/v1/sessions/{id}/chat
func (h *Handlers) Chat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body chatRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	req, err := body.toEngine(id)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := h.Store.Get(r.Context(), id); err != nil {
		respondStoreError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	err = h.Engine.Run(r.Context(), req, func(ev models.Event) error {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Warn().Err(err).Str("session", id).Str("mode", string(req.Mode)).Msg("Chat pass failed")
	}
}

// ══════════════════════════════════════════════════════════════
// ── Helpers ──────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sessions.ErrSessionNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, sessions.ErrSessionExists):
		respondError(w, http.StatusConflict, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func respondRoutingError(w http.ResponseWriter, err error) {
	var rerr *intent.RoutingError
	var merr *completion.ModelError
	switch {
	case errors.As(err, &merr), errors.As(err, &rerr):
		respondError(w, http.StatusBadGateway, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}
