// Package engine sequences agent turns for one user message.
//
// A pass is the work done for a single user message:
//  1. Serialize on the session (one pass per session at a time)
//  2. Append the user turn
//  3. Route the message to one or more agents
//  4. Let agents respond strictly one at a time, streaming chunks to a sink
//  5. Follow hand-offs between agents until the queue drains or a cap hits
//  6. Always finish with a pass_complete event
//
// Group, conference and think-tank modes differ only in how steps 3-5 run.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentoven/huddle/internal/completion"
	"github.com/agentoven/huddle/internal/mention"
	"github.com/agentoven/huddle/internal/metrics"
	"github.com/agentoven/huddle/internal/persona"
	"github.com/agentoven/huddle/internal/roster"
	"github.com/agentoven/huddle/internal/sessions"
	"github.com/agentoven/huddle/internal/telemetry"
	"github.com/agentoven/huddle/pkg/models"
)

// ErrUnknownMode is returned by Run for a mode it cannot dispatch.
var ErrUnknownMode = errors.New("unknown interaction mode")

// Sink receives the events of a pass in order. A non-nil error cancels
// the pass; no further agent calls are started.
type Sink func(models.Event) error

// Router is the routing surface the engine depends on. It is satisfied by
// *router.TurnRouter.
type Router interface {
	RouteUserMessage(ctx context.Context, text string, history []models.Turn) (models.RoutingDecision, error)
	RouteAgentReply(ctx context.Context, agentID, text string) (models.RoutingDecision, error)
}

// Config holds the termination caps and think-tank defaults.
type Config struct {
	// MaxFollowUpRounds caps how many times a group pass may grow its
	// queue through hand-offs.
	MaxFollowUpRounds int
	// MaxIterations caps dequeue operations per group pass (or per
	// think-tank round).
	MaxIterations int
	// HistoryWindow is the number of prior session turns shown to agents.
	HistoryWindow int

	ThinkTankMaxRounds    int
	ThinkTankMinConsensus float64
}

const (
	DefaultMaxFollowUpRounds     = 2
	DefaultMaxIterations         = 12
	DefaultHistoryWindow         = 5
	DefaultThinkTankMaxRounds    = 3
	DefaultThinkTankMinConsensus = 0.7

	// MaxThinkTankRounds bounds any caller-supplied round count.
	MaxThinkTankRounds = 10
)

// DefaultConfig returns the stock caps.
func DefaultConfig() Config {
	return Config{
		MaxFollowUpRounds:     DefaultMaxFollowUpRounds,
		MaxIterations:         DefaultMaxIterations,
		HistoryWindow:         DefaultHistoryWindow,
		ThinkTankMaxRounds:    DefaultThinkTankMaxRounds,
		ThinkTankMinConsensus: DefaultThinkTankMinConsensus,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxFollowUpRounds <= 0 {
		c.MaxFollowUpRounds = d.MaxFollowUpRounds
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = d.MaxIterations
	}
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = d.HistoryWindow
	}
	c.ThinkTankMaxRounds = clampRounds(c.ThinkTankMaxRounds, d.ThinkTankMaxRounds)
	c.ThinkTankMinConsensus = clampConsensus(c.ThinkTankMinConsensus, d.ThinkTankMinConsensus)
	return c
}

// Deps are the collaborators of an Engine. Personas, Highlighter and
// Metrics are optional.
type Deps struct {
	Roster      *roster.Roster
	Store       sessions.Store
	Router      Router
	Scanner     *mention.Scanner
	LLM         completion.Completer
	Personas    persona.Provider
	Highlighter persona.Highlighter
	Metrics     *metrics.Collector
}

// Engine runs passes. It is safe for concurrent use; passes on different
// sessions run in parallel, passes on the same session queue up.
type Engine struct {
	cfg         Config
	roster      *roster.Roster
	store       sessions.Store
	router      Router
	scanner     *mention.Scanner
	llm         completion.Completer
	personas    persona.Provider
	highlighter persona.Highlighter
	metrics     *metrics.Collector
	tracer      trace.Tracer
	locks       *sessions.PassLock

	// Running passes: passID → run
	runsMu sync.Mutex
	runs   map[string]*run
}

type run struct {
	sessionID string
	cancel    context.CancelFunc
}

// New creates an engine. Zero config fields take their defaults.
func New(cfg Config, d Deps) *Engine {
	return &Engine{
		cfg:         cfg.withDefaults(),
		roster:      d.Roster,
		store:       d.Store,
		router:      d.Router,
		scanner:     d.Scanner,
		llm:         d.LLM,
		personas:    d.Personas,
		highlighter: d.Highlighter,
		metrics:     d.Metrics,
		tracer:      otel.Tracer("huddle/engine"),
		locks:       sessions.NewPassLock(),
		runs:        make(map[string]*run),
	}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Request describes one pass for Run and Stream.
type Request struct {
	SessionID string      `json:"session_id"`
	Message   string      `json:"message"`
	Mode      models.Mode `json:"mode"`
	// Think-tank only. Zero values take the engine defaults.
	MaxRounds    int     `json:"max_rounds,omitempty"`
	MinConsensus float64 `json:"min_consensus,omitempty"`
}

// ThinkTankOptions tunes a think-tank pass.
type ThinkTankOptions struct {
	MaxRounds    int
	MinConsensus float64
}

// Run dispatches req to the matching mode.
func (e *Engine) Run(ctx context.Context, req Request, sink Sink) error {
	switch req.Mode {
	case models.ModeGroup, "":
		return e.RunGroup(ctx, req.SessionID, req.Message, sink)
	case models.ModeConference:
		return e.RunConference(ctx, req.SessionID, req.Message, sink)
	case models.ModeThinkTank:
		return e.RunThinkTank(ctx, req.SessionID, req.Message, ThinkTankOptions{
			MaxRounds:    req.MaxRounds,
			MinConsensus: req.MinConsensus,
		}, sink)
	}
	return fmt.Errorf("%w: %q", ErrUnknownMode, req.Mode)
}

// Stream runs req in the background and returns its events. The channel
// is closed after the pass ends. Cancelling ctx abandons the pass.
func (e *Engine) Stream(ctx context.Context, req Request) <-chan models.Event {
	ch := make(chan models.Event, 64)
	go func() {
		defer close(ch)
		err := e.Run(ctx, req, func(ev models.Event) error {
			select {
			case ch <- ev:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Debug().Err(err).Str("session", req.SessionID).Msg("Streamed pass ended with error")
		}
	}()
	return ch
}

// Cancel stops a running pass. It reports whether the pass was found.
func (e *Engine) Cancel(passID string) bool {
	e.runsMu.Lock()
	r, ok := e.runs[passID]
	e.runsMu.Unlock()
	if ok {
		r.cancel()
	}
	return ok
}

// CancelSession stops every running pass of a session and returns how
// many were cancelled.
func (e *Engine) CancelSession(sessionID string) int {
	e.runsMu.Lock()
	defer e.runsMu.Unlock()
	n := 0
	for _, r := range e.runs {
		if r.sessionID == sessionID {
			r.cancel()
			n++
		}
	}
	return n
}

// Running returns the number of passes in flight.
func (e *Engine) Running() int {
	e.runsMu.Lock()
	defer e.runsMu.Unlock()
	return len(e.runs)
}

// ── Pass lifecycle ───────────────────────────────────────────

// pass is the mutable state of one running pass. It is owned by the
// goroutine driving the pass.
type pass struct {
	id        string
	sessionID string
	mode      models.Mode
	userText  string
	history   []models.Turn
	decision  models.RoutingDecision
	turns     []models.Turn

	// think-tank progress, used in prompts
	round     int
	maxRounds int

	sink    Sink
	sinkErr error
	cancel  context.CancelFunc
}

// emit stamps ev with the pass identity and delivers it. The first sink
// failure cancels the pass and is returned for every later call.
func (p *pass) emit(ev models.Event) error {
	if p.sinkErr != nil {
		return p.sinkErr
	}
	ev.PassID = p.id
	ev.SessionID = p.sessionID
	ev.Mode = p.mode
	if err := p.sink(ev); err != nil {
		p.sinkErr = err
		p.cancel()
		return err
	}
	return nil
}

// passFunc runs the mode-specific part of a pass and returns the
// completion reason.
type passFunc func(ctx context.Context, p *pass) (string, error)

// execute wraps body with the steps every mode shares. pass_complete is
// emitted on every path.
func (e *Engine) execute(ctx context.Context, sessionID string, mode models.Mode, text string, sink Sink, body passFunc) (err error) {
	if sink == nil {
		sink = func(models.Event) error { return nil }
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := &pass{
		id:        uuid.NewString(),
		sessionID: sessionID,
		mode:      mode,
		userText:  text,
		sink:      sink,
		cancel:    cancel,
	}

	ctx, span := e.tracer.Start(ctx, "huddle.pass", trace.WithAttributes(
		telemetry.AttrPassID.String(p.id),
		telemetry.AttrSessionID.String(sessionID),
		telemetry.AttrMode.String(string(mode)),
	))
	start := time.Now()
	reason := models.ReasonError

	defer func() {
		switch {
		case err == nil:
		case p.sinkErr != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			reason = models.ReasonCanceled
		default:
			_ = p.emit(models.Event{Type: models.EventError, Error: err.Error()})
		}
		_ = p.emit(models.Event{Type: models.EventPassComplete, Reason: reason})

		e.metrics.PassCompleted(string(p.mode), reason, time.Since(start))
		span.SetAttributes(
			attribute.String("huddle.reason", reason),
			attribute.Int("huddle.turns", len(p.turns)),
		)
		if err != nil && reason != models.ReasonCanceled {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		log.Info().
			Str("pass_id", p.id).
			Str("session", sessionID).
			Str("mode", string(p.mode)).
			Str("reason", reason).
			Int("turns", len(p.turns)).
			Dur("duration", time.Since(start)).
			Msg("✅ Pass complete")

		if p.sinkErr != nil && err == nil {
			err = p.sinkErr
		}
	}()

	unlock, err := e.locks.Lock(ctx, sessionID)
	if err != nil {
		return err
	}
	defer unlock()

	if _, err := e.store.Get(ctx, sessionID); err != nil {
		return err
	}
	history, err := e.store.History(ctx, sessionID, sessions.HistoryQuery{Max: e.cfg.HistoryWindow})
	if err != nil {
		return err
	}
	p.history = history
	if _, err := e.store.Append(ctx, sessionID, models.NewUserTurn(text)); err != nil {
		return err
	}

	e.runsMu.Lock()
	e.runs[p.id] = &run{sessionID: sessionID, cancel: cancel}
	e.runsMu.Unlock()
	defer func() {
		e.runsMu.Lock()
		delete(e.runs, p.id)
		e.runsMu.Unlock()
	}()

	log.Info().
		Str("pass_id", p.id).
		Str("session", sessionID).
		Str("mode", string(mode)).
		Msg("🗣️ Pass started")

	r, err := body(ctx, p)
	if err != nil {
		return err
	}
	if p.sinkErr != nil {
		return p.sinkErr
	}
	reason = r
	return nil
}

// routeUser runs tier-1 routing and announces the decision.
func (e *Engine) routeUser(ctx context.Context, p *pass) error {
	d, err := e.router.RouteUserMessage(ctx, p.userText, p.history)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.metrics.RoutingError("user")
		return err
	}
	p.decision = d
	log.Debug().
		Str("pass_id", p.id).
		Strs("agents", d.AgentIDs).
		Str("intent", string(d.Intent)).
		Float64("confidence", d.Confidence).
		Msg("Routed user message")
	return p.emit(models.Event{Type: models.EventRouting, Routing: &d})
}

// ── Responding ───────────────────────────────────────────────

type respondOpts struct {
	round     int
	synthesis bool
}

// respond produces, stores and announces one agent turn. A model failure
// becomes the turn content; only cancellation, sink and store failures are
// returned as errors.
func (e *Engine) respond(ctx context.Context, p *pass, agentID string, o respondOpts) (models.Turn, error) {
	if err := ctx.Err(); err != nil {
		return models.Turn{}, err
	}
	agent, ok := e.roster.Get(agentID)
	if !ok {
		return models.Turn{}, fmt.Errorf("respond: unknown agent %q", agentID)
	}

	ctx, span := e.tracer.Start(ctx, "huddle.respond", trace.WithAttributes(
		telemetry.AttrAgentID.String(agentID),
		attribute.Int("huddle.round", o.round),
	))
	defer span.End()

	if err := p.emit(models.Event{Type: models.EventAgentStart, AgentID: agent.ID, AgentName: agent.Name}); err != nil {
		return models.Turn{}, err
	}

	var messages []models.ChatMessage
	if o.synthesis {
		messages = e.synthesisPrompt(p, agent)
	} else {
		messages = e.agentPrompt(p, agent)
	}

	start := time.Now()
	text, err := e.llm.Stream(completion.WithAgent(ctx, agentID), messages, func(chunk string) error {
		return p.emit(models.Event{Type: models.EventAgentChunk, AgentID: agent.ID, AgentName: agent.Name, Chunk: chunk})
	})

	failed := false
	if err != nil {
		if p.sinkErr != nil {
			return models.Turn{}, p.sinkErr
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return models.Turn{}, ctxErr
		}
		failed = true
		text = fmt.Sprintf("[Error: %v]", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn().Err(err).Str("pass_id", p.id).Str("agent", agentID).Msg("Agent completion failed")
	}

	meta := map[string]interface{}{
		models.MetaMode:   string(p.mode),
		models.MetaPassID: p.id,
	}
	if o.round > 0 {
		meta[models.MetaRound] = o.round
	}
	if o.synthesis {
		meta[models.MetaSynthesis] = true
	}

	var (
		highlights map[string]interface{}
		citations  []models.Citation
	)
	if failed {
		meta[models.MetaError] = true
	} else {
		if e.highlighter != nil {
			highlights = e.highlighter.Highlight(agentID, text)
			if highlights != nil {
				meta[models.MetaHighlights] = highlights
			}
		}
		if p.mode == models.ModeThinkTank {
			citations = ParseCitations(text)
			if len(citations) > 0 {
				meta[models.MetaCitations] = citations
			}
		}
	}

	turn := models.NewAgentTurn(agent, text)
	turn.Metadata = meta
	stored, err := e.store.Append(ctx, p.sessionID, turn)
	if err != nil {
		return models.Turn{}, fmt.Errorf("append %s turn: %w", agentID, err)
	}
	p.turns = append(p.turns, stored)

	status := "ok"
	if failed {
		status = "error"
	}
	e.metrics.AgentTurn(string(p.mode), agentID, status, time.Since(start))

	if err := p.emit(models.Event{
		Type:       models.EventAgentComplete,
		AgentID:    agent.ID,
		AgentName:  agent.Name,
		Turn:       &stored,
		Highlights: highlights,
	}); err != nil {
		return stored, err
	}
	if len(citations) > 0 {
		if err := p.emit(models.Event{
			Type:      models.EventCitations,
			AgentID:   agent.ID,
			AgentName: agent.Name,
			Round:     o.round,
			Citations: citations,
		}); err != nil {
			return stored, err
		}
	}
	return stored, nil
}
