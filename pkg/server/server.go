// Package server assembles the huddle server from configuration.
//
// This package lives in pkg/ (not internal/) so embedders can compose the
// handler with their own middleware.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	err = srv.Run(ctx) // blocks until ctx is cancelled
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/agentoven/huddle/internal/api"
	"github.com/agentoven/huddle/internal/api/handlers"
	"github.com/agentoven/huddle/internal/api/middleware"
	"github.com/agentoven/huddle/internal/completion"
	"github.com/agentoven/huddle/internal/config"
	"github.com/agentoven/huddle/internal/engine"
	"github.com/agentoven/huddle/internal/intent"
	"github.com/agentoven/huddle/internal/mention"
	"github.com/agentoven/huddle/internal/metrics"
	"github.com/agentoven/huddle/internal/persona"
	"github.com/agentoven/huddle/internal/roster"
	"github.com/agentoven/huddle/internal/router"
	"github.com/agentoven/huddle/internal/sessions"
	"github.com/agentoven/huddle/internal/telemetry"
)

const gaugeInterval = 15 * time.Second

// Server holds the initialized huddle components.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	Engine   *engine.Engine
	Store    *sessions.MemoryStore
	Roster   *roster.Roster
	Router   *router.TurnRouter
	Metrics  *metrics.Collector
	Registry *prometheus.Registry
	Janitor  *sessions.Janitor

	Config *config.Config
	Port   int

	// ShutdownFunc should be called on graceful shutdown to flush telemetry.
	ShutdownFunc func(context.Context) error
}

// New initializes every component from environment configuration.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load(), nil)
}

// NewWithConfig initializes the server with an explicit configuration.
// llm overrides the provider client built from cfg.Provider when non-nil.
func NewWithConfig(ctx context.Context, cfg *config.Config, llm completion.Completer) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	team, err := loadTeam(cfg.TeamFile)
	if err != nil {
		return nil, err
	}
	r, err := team.Roster()
	if err != nil {
		return nil, fmt.Errorf("build roster: %w", err)
	}
	log.Info().Int("agents", r.Len()).Str("leader", r.LeaderID()).Msg("✅ Roster loaded")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewCollector("huddle", reg)

	var routingLLM completion.Completer = llm
	if llm == nil {
		client := completion.NewClient(completion.Config{
			Kind:               cfg.Provider.Kind,
			Endpoint:           cfg.Provider.Endpoint,
			APIKey:             cfg.Provider.APIKey,
			Model:              cfg.Provider.Model,
			MaxTokens:          cfg.Provider.MaxTokens,
			RateLimitRPS:       cfg.Provider.RateLimitRPS,
			RateLimitBurst:     cfg.Provider.RateLimitBurst,
			BreakerMaxFailures: uint32(max(cfg.Provider.BreakerMaxFailures, 0)),
			BreakerTimeout:     cfg.Provider.BreakerTimeout,
		}, nil)
		llm = client
		routingLLM = client
		if cfg.Provider.RoutingModel != "" {
			routingLLM = client.WithModel(cfg.Provider.RoutingModel)
		}
		log.Info().
			Str("provider", cfg.Provider.Kind).
			Str("model", client.Model()).
			Str("routing_model", cfg.Provider.RoutingModel).
			Msg("✅ Completion client initialized")
	}

	store := sessions.NewMemoryStore(sessions.Options{
		StaleTimeout:  cfg.Sessions.StaleTimeout,
		SweepInterval: cfg.Sessions.SweepInterval,
		OnReap:        m.SessionsReaped,
	})

	scanner := mention.New(r)
	strategy := intent.ReplyLLM
	if cfg.Engine.ReplyClassifier == string(intent.ReplyHeuristic) {
		strategy = intent.ReplyHeuristic
	}
	classifier := intent.New(r, scanner, routingLLM, intent.WithReplyStrategy(strategy))
	tr := router.New(r, classifier)
	log.Info().Str("reply_classifier", string(classifier.Strategy())).Msg("✅ Turn router initialized")

	eng := engine.New(engine.Config{
		MaxFollowUpRounds:     cfg.Engine.MaxFollowUpRounds,
		MaxIterations:         cfg.Engine.MaxIterations,
		HistoryWindow:         cfg.Engine.HistoryWindow,
		ThinkTankMaxRounds:    cfg.Engine.ThinkTankMaxRounds,
		ThinkTankMinConsensus: cfg.Engine.ThinkTankMinConsensus,
	}, engine.Deps{
		Roster:      r,
		Store:       store,
		Router:      tr,
		Scanner:     scanner,
		LLM:         llm,
		Personas:    persona.NewStatic(team),
		Highlighter: persona.NewKeywordHighlighter(team),
		Metrics:     m,
	})
	log.Info().Msg("✅ Engine initialized")

	h := handlers.New(eng, store, tr, r)
	var auth *middleware.APIKeyAuth
	if len(cfg.APIKeys) > 0 {
		auth = middleware.NewAPIKeyAuth(cfg.APIKeys)
		log.Info().Int("keys", len(cfg.APIKeys)).Msg("🔐 API key auth enabled")
	}
	handler := api.NewRouter(cfg, h, api.Options{Metrics: m, Gatherer: reg, Auth: auth})

	return &Server{
		Handler:      handler,
		Engine:       eng,
		Store:        store,
		Roster:       r,
		Router:       tr,
		Metrics:      m,
		Registry:     reg,
		Janitor:      sessions.NewJanitor(store, cfg.Sessions.SweepInterval),
		Config:       cfg,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}

func loadTeam(path string) (*roster.File, error) {
	if path == "" {
		return roster.DefaultFile(), nil
	}
	f, err := roster.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load team file: %w", err)
	}
	return f, nil
}

// Run serves HTTP and runs the session janitor until ctx is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:        fmt.Sprintf(":%d", s.Port),
		Handler:     s.Handler,
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: chat streams stay open for the whole pass.
		IdleTimeout: 120 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Int("port", s.Port).Msg("🗣️ Huddle is listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		s.Janitor.Start(ctx)
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(gaugeInterval)
		defer ticker.Stop()
		for {
			s.Metrics.SessionsActive(s.Store.Len())
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("🛑 Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	err := g.Wait()
	if s.ShutdownFunc != nil {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if ferr := s.ShutdownFunc(flushCtx); ferr != nil {
			log.Warn().Err(ferr).Msg("Telemetry flush failed")
		}
	}
	return err
}
