// Huddle: a multi-agent chat server where a small team of personas
// answers a user together.
//
// Commands:
//   - serve: HTTP, SSE and WebSocket API (default)
//   - ask:   run a single pass locally and print its events
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/agentoven/huddle/internal/config"
	"github.com/agentoven/huddle/pkg/server"
)

var rootCmd = &cobra.Command{
	Use:   "huddle",
	Short: "Multi-agent team chat server",
	Long: `Huddle routes each user message to the right members of a small
agent team and lets them answer in group, conference or think-tank mode.

Configuration is read from HUDDLE_* environment variables.`,
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and WebSocket server",
	RunE:  runServe,
}

var portFlag int

func init() {
	serveCmd.Flags().IntVarP(&portFlag, "port", "p", 0, "listen port (overrides HUDDLE_PORT)")
	rootCmd.AddCommand(serveCmd, askCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setupLogging configures the console logger at the configured level.
func setupLogging(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()
	if portFlag > 0 {
		cfg.Port = portFlag
	}
	setupLogging(cfg.LogLevel)

	log.Info().Str("version", cfg.Version).Msg("🗣️ Huddle starting...")

	ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := server.NewWithConfig(ctx, cfg, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize server")
		return err
	}

	if err := srv.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Server failed")
		return err
	}
	log.Info().Msg("👋 Huddle stopped")
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
