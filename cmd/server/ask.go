package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agentoven/huddle/internal/config"
	"github.com/agentoven/huddle/internal/engine"
	"github.com/agentoven/huddle/pkg/models"
	"github.com/agentoven/huddle/pkg/server"
)

var askOpts struct {
	mode         string
	session      string
	rounds       int
	minConsensus float64
}

var askCmd = &cobra.Command{
	Use:   "ask [message]",
	Short: "Run one pass locally and print the replies",
	Long: `Send a single message to the team without starting the server.

Examples:
  huddle ask "Hi team, how should we shard the orders table?"
  huddle ask --mode think_tank --rounds 2 "Should we adopt Kafka?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	f := askCmd.Flags()
	f.StringVarP(&askOpts.mode, "mode", "m", "group", "conversation mode: group, conference or think_tank")
	f.StringVarP(&askOpts.session, "session", "s", "", "session id (a new session when empty)")
	f.IntVar(&askOpts.rounds, "rounds", 0, "think tank rounds (0 uses the configured default)")
	f.Float64Var(&askOpts.minConsensus, "min-consensus", 0, "think tank early-stop score (0 uses the configured default)")
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	cfg.Telemetry.Enabled = false
	setupLogging(cfg.LogLevel)

	mode, ok := models.ParseMode(askOpts.mode)
	if !ok {
		return fmt.Errorf("unknown mode %q", askOpts.mode)
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := server.NewWithConfig(ctx, cfg, nil)
	if err != nil {
		return err
	}

	sess, _, err := srv.Store.GetOrCreate(ctx, askOpts.session)
	if err != nil {
		return err
	}

	p := &printer{out: cmd.OutOrStdout()}
	return srv.Engine.Run(ctx, engine.Request{
		SessionID:    sess.ID,
		Message:      strings.Join(args, " "),
		Mode:         mode,
		MaxRounds:    askOpts.rounds,
		MinConsensus: askOpts.minConsensus,
	}, p.print)
}

// printer renders pass events as a plain transcript.
type printer struct {
	out io.Writer
}

func (p *printer) print(ev models.Event) error {
	var err error
	switch ev.Type {
	case models.EventRouting:
		if ev.Routing != nil {
			_, err = fmt.Fprintf(p.out, "→ %s %s\n", ev.Routing.Intent, strings.Join(ev.Routing.AgentIDs, ", "))
		}
	case models.EventRoundStart:
		_, err = fmt.Fprintf(p.out, "\n── Round %d ──\n", ev.Round)
	case models.EventConsensusUpdate:
		if ev.Consensus != nil {
			_, err = fmt.Fprintf(p.out, "consensus: %.2f\n", *ev.Consensus)
		}
	case models.EventSummaryStart:
		_, err = fmt.Fprintln(p.out, "\n── Synthesis ──")
	case models.EventAgentStart:
		_, err = fmt.Fprintf(p.out, "\n%s: ", ev.AgentName)
	case models.EventAgentChunk:
		_, err = io.WriteString(p.out, ev.Chunk)
	case models.EventAgentComplete:
		_, err = fmt.Fprintln(p.out)
	case models.EventError:
		_, err = fmt.Fprintf(os.Stderr, "error: %s\n", ev.Error)
	case models.EventPassComplete:
		_, err = fmt.Fprintf(p.out, "\n(%s)\n", ev.Reason)
	}
	return err
}
