package engine

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/agentoven/huddle/internal/consensus"
	"github.com/agentoven/huddle/pkg/models"
)

// ── Group ────────────────────────────────────────────────────

// RunGroup routes text to the best-suited agents and lets them hand off to
// each other until the queue drains or a cap is reached.
func (e *Engine) RunGroup(ctx context.Context, sessionID, text string, sink Sink) error {
	return e.execute(ctx, sessionID, models.ModeGroup, text, sink, func(ctx context.Context, p *pass) (string, error) {
		if err := e.routeUser(ctx, p); err != nil {
			return "", err
		}
		return e.drain(ctx, p, p.decision.AgentIDs, 0)
	})
}

// drain runs the follow-up queue seeded with seed. round is recorded on
// every turn and is zero outside think-tank mode.
func (e *Engine) drain(ctx context.Context, p *pass, seed []string, round int) (string, error) {
	q := newFollowUpQueue(seed, e.cfg.MaxFollowUpRounds, e.cfg.MaxIterations)
	for !q.empty() {
		if q.exhausted() {
			log.Warn().
				Str("pass_id", p.id).
				Int("iterations", q.iterations).
				Msg("Iteration cap reached, ending pass")
			return models.ReasonIterationCap, nil
		}
		id, ok := q.pop()
		if !ok || !e.roster.Has(id) {
			continue
		}

		turn, err := e.respond(ctx, p, id, respondOpts{round: round})
		if err != nil {
			return "", err
		}
		if turn.IsError() || q.capped() || !e.scanner.HasMentions(turn.Content) {
			continue
		}

		d, err := e.router.RouteAgentReply(ctx, id, turn.Content)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			e.metrics.RoutingError("reply")
			log.Warn().Err(err).Str("pass_id", p.id).Str("agent", id).Msg("Follow-up routing failed, treating as no hand-off")
			continue
		}
		for _, to := range q.push(d.AgentIDs) {
			e.metrics.Handoff(id, to)
			log.Debug().Str("pass_id", p.id).Str("from", id).Str("to", to).Msg("Agent handed off")
		}
	}
	if q.capped() {
		return models.ReasonRoundCap, nil
	}
	return models.ReasonQueueEmpty, nil
}

// ── Conference ───────────────────────────────────────────────

// RunConference lets the leader answer first, then every other agent once
// in routed order. Agents routed by the classifier go first; the rest of
// the roster follows in canonical order.
func (e *Engine) RunConference(ctx context.Context, sessionID, text string, sink Sink) error {
	return e.execute(ctx, sessionID, models.ModeConference, text, sink, func(ctx context.Context, p *pass) (string, error) {
		leader := e.roster.LeaderID()
		if _, err := e.respond(ctx, p, leader, respondOpts{}); err != nil {
			return "", err
		}
		if err := e.routeUser(ctx, p); err != nil {
			return "", err
		}
		for _, id := range conferenceOrder(p.decision.AgentIDs, e.roster.IDs(), leader) {
			if _, err := e.respond(ctx, p, id, respondOpts{}); err != nil {
				return "", err
			}
		}
		return models.ReasonCompleted, nil
	})
}

func conferenceOrder(routed, all []string, leader string) []string {
	seen := map[string]bool{leader: true}
	out := make([]string, 0, len(all))
	for _, list := range [][]string{routed, all} {
		for _, id := range list {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}

// ── Think tank ───────────────────────────────────────────────

// RunThinkTank runs a multi-round discussion among the routed agents and
// closes with a synthesis by the leader. A greeting is handled as a group
// pass instead.
func (e *Engine) RunThinkTank(ctx context.Context, sessionID, text string, opts ThinkTankOptions, sink Sink) error {
	maxRounds := clampRounds(opts.MaxRounds, e.cfg.ThinkTankMaxRounds)
	minConsensus := clampConsensus(opts.MinConsensus, e.cfg.ThinkTankMinConsensus)

	return e.execute(ctx, sessionID, models.ModeThinkTank, text, sink, func(ctx context.Context, p *pass) (string, error) {
		if err := e.routeUser(ctx, p); err != nil {
			return "", err
		}
		if p.decision.Intent == models.IntentGreeting {
			log.Debug().Str("pass_id", p.id).Msg("Greeting in think tank, running as group")
			p.mode = models.ModeGroup
			return e.drain(ctx, p, p.decision.AgentIDs, 0)
		}

		participants := p.decision.AgentIDs
		p.maxRounds = maxRounds
		reason := models.ReasonMaxRounds
		var prev []models.Turn

		for round := 1; round <= maxRounds; round++ {
			p.round = round
			if err := p.emit(models.Event{Type: models.EventRoundStart, Round: round}); err != nil {
				return "", err
			}

			start := len(p.turns)
			if _, err := e.drain(ctx, p, participants, round); err != nil {
				return "", err
			}
			curr := p.turns[start:]

			var score *float64
			if round >= 2 {
				s := consensus.Score(prev, curr)
				score = &s
				e.metrics.Consensus(s)
				if err := p.emit(models.Event{Type: models.EventConsensusUpdate, Round: round, Consensus: score}); err != nil {
					return "", err
				}
			}
			if err := p.emit(models.Event{Type: models.EventRoundComplete, Round: round, Consensus: score}); err != nil {
				return "", err
			}

			prev = curr
			if score != nil && *score >= minConsensus {
				log.Info().
					Str("pass_id", p.id).
					Int("round", round).
					Float64("consensus", *score).
					Msg("🤝 Consensus reached")
				reason = models.ReasonConsensus
				break
			}
		}

		if err := p.emit(models.Event{Type: models.EventSummaryStart}); err != nil {
			return "", err
		}
		if _, err := e.respond(ctx, p, e.roster.LeaderID(), respondOpts{synthesis: true}); err != nil {
			return "", err
		}
		return reason, nil
	})
}

func clampRounds(n, def int) int {
	if n <= 0 {
		n = def
	}
	if n < 1 {
		n = 1
	}
	if n > MaxThinkTankRounds {
		n = MaxThinkTankRounds
	}
	return n
}

func clampConsensus(v, def float64) float64 {
	if v <= 0 {
		v = def
	}
	if v <= 0 {
		v = DefaultThinkTankMinConsensus
	}
	if v > 1 {
		v = 1
	}
	return v
}
