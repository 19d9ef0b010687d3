// Package router validates classifier decisions against the roster before
// the engine acts on them.
package router

import (
	"context"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/agentoven/huddle/internal/roster"
	"github.com/agentoven/huddle/pkg/models"
)

// Classifier is the subset of intent.Classifier the router needs.
type Classifier interface {
	ClassifyUserMessage(ctx context.Context, text string, history []models.Turn) (models.RoutingDecision, error)
	ClassifyAgentReply(ctx context.Context, agentID, text string) (models.RoutingDecision, error)
}

// fallbackConfidenceCap bounds confidence when the full roster stands in
// for an empty selection.
const fallbackConfidenceCap = 0.5

// TurnRouter wraps a Classifier. Every decision it returns names only
// known agents, each at most once.
type TurnRouter struct {
	roster     *roster.Roster
	classifier Classifier
}

// New creates a TurnRouter.
func New(r *roster.Roster, c Classifier) *TurnRouter {
	return &TurnRouter{roster: r, classifier: c}
}

// RouteUserMessage classifies a user message. If no valid agent survives
// validation the whole roster is selected, in canonical order, with
// reduced confidence. Classifier errors are returned unchanged.
func (tr *TurnRouter) RouteUserMessage(ctx context.Context, text string, history []models.Turn) (models.RoutingDecision, error) {
	d, err := tr.classifier.ClassifyUserMessage(ctx, text, history)
	if err != nil {
		return models.RoutingDecision{}, err
	}

	ids := tr.validate(d.AgentIDs, "")
	if len(ids) == 0 {
		log.Warn().Strs("selected", d.AgentIDs).Msg("No valid agents selected, falling back to full roster")
		return models.RoutingDecision{
			AgentIDs:   tr.roster.IDs(),
			Reasoning:  "fallback: no valid agents selected; " + d.Reasoning,
			IsTargeted: false,
			Confidence: math.Min(d.Confidence/2, fallbackConfidenceCap),
			Intent:     d.Intent,
		}, nil
	}

	d.AgentIDs = ids
	return d, nil
}

// RouteAgentReply classifies an agent's reply. The replying agent is never
// selected, and an empty selection is a valid outcome.
func (tr *TurnRouter) RouteAgentReply(ctx context.Context, agentID, text string) (models.RoutingDecision, error) {
	d, err := tr.classifier.ClassifyAgentReply(ctx, agentID, text)
	if err != nil {
		return models.RoutingDecision{}, err
	}
	d.AgentIDs = tr.validate(d.AgentIDs, agentID)
	d.IsTargeted = len(d.AgentIDs) > 0
	return d, nil
}

// validate resolves ids against the roster, preserving their order and
// dropping unknowns, duplicates, and exclude.
func (tr *TurnRouter) validate(ids []string, exclude string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, raw := range ids {
		id, ok := tr.roster.Resolve(raw)
		if !ok {
			log.Debug().Str("id", raw).Msg("Dropped unknown agent id")
			continue
		}
		if id == exclude || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
