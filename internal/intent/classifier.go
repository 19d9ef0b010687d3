// Package intent decides which agents should respond, both to a user
// message and to another agent's reply.
package intent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/agentoven/huddle/internal/completion"
	"github.com/agentoven/huddle/internal/mention"
	"github.com/agentoven/huddle/internal/roster"
	"github.com/agentoven/huddle/pkg/models"
)

// MaxExpertiseAgents caps how many agents an expertise match may select.
const MaxExpertiseAgents = 4

const (
	historyTurns     = 3
	historyTurnChars = 200
	expertiseDomains = 5
)

var (
	ErrNoModel = errors.New("no completion model configured")
	ErrSchema  = errors.New("classifier reply does not match schema")
)

// RoutingError reports a failed classification.
type RoutingError struct {
	Op  string
	Err error
}

func (e *RoutingError) Error() string { return fmt.Sprintf("routing %s: %v", e.Op, e.Err) }

func (e *RoutingError) Unwrap() error { return e.Err }

// ReplyStrategy selects how agent replies are classified.
type ReplyStrategy string

const (
	// ReplyLLM asks the model, then drops ids the reply never names.
	ReplyLLM ReplyStrategy = "llm"
	// ReplyHeuristic is deterministic and needs no model.
	ReplyHeuristic ReplyStrategy = "heuristic"
)

// Classifier implements both classification tiers.
type Classifier struct {
	roster   *roster.Roster
	scanner  *mention.Scanner
	llm      completion.Completer
	strategy ReplyStrategy
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithReplyStrategy selects the agent-reply strategy. The default is
// ReplyLLM when a model is configured and ReplyHeuristic otherwise.
func WithReplyStrategy(s ReplyStrategy) Option {
	return func(c *Classifier) { c.strategy = s }
}

// New builds a classifier. llm may be nil, in which case expertise
// matching fails with ErrNoModel and agent replies use the heuristic.
func New(r *roster.Roster, scanner *mention.Scanner, llm completion.Completer, opts ...Option) *Classifier {
	c := &Classifier{roster: r, scanner: scanner, llm: llm, strategy: ReplyLLM}
	if llm == nil {
		c.strategy = ReplyHeuristic
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.llm == nil {
		c.strategy = ReplyHeuristic
	}
	return c
}

// Strategy returns the active agent-reply strategy.
func (c *Classifier) Strategy() ReplyStrategy { return c.strategy }

// ClassifyUserMessage routes a user message. Rules apply in priority order
// and the first match wins: an explicit address, a team activation phrase,
// a greeting, and finally an expertise match by the model.
func (c *Classifier) ClassifyUserMessage(ctx context.Context, text string, history []models.Turn) (models.RoutingDecision, error) {
	if ids := c.scanner.InOrder(text); len(ids) > 0 {
		return explicitMention(ids), nil
	}

	greeting := IsGreeting(text)
	// A name anywhere in a greeting is an address: "Good morning Siddarth".
	if greeting {
		if ids := c.scanner.NamedInOrder(text); len(ids) > 0 {
			return explicitMention(ids), nil
		}
	}

	if IsTeamActivation(text) {
		return models.RoutingDecision{
			AgentIDs:   c.roster.IDs(),
			Reasoning:  "user asked to hear from the whole team",
			IsTargeted: true,
			Confidence: 1.0,
			Intent:     models.IntentTeamActivation,
		}, nil
	}

	if greeting {
		return models.RoutingDecision{
			AgentIDs:   []string{c.roster.LeaderID()},
			Reasoning:  "greeting or introduction; the leader answers",
			IsTargeted: false,
			Confidence: 1.0,
			Intent:     models.IntentGreeting,
		}, nil
	}

	if c.llm == nil {
		return models.RoutingDecision{}, &RoutingError{Op: "classify_user", Err: ErrNoModel}
	}

	reply, err := c.llm.Complete(ctx, c.userPrompt(text, history))
	if err != nil {
		return models.RoutingDecision{}, &RoutingError{Op: "classify_user", Err: err}
	}
	parsed, err := parseReply(reply)
	if err != nil {
		return models.RoutingDecision{}, &RoutingError{Op: "classify_user", Err: err}
	}

	ids := parsed.Agents
	if len(ids) > MaxExpertiseAgents {
		ids = ids[:MaxExpertiseAgents]
	}
	targeted := true
	if parsed.IsTargeted != nil {
		targeted = *parsed.IsTargeted
	}
	return models.RoutingDecision{
		AgentIDs:   ids,
		Reasoning:  parsed.Reasoning,
		IsTargeted: targeted,
		Confidence: parsed.confidence(),
		Intent:     models.IntentExpertiseMatch,
	}, nil
}

func explicitMention(ids []string) models.RoutingDecision {
	return models.RoutingDecision{
		AgentIDs:   ids,
		Reasoning:  "user addressed " + strings.Join(ids, ", ") + " directly",
		IsTargeted: true,
		Confidence: 1.0,
		Intent:     models.IntentExplicitMention,
	}
}

// ClassifyAgentReply finds the teammates an agent actively handed off to.
// Thanks, credits, and introductions do not count, and any doubt resolves
// to an empty list.
func (c *Classifier) ClassifyAgentReply(ctx context.Context, agentID, text string) (models.RoutingDecision, error) {
	if c.strategy == ReplyHeuristic {
		ids := delegations(text, c.scanner.Named, agentID)
		return models.RoutingDecision{
			AgentIDs:   ids,
			Reasoning:  "request phrasing next to a teammate's name",
			IsTargeted: len(ids) > 0,
			Confidence: 1.0,
		}, nil
	}

	reply, err := c.llm.Complete(ctx, c.replyPrompt(agentID, text))
	if err != nil {
		return models.RoutingDecision{}, &RoutingError{Op: "classify_reply", Err: err}
	}
	parsed, err := parseReply(reply)
	if err != nil {
		return models.RoutingDecision{}, &RoutingError{Op: "classify_reply", Err: err}
	}

	named := map[string]bool{}
	for _, id := range c.scanner.Named(text) {
		named[id] = true
	}
	var ids []string
	for _, raw := range parsed.Agents {
		id, ok := c.roster.Resolve(raw)
		if !ok || id == agentID || !named[id] {
			log.Debug().Str("agent", agentID).Str("dropped", raw).Msg("Dropped unsupported hand-off")
			continue
		}
		ids = append(ids, id)
	}

	return models.RoutingDecision{
		AgentIDs:   ids,
		Reasoning:  parsed.Reasoning,
		IsTargeted: len(ids) > 0,
		Confidence: parsed.confidence(),
	}, nil
}

func (c *Classifier) userPrompt(text string, history []models.Turn) []models.ChatMessage {
	var sb strings.Builder
	sb.WriteString("You route user messages to the most relevant members of an expert team.\n\nTeam:\n")
	for _, a := range c.roster.Agents() {
		domains := a.Expertise
		if len(domains) > expertiseDomains {
			domains = domains[:expertiseDomains]
		}
		fmt.Fprintf(&sb, "- %s (%s, %s): %s\n", a.ID, a.Name, a.Title, strings.Join(domains, ", "))
	}
	fmt.Fprintf(&sb, "\nPick between 1 and %d agents whose expertise best fits the message. "+
		"Prefer fewer agents for narrow questions.\n", MaxExpertiseAgents)
	sb.WriteString(schemaInstructions)

	if len(history) > 0 {
		start := len(history) - historyTurns
		if start < 0 {
			start = 0
		}
		sb.WriteString("\nRecent conversation:\n")
		for _, t := range history[start:] {
			fmt.Fprintf(&sb, "%s: %s\n", t.Speaker(), truncate(t.Content, historyTurnChars))
		}
	}

	return []models.ChatMessage{
		{Role: "system", Content: sb.String()},
		{Role: "user", Content: text},
	}
}

func (c *Classifier) replyPrompt(agentID, text string) []models.ChatMessage {
	var sb strings.Builder
	sb.WriteString("You read one team member's chat reply and list the teammates it actively asks to respond.\n\nTeam ids:\n")
	for _, a := range c.roster.Agents() {
		if a.ID == agentID {
			continue
		}
		fmt.Fprintf(&sb, "- %s (%s)\n", a.ID, a.Name)
	}
	sb.WriteString(`
A teammate counts only when the reply asks them to do something: a question, a request, or an explicit hand-off.
Thanks, agreement, credit, and introductions are NOT hand-offs. When in doubt, return an empty list.

Examples:
"@mathew, can you estimate the storage cost?" -> {"agents":["mathew"]}
"Great point from Shreyas about the rollout." -> {"agents":[]}
"Our team includes Mathew and Siddarth." -> {"agents":[]}
"Thanks Rahil. Building on that, the cache should be regional." -> {"agents":[]}
"Siddarth, what do you think about the retry policy?" -> {"agents":["siddarth"]}
`)
	sb.WriteString(schemaInstructions)

	return []models.ChatMessage{
		{Role: "system", Content: sb.String()},
		{Role: "user", Content: text},
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
