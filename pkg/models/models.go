package models

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ── Agent ────────────────────────────────────────────────────

// Agent is one persona on the team. Agents are loaded once at startup and
// never change afterwards.
type Agent struct {
	ID        string   `json:"id" yaml:"id"`
	Name      string   `json:"name" yaml:"name"`
	Title     string   `json:"title" yaml:"title"`
	Expertise []string `json:"expertise,omitempty" yaml:"expertise"`
	Voice     string   `json:"voice,omitempty" yaml:"voice"`
	Color     string   `json:"color,omitempty" yaml:"color"`
}

// FirstName is the lower-cased first word of the agent's display name.
// It falls back to the id when the name is empty.
func (a Agent) FirstName() string {
	fields := strings.Fields(a.Name)
	if len(fields) == 0 {
		return strings.ToLower(a.ID)
	}
	return strings.ToLower(fields[0])
}

// DisplayFirstName is FirstName with its original casing.
func (a Agent) DisplayFirstName() string {
	fields := strings.Fields(a.Name)
	if len(fields) == 0 {
		return a.ID
	}
	return fields[0]
}

// ── Turns ────────────────────────────────────────────────────

// Role identifies who produced a turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Well-known Turn.Metadata keys.
const (
	MetaMode       = "mode"
	MetaRound      = "round"
	MetaError      = "error"
	MetaCitations  = "citations"
	MetaHighlights = "highlights"
	MetaSynthesis  = "synthesis"
	MetaPassID     = "pass_id"
)

// Turn is a single message in a session transcript. Build turns with
// NewUserTurn or NewAgentTurn; Seq is assigned by the session store.
type Turn struct {
	ID        string                 `json:"id"`
	Seq       int                    `json:"seq"`
	Role      Role                   `json:"role"`
	AgentID   string                 `json:"agent_id,omitempty"`
	AgentName string                 `json:"agent_name,omitempty"`
	Content   string                 `json:"content"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// NewUserTurn creates a turn authored by the human user.
func NewUserTurn(content string) Turn {
	return Turn{
		ID:        uuid.NewString(),
		Role:      RoleUser,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewAgentTurn creates a turn authored by the given agent.
func NewAgentTurn(agent Agent, content string) Turn {
	return Turn{
		ID:        uuid.NewString(),
		Role:      RoleAgent,
		AgentID:   agent.ID,
		AgentName: agent.Name,
		Content:   content,
		Timestamp: time.Now(),
		Metadata:  map[string]interface{}{},
	}
}

var (
	ErrAgentTurnWithoutAgent = errors.New("agent turn requires an agent id")
	ErrUserTurnWithAgent     = errors.New("user turn must not carry an agent id")
	ErrUnknownRole           = errors.New("unknown turn role")
)

// Validate checks the role/agent pairing.
func (t Turn) Validate() error {
	switch t.Role {
	case RoleUser:
		if t.AgentID != "" {
			return ErrUserTurnWithAgent
		}
	case RoleAgent:
		if t.AgentID == "" {
			return ErrAgentTurnWithoutAgent
		}
	default:
		return ErrUnknownRole
	}
	return nil
}

// Speaker is the label used when rendering the turn into a transcript.
func (t Turn) Speaker() string {
	if t.Role == RoleUser {
		return "User"
	}
	if t.AgentName != "" {
		return t.AgentName
	}
	return t.AgentID
}

// IsError reports whether the turn records a failed completion.
func (t Turn) IsError() bool {
	v, _ := t.Metadata[MetaError].(bool)
	return v
}

// Clone returns a copy that shares no mutable state with t.
func (t Turn) Clone() Turn {
	out := t
	if t.Metadata != nil {
		out.Metadata = make(map[string]interface{}, len(t.Metadata))
		for k, v := range t.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// ── Sessions ─────────────────────────────────────────────────

// Session is a conversation transcript. Values handed out by the store are
// snapshots; mutating them has no effect on the stored session.
type Session struct {
	ID         string                 `json:"id"`
	Turns      []Turn                 `json:"turns"`
	CreatedAt  time.Time              `json:"created_at"`
	LastActive time.Time              `json:"last_active"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// SessionStats summarizes a session without copying its transcript.
type SessionStats struct {
	ID          string         `json:"id"`
	TurnCount   int            `json:"turn_count"`
	UserTurns   int            `json:"user_turns"`
	AgentTurns  int            `json:"agent_turns"`
	AgentCounts map[string]int `json:"agent_counts"`
	CreatedAt   time.Time      `json:"created_at"`
	LastActive  time.Time      `json:"last_active"`
	DurationSec float64        `json:"duration_secs"`
}

// ── Routing ──────────────────────────────────────────────────

// Intent is the classified purpose of a user message.
type Intent string

const (
	IntentGreeting        Intent = "greeting"
	IntentTeamActivation  Intent = "team_activation"
	IntentExplicitMention Intent = "explicit_mention"
	IntentExpertiseMatch  Intent = "expertise_match"
)

// RoutingDecision names the agents that should respond and why. Treat it
// as a value; nothing mutates a decision after it is returned.
type RoutingDecision struct {
	AgentIDs   []string `json:"agent_ids"`
	Reasoning  string   `json:"reasoning,omitempty"`
	IsTargeted bool     `json:"is_targeted"`
	Confidence float64  `json:"confidence"`
	Intent     Intent   `json:"intent,omitempty"`
}

// Mode selects the interaction protocol for a pass.
type Mode string

const (
	ModeGroup      Mode = "group"
	ModeConference Mode = "conference"
	ModeThinkTank  Mode = "think_tank"
)

// ParseMode accepts the canonical names plus a few spellings clients use.
func ParseMode(s string) (Mode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "group", "chat", "group_chat":
		return ModeGroup, true
	case "conference":
		return ModeConference, true
	case "think_tank", "think-tank", "thinktank":
		return ModeThinkTank, true
	}
	return "", false
}

// ── Completion ───────────────────────────────────────────────

// ChatMessage is one message sent to the completion service.
type ChatMessage struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// ── Citations ────────────────────────────────────────────────

// Citation is an explicit knowledge reference such as "[Technology: Kafka]".
type Citation struct {
	Type     string `json:"type,omitempty"`
	Name     string `json:"name"`
	Original string `json:"original"`
}

// ── Streaming ────────────────────────────────────────────────

// EventType enumerates the events emitted during a pass.
type EventType string

const (
	EventRouting         EventType = "routing"
	EventAgentStart      EventType = "agent_start"
	EventAgentChunk      EventType = "agent_chunk"
	EventAgentComplete   EventType = "agent_complete"
	EventRoundStart      EventType = "round_start"
	EventCitations       EventType = "citations"
	EventConsensusUpdate EventType = "consensus_update"
	EventRoundComplete   EventType = "round_complete"
	EventSummaryStart    EventType = "summary_start"
	EventError           EventType = "error"
	EventPassComplete    EventType = "pass_complete"
)

// Pass completion reasons.
const (
	ReasonQueueEmpty   = "queue_empty"
	ReasonRoundCap     = "round_cap"
	ReasonIterationCap = "iteration_cap"
	ReasonConsensus    = "consensus"
	ReasonMaxRounds    = "max_rounds"
	ReasonCompleted    = "completed"
	ReasonError        = "error"
	ReasonCanceled     = "canceled"
)

// Event is one item of the output stream of a pass.
type Event struct {
	Type       EventType              `json:"type"`
	PassID     string                 `json:"pass_id,omitempty"`
	SessionID  string                 `json:"session_id,omitempty"`
	Mode       Mode                   `json:"mode,omitempty"`
	AgentID    string                 `json:"agent_id,omitempty"`
	AgentName  string                 `json:"agent_name,omitempty"`
	Chunk      string                 `json:"chunk,omitempty"`
	Turn       *Turn                  `json:"turn,omitempty"`
	Routing    *RoutingDecision       `json:"routing,omitempty"`
	Round      int                    `json:"round,omitempty"`
	Consensus  *float64               `json:"consensus,omitempty"`
	Citations  []Citation             `json:"citations,omitempty"`
	Highlights map[string]interface{} `json:"highlights,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Reason     string                 `json:"reason,omitempty"`
}
