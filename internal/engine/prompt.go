package engine

import (
	"fmt"
	"strings"

	"github.com/agentoven/huddle/pkg/models"
)

const (
	groupInstructions = `You are in a live group chat with the user and your teammates.
Keep replies conversational and short (2-4 sentences).
To bring a teammate in, address them by name and ask them a direct question.
Mentioning or thanking a teammate does not hand the conversation to them.`

	conferenceInstructions = `You are in a conference discussion. Everyone speaks exactly once.
Build on what the user and your colleagues already said; do not repeat them.
Do not hand the floor to anyone or ask teammates to respond.`

	thinkTankInstructions = `You are in a think-tank discussion, round %d of %d.
Give your expert view, then build on or challenge the points already made.
Say plainly when you agree ("I agree", "building on") or disagree ("however", "instead").
Cite the knowledge you rely on in brackets, for example [Technology: Kafka] or [Project: Data Platform].`

	synthesisInstructions = `The think-tank discussion is over. As the team lead, write the closing synthesis:
summarize the key points of agreement, the open disagreements, and a concrete recommendation.
Credit teammates by name. Do not ask anyone to respond.`
)

// agentPrompt builds the messages for a regular turn: a system message
// with persona and rules, and one user message holding the transcript.
func (e *Engine) agentPrompt(p *pass, agent models.Agent) []models.ChatMessage {
	var sys strings.Builder
	e.writePersona(&sys, agent)

	switch p.mode {
	case models.ModeConference:
		sys.WriteString(conferenceInstructions)
	case models.ModeThinkTank:
		fmt.Fprintf(&sys, thinkTankInstructions, p.round, p.maxRounds)
	default:
		sys.WriteString(groupInstructions)
	}
	sys.WriteString("\n\n")
	e.writeTeammates(&sys, agent)
	if hint := e.intentHint(p, agent); hint != "" {
		sys.WriteString("\n")
		sys.WriteString(hint)
	}

	var user strings.Builder
	writeTranscript(&user, p)
	fmt.Fprintf(&user, "\nRespond as %s.", agent.Name)

	return []models.ChatMessage{
		{Role: "system", Content: strings.TrimSpace(sys.String())},
		{Role: "user", Content: user.String()},
	}
}

// synthesisPrompt builds the leader's closing turn from the whole
// discussion of the pass.
func (e *Engine) synthesisPrompt(p *pass, leader models.Agent) []models.ChatMessage {
	var sys strings.Builder
	e.writePersona(&sys, leader)
	sys.WriteString(synthesisInstructions)

	var user strings.Builder
	writeTranscript(&user, p)
	user.WriteString("\nWrite the synthesis now.")

	return []models.ChatMessage{
		{Role: "system", Content: strings.TrimSpace(sys.String())},
		{Role: "user", Content: user.String()},
	}
}

func (e *Engine) writePersona(b *strings.Builder, agent models.Agent) {
	persona := ""
	domain := ""
	if e.personas != nil {
		persona = e.personas.Persona(agent.ID)
		domain = e.personas.DomainContext(agent.ID)
	}
	if persona == "" {
		persona = fmt.Sprintf("You are %s, %s.", agent.Name, agent.Title)
	}
	b.WriteString(persona)
	b.WriteString("\n\n")
	if domain != "" {
		b.WriteString("Your background:\n")
		b.WriteString(strings.TrimSpace(domain))
		b.WriteString("\n\n")
	}
}

func (e *Engine) writeTeammates(b *strings.Builder, self models.Agent) {
	var mates []string
	for _, a := range e.roster.Agents() {
		if a.ID == self.ID {
			continue
		}
		mates = append(mates, fmt.Sprintf("%s (%s)", a.Name, a.Title))
	}
	if len(mates) > 0 {
		fmt.Fprintf(b, "Your teammates: %s.\n", strings.Join(mates, ", "))
	}
}

func (e *Engine) intentHint(p *pass, agent models.Agent) string {
	d := p.decision
	switch d.Intent {
	case models.IntentGreeting:
		if agent.ID == e.roster.LeaderID() {
			return "The user is greeting the team. Welcome them warmly and introduce the team in a sentence or two."
		}
		return "The user only greeted the team. Stay silent beyond a one-line hello unless you are asked something directly."
	case models.IntentExplicitMention:
		for _, id := range d.AgentIDs {
			if id == agent.ID {
				return "The user addressed you directly. Answer them yourself."
			}
		}
	case models.IntentTeamActivation:
		return "The user asked to hear from the whole team. Give your own perspective."
	}
	return ""
}

// writeTranscript renders the history window, the live user message and
// every turn produced so far in this pass, oldest first.
func writeTranscript(b *strings.Builder, p *pass) {
	if len(p.history) > 0 {
		b.WriteString("Earlier conversation:\n")
		for _, t := range p.history {
			fmt.Fprintf(b, "%s: %s\n", t.Speaker(), t.Content)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(b, "User: %s\n", p.userText)
	for _, t := range p.turns {
		fmt.Fprintf(b, "\n%s: %s\n", t.Speaker(), t.Content)
	}
}
