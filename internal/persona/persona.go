// Package persona supplies the per-agent prompt material and the entity
// highlighter that decorates finished turns.
package persona

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/agentoven/huddle/internal/roster"
	"github.com/agentoven/huddle/pkg/models"
)

// Provider returns prompt material for an agent.
type Provider interface {
	Persona(agentID string) string
	DomainContext(agentID string) string
}

// Highlighter extracts knowledge-entity highlights from a finished turn.
type Highlighter interface {
	Highlight(agentID, text string) map[string]interface{}
}

// Static serves persona text loaded with the team file.
type Static struct {
	personas map[string]string
	contexts map[string]string
	agents   map[string]models.Agent
}

// NewStatic indexes the persona and domain context of every agent in f.
func NewStatic(f *roster.File) *Static {
	s := &Static{
		personas: make(map[string]string, len(f.Agents)),
		contexts: make(map[string]string, len(f.Agents)),
		agents:   make(map[string]models.Agent, len(f.Agents)),
	}
	for _, e := range f.Agents {
		id := strings.ToLower(e.ID)
		s.personas[id] = e.Persona
		s.contexts[id] = e.DomainContext
		s.agents[id] = e.Agent
	}
	return s
}

// Persona returns the agent's system persona, generating a plain one from
// the roster entry when the file has none.
func (s *Static) Persona(agentID string) string {
	if p := s.personas[agentID]; p != "" {
		return p
	}
	a, ok := s.agents[agentID]
	if !ok {
		return ""
	}
	return fmt.Sprintf("You are %s, the team's %s. Your expertise: %s.", a.Name, a.Title, strings.Join(a.Expertise, ", "))
}

// DomainContext returns the agent's domain context, possibly empty.
func (s *Static) DomainContext(agentID string) string {
	return s.contexts[agentID]
}

// KeywordHighlighter matches known entity names as whole words.
type KeywordHighlighter struct {
	entities []entity
}

type entity struct {
	name  string
	owner string
	re    *regexp.Regexp
}

// NewKeywordHighlighter collects the entities declared for every agent.
func NewKeywordHighlighter(f *roster.File) *KeywordHighlighter {
	h := &KeywordHighlighter{}
	seen := map[string]bool{}
	for _, e := range f.Agents {
		for _, name := range e.Entities {
			key := strings.ToLower(name)
			if name == "" || seen[key] {
				continue
			}
			seen[key] = true
			h.entities = append(h.entities, entity{
				name:  name,
				owner: strings.ToLower(e.ID),
				re:    regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(name) + `\b`),
			})
		}
	}
	return h
}

// Highlight returns {"entities": [...], "own": [...]} for the entities in
// text, or nil when none match. "own" lists the entities in the speaking
// agent's domain.
func (h *KeywordHighlighter) Highlight(agentID, text string) map[string]interface{} {
	var all, own []string
	for _, e := range h.entities {
		if !e.re.MatchString(text) {
			continue
		}
		all = append(all, e.name)
		if e.owner == agentID {
			own = append(own, e.name)
		}
	}
	if len(all) == 0 {
		return nil
	}
	sort.Strings(all)
	sort.Strings(own)
	out := map[string]interface{}{"entities": all}
	if len(own) > 0 {
		out["own"] = own
	}
	return out
}

var (
	_ Provider    = (*Static)(nil)
	_ Highlighter = (*KeywordHighlighter)(nil)
)
