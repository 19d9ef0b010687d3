// Package mention finds lexical references to roster agents in free text.
// It favors recall: a false positive only costs one classifier call, while
// a false negative silently drops a hand-off.
package mention

import (
	"regexp"
	"sort"
	"strings"

	"github.com/agentoven/huddle/internal/roster"
)

// greetingOpeners are the salutations that may directly precede an address.
const greetingOpeners = `hey|hi|hiya|hello|yo|howdy|greetings|` +
	`good (?:morning|afternoon|evening|day)|how are you|how'?s it going|what'?s up|` +
	`nice to meet you`

// Scanner matches every agent's address patterns. Patterns are compiled
// once from the roster, so a Scanner is safe for concurrent use.
type Scanner struct {
	patterns []agentPattern
}

type agentPattern struct {
	id   string
	re   *regexp.Regexp
	word *regexp.Regexp
}

// match is a single agent reference found in text.
type match struct {
	agentID string
	index   int
}

// New compiles the address patterns for every agent on r.
//
// An agent is referenced when, case-insensitively, the text contains
// "@first" or "@id", the first name followed by a comma or colon, the first
// name at the start of the text, of a line or of a sentence, the first name
// right after a greeting opener (hi, howdy, good morning, how are you, ...),
// or the first name right after a comma as in "what do you think, Siddarth?".
func New(r *roster.Roster) *Scanner {
	s := &Scanner{}
	for _, a := range r.Agents() {
		first := regexp.QuoteMeta(a.FirstName())
		tokens := first
		if id := regexp.QuoteMeta(a.ID); id != first {
			tokens = first + "|" + id
		}
		expr := `(?im)` +
			`@(?:` + tokens + `)\b` +
			`|\b` + first + `\s*[,:]` +
			`|^[\s"'*_>-]*` + first + `\b` +
			`|[.!?]\s+` + first + `\b` +
			`|\b(?:` + greetingOpeners + `)[,!]?\s+` + first + `\b` +
			`|,\s*` + first + `\b`
		s.patterns = append(s.patterns, agentPattern{
			id:   a.ID,
			re:   regexp.MustCompile(expr),
			word: regexp.MustCompile(`(?i)\b(?:` + tokens + `)\b`),
		})
	}
	return s
}

// HasMentions reports whether text references at least one agent.
func (s *Scanner) HasMentions(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	for _, p := range s.patterns {
		if p.re.MatchString(text) {
			return true
		}
	}
	return false
}

// ExtractMentions returns the referenced agent ids, each at most once, in
// roster order.
func (s *Scanner) ExtractMentions(text string) []string {
	out := []string{}
	for _, p := range s.patterns {
		if p.re.MatchString(text) {
			out = append(out, p.id)
		}
	}
	return out
}

// Named returns the agents whose first name or id occurs anywhere in text
// as a whole word, addressed or not, in roster order.
func (s *Scanner) Named(text string) []string {
	out := []string{}
	for _, p := range s.patterns {
		if p.word.MatchString(text) {
			out = append(out, p.id)
		}
	}
	return out
}

// NamedInOrder is Named ordered by each agent's first whole-word
// occurrence.
func (s *Scanner) NamedInOrder(text string) []string {
	return ids(s.scan(text, func(p agentPattern) []int { return p.word.FindStringIndex(text) }))
}

// InOrder returns referenced agent ids ordered by first appearance.
func (s *Scanner) InOrder(text string) []string {
	return ids(s.scan(text, func(p agentPattern) []int { return p.re.FindStringIndex(text) }))
}

func (s *Scanner) scan(text string, find func(agentPattern) []int) []match {
	var out []match
	for _, p := range s.patterns {
		if loc := find(p); loc != nil {
			out = append(out, match{agentID: p.id, index: loc[0]})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].index < out[j].index })
	return out
}

func ids(matches []match) []string {
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.agentID
	}
	return out
}
