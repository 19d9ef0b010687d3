// Package consensus estimates how much a think-tank round converged. The
// score is a keyword heuristic, not a semantic judgement: it counts
// agreement and conflict phrases in the latest round.
package consensus

import (
	"regexp"

	"github.com/agentoven/huddle/pkg/models"
)

const (
	// Neutral is the score of a round with no signal either way.
	Neutral = 0.5
	// Bonus is added when at least BonusMinAgents spoke and agreement
	// phrases appeared at least BonusMinAgreements times.
	Bonus              = 0.2
	BonusMinAgents     = 3
	BonusMinAgreements = 2
)

var (
	agreementPhrases = []string{
		"i agree", "agreed", "building on", "aligns with", "great point",
		"good point", "exactly", "on the same page", "well said",
	}
	conflictPhrases = []string{
		"however", "instead", "disagree", "on the other hand", "not convinced",
		"concern", "concerns", "alternatively", "push back",
	}

	agreementRE = phraseRegexp(agreementPhrases)
	conflictRE  = phraseRegexp(conflictPhrases)
	plusOneRE   = regexp.MustCompile(`(?:^|\s)\+1\b`)
)

// phraseRegexp matches any phrase as whole words, so "disagree" never
// counts as "agree".
func phraseRegexp(phrases []string) *regexp.Regexp {
	expr := `(?i)\b(?:`
	for i, p := range phrases {
		if i > 0 {
			expr += "|"
		}
		expr += regexp.QuoteMeta(p)
	}
	return regexp.MustCompile(expr + `)\b`)
}

// Counts holds the raw signal behind a score.
type Counts struct {
	Agreements int
	Conflicts  int
	Agents     int
}

// Count tallies agreement and conflict phrases and distinct speakers in a
// round. Error turns carry no opinion and are skipped.
func Count(round []models.Turn) Counts {
	var c Counts
	speakers := map[string]bool{}
	for _, t := range round {
		if t.Role != models.RoleAgent || t.IsError() {
			continue
		}
		speakers[t.AgentID] = true
		c.Agreements += len(agreementRE.FindAllStringIndex(t.Content, -1))
		c.Agreements += len(plusOneRE.FindAllStringIndex(t.Content, -1))
		c.Conflicts += len(conflictRE.FindAllStringIndex(t.Content, -1))
	}
	c.Agents = len(speakers)
	return c
}

// Score returns a value in [0, 1]: agreements / (agreements + conflicts),
// Neutral with no signal, plus Bonus (capped at 1) for broad agreement.
// prev is accepted so callers can pass consecutive rounds; the formula
// only reads curr.
func Score(prev, curr []models.Turn) float64 {
	_ = prev
	return FromCounts(Count(curr))
}

// FromCounts applies the scoring formula to pre-computed counts.
func FromCounts(c Counts) float64 {
	score := Neutral
	if total := c.Agreements + c.Conflicts; total > 0 {
		score = float64(c.Agreements) / float64(total)
	}
	if c.Agents >= BonusMinAgents && c.Agreements >= BonusMinAgreements {
		score += Bonus
	}
	if score > 1 {
		score = 1
	}
	return score
}
