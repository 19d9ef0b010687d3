package intent

import (
	"regexp"
	"strings"
)

var teamActivationPatterns = compileAll(
	`bring in (the )?team`,
	`bring (the )?team in`,
	`bring everyone in`,
	`let'?s hear from (everyone|all|the (whole )?team)`,
	`i want to (talk to|hear from|meet) (everyone|all of you|the team)`,
	`involve (the )?team`,
	`get (the )?team (in|involved)`,
	`call in (the )?team`,
	`loop in (everyone|the team)`,
	`\ball of you\b`,
	`\beveryone (weigh|chime) in\b`,
)

var greetingPatterns = compileAll(
	// bare greetings
	`^(hi|hello|hey|greetings|good (morning|afternoon|evening))[\s!,.]*$`,
	`^(hi|hello|hey)\s+(there|everyone|team|guys|folks|all)[\s!,.]*$`,
	`\bhowdy\b`,
	// small talk
	`how are you`,
	`how'?s it going`,
	`what'?s up`,
	`how do you do`,
	`nice to meet`,
	// introductions
	`tell me about (yourself|yourselves|your team|the team)`,
	`who are you`,
	`^what do you (all )?do[\s?!.]*$`,
	`introduce (yourself|yourselves)`,
	`what can you (tell me|help with)`,
)

// IsTeamActivation reports whether text explicitly asks for the whole team.
func IsTeamActivation(text string) bool {
	return matchAny(teamActivationPatterns, normalize(text))
}

// IsGreeting reports whether text is a greeting, small talk, or a request
// for introductions.
func IsGreeting(text string) bool {
	return matchAny(greetingPatterns, normalize(text))
}

func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(strings.ReplaceAll(text, "’", "'")))
}

func compileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

func matchAny(patterns []*regexp.Regexp, s string) bool {
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// ── Agent reply heuristics ───────────────────────────────────

var (
	sentencePattern = regexp.MustCompile(`[^.!?\n]+[.!?]*`)

	// Phrases that ask a teammate to act.
	requestPattern = regexp.MustCompile(`(?i)\?|\b(can you|could you|would you|will you|please|over to you|your (take|thoughts|view|perspective)|what do you think|weigh in|chime in|take it from here|walk us through|care to|want to add|can we get|i'?d love to hear|let'?s hear from)\b`)

	// Phrases that only refer to a teammate.
	passivePattern = regexp.MustCompile(`(?i)\b(thanks|thank you|great point|good point|well said|as \w+ (said|mentioned|noted|pointed out)|like \w+ said|building on|builds on|agree with|our team includes|team includes|meet (our|the|my)|introduce|joined by|along with|alongside|credit to)\b`)
)

// delegations returns the agents actively asked to respond in text. Each
// sentence is judged on its own: it hands off only when it names a teammate
// and carries a request without any passive marker. Anything else, a bare
// name followed by a question included, resolves to no hand-off.
func delegations(text string, mentioned func(string) []string, self string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range sentencePattern.FindAllString(text, -1) {
		if !requestPattern.MatchString(s) || passivePattern.MatchString(s) {
			continue
		}
		for _, id := range mentioned(s) {
			if id == self || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
