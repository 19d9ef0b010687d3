package engine

import (
	"regexp"
	"strings"

	"github.com/agentoven/huddle/pkg/models"
)

var citationRE = regexp.MustCompile(`\[([^\[\]\n]{1,120})\]`)

// ParseCitations extracts "[Type: Name]" and "[Name]" references in order
// of appearance. Markdown links and repeated references are skipped.
func ParseCitations(text string) []models.Citation {
	var out []models.Citation
	seen := map[string]bool{}
	for _, m := range citationRE.FindAllStringSubmatchIndex(text, -1) {
		if m[1] < len(text) && text[m[1]] == '(' {
			continue
		}
		original := text[m[0]:m[1]]
		inner := strings.TrimSpace(text[m[2]:m[3]])
		if inner == "" || seen[original] {
			continue
		}
		seen[original] = true

		c := models.Citation{Name: inner, Original: original}
		if typ, name, ok := strings.Cut(inner, ":"); ok {
			typ, name = strings.TrimSpace(typ), strings.TrimSpace(name)
			if typ != "" && name != "" {
				c.Type, c.Name = typ, name
			}
		}
		out = append(out, c)
	}
	return out
}
