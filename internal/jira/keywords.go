package jira

import "strings"

// stopwords excluded from duplicate-search keywords. Short and common
// words produce noisy JQL matches.
var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true,
	"this": true, "from": true, "when": true, "then": true, "have": true,
	"not": true, "but": true, "are": true, "was": true, "can": true,
	"cannot": true, "does": true, "doesn": true, "should": true,
	"while": true, "after": true, "before": true, "into": true,
	"error": true, "issue": true, "bug": true,
}

// maxKeywords caps the number of JQL clauses per duplicate search.
const maxKeywords = 5

// extractKeywords pulls significant search terms from free text:
// lowercase, length > 3, not a stopword, deduplicated, first-seen order.
func extractKeywords(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, raw := range strings.Fields(strings.ToLower(text)) {
		word := strings.Trim(raw, `.,;:!?"'()[]{}<>`)
		if len(word) <= 3 || stopwords[word] || seen[word] {
			continue
		}
		seen[word] = true
		out = append(out, word)
		if len(out) == maxKeywords {
			break
		}
	}
	return out
}

// escapeJQL escapes quotes and backslashes inside a JQL string literal.
func escapeJQL(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}
