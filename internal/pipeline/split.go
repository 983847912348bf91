package pipeline

import (
	"regexp"
	"strings"
)

var questionDelimiter = regexp.MustCompile(`[?\n]+`)

// Split segments raw user input into discrete questions on question marks and
// newlines. Fragments are trimmed and empty ones dropped; fragments get their
// question mark back so re-splitting the output is a no-op. Input with no
// delimiter comes back as a single question.
func Split(input string) []string {
	if !strings.ContainsAny(input, "?\n") {
		return []string{strings.TrimSpace(input)}
	}
	parts := questionDelimiter.Split(input, -1)

	questions := make([]string, 0, len(parts))
	for _, part := range parts {
		cleaned := strings.TrimSpace(part)
		if cleaned == "" {
			continue
		}
		if !strings.HasSuffix(cleaned, "?") {
			cleaned += "?"
		}
		questions = append(questions, cleaned)
	}
	if len(questions) == 0 {
		return []string{strings.TrimSpace(input)}
	}
	return questions
}
