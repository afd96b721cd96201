package classify

import (
	"regexp"
	"strings"
)

// sessionIDPatterns match the formats agent binaries use to surface their
// conversation session ID. The ID works with resume-style flags on later
// invocations.
var sessionIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)Session:\s*([a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12})`),
	regexp.MustCompile(`(?i)session[:\s]+([a-f0-9]{32,36})`),
	regexp.MustCompile(`(?i)Resuming session\s+([a-f0-9-]{32,36})`),
	regexp.MustCompile(`"session_id":\s*"([a-f0-9-]{32,36})"`),
}

// ExtractSessionID scans raw agent output for a conversation session ID.
// Returns the empty string when none is present.
func ExtractSessionID(output []byte) string {
	if len(output) == 0 {
		return ""
	}
	text := StripAnsi(string(output))
	for _, pattern := range sessionIDPatterns {
		if m := pattern.FindStringSubmatch(text); len(m) >= 2 {
			id := strings.TrimSpace(m[1])
			if validSessionID(id) {
				return id
			}
		}
	}
	return ""
}

func validSessionID(id string) bool {
	if len(id) < 32 || len(id) > 36 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'f':
		case r >= '0' && r <= '9':
		case r == '-':
		default:
			return false
		}
	}
	return true
}

// LastLines returns the final n lines of text, preserving order. Pattern
// matching on large buffers only needs the tail.
func LastLines(text string, n int) string {
	if n <= 0 {
		return ""
	}
	lines := strings.Split(text, "\n")
	if len(lines) <= n {
		return text
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
