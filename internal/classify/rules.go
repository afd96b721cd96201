package classify

import (
	"regexp"
	"time"
)

// CompletionPattern pairs a regex with the confidence tier it carries when
// it matches the tail of an agent's output buffer. The tiers are tuned
// heuristics, not derived constants, so they live in configuration rather
// than in code.
type CompletionPattern struct {
	// Pattern is the regular expression tested against the buffer.
	Pattern string

	// Confidence is the score reported when the pattern matches, in [0, 1].
	Confidence float64

	// Reason is a short tag identifying which rule fired.
	Reason string
}

// Rules is the injectable pattern/threshold table driving completion
// detection. Tests construct custom Rules to exercise edge cases
// deterministically; production code uses DefaultRules or QuickRules.
type Rules struct {
	// Completion lists regex rules checked against the buffer tail.
	// When several match, the highest-confidence match wins.
	Completion []CompletionPattern

	// EndingPhrases are natural-language phrases that suggest an agent
	// finished its turn ("let me know", "hope this helps", ...).
	EndingPhrases []string

	// SilenceThreshold is how long the stream must be quiet before the
	// silence path declares completion.
	SilenceThreshold time.Duration

	// MinSentences is how many complete sentences must exist before the
	// sentence-boundary heuristic applies.
	MinSentences int
}

// Default silence thresholds. Quick mode trades accuracy for latency and
// is used for short probe-style exchanges such as health checks.
const (
	DefaultSilenceThreshold = 3 * time.Second
	QuickSilenceThreshold   = 2 * time.Second
)

// DefaultRules returns the standard completion rule table.
func DefaultRules() Rules {
	return Rules{
		Completion: []CompletionPattern{
			// A properly closed fenced code block ending the buffer is the
			// strongest unstructured completion signal an agent gives.
			{Pattern: "(?s)```[a-zA-Z0-9+#_-]*\n.*?```\\s*$", Confidence: 0.9, Reason: "closed_code_fence"},
			// Checklist glyphs mark finished step lists.
			{Pattern: `(?m)(?:✅|✓|\[x\])\s*$`, Confidence: 0.8, Reason: "checklist"},
			// Horizontal separators commonly close a summary section.
			{Pattern: `(?m)^(?:-{3,}|={3,}|_{3,})\s*$`, Confidence: 0.75, Reason: "separator"},
			// Sentence-final punctuation at the end of the buffer.
			{Pattern: `[.!?]\s*$`, Confidence: 0.7, Reason: "sentence_punctuation"},
			// A bare trailing newline is the weakest positive signal.
			{Pattern: `\n\s*$`, Confidence: 0.6, Reason: "trailing_newline"},
		},
		EndingPhrases: []string{
			"let me know",
			"hope this helps",
			"anything else",
			"feel free to",
			"is there anything",
			"all set",
			"all done",
			"task complete",
			"finished implementing",
			"changes are complete",
		},
		SilenceThreshold: DefaultSilenceThreshold,
		MinSentences:     2,
	}
}

// QuickRules returns the default rule table with the shorter quick-mode
// silence threshold.
func QuickRules() Rules {
	r := DefaultRules()
	r.SilenceThreshold = QuickSilenceThreshold
	return r
}

// compiledPattern is a completion rule with its regex pre-compiled.
type compiledPattern struct {
	re         *regexp.Regexp
	confidence float64
	reason     string
}

// compileCompletion compiles a rule table, skipping invalid patterns.
func compileCompletion(patterns []CompletionPattern) []compiledPattern {
	compiled := make([]compiledPattern, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			continue
		}
		compiled = append(compiled, compiledPattern{
			re:         re,
			confidence: p.Confidence,
			reason:     p.Reason,
		})
	}
	return compiled
}
