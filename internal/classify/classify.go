// Package classify infers turn completion and content type from the raw,
// unstructured output of an external coding-agent process.
//
// Agents emit no structured end-of-turn signal, so completion must be
// guessed from the text itself (closing code fences, sentence boundaries,
// checklist glyphs) and from silence on the stream. Classification is a
// pure function of (buffer, elapsed-since-last-byte): no processes are
// spawned and no clocks are read, which keeps every heuristic unit-testable.
package classify

import (
	"regexp"
	"strings"
	"time"
)

// ResponseType categorizes the dominant content of a completed response.
type ResponseType int

const (
	// TypeText is plain prose with no stronger signal.
	TypeText ResponseType = iota

	// TypeError means the response contains error messages.
	TypeError

	// TypeWarning means the response contains warnings but no errors.
	TypeWarning

	// TypeProgress means the response reports progress (percentages, step counters).
	TypeProgress

	// TypeThinking means the agent is reasoning aloud rather than producing results.
	TypeThinking

	// TypeMixed means the response combines code blocks with described actions.
	TypeMixed

	// TypeCode means the response is dominated by code blocks.
	TypeCode

	// TypeFileOperation means the response reports files created or modified.
	TypeFileOperation

	// TypeAction means the response describes actions taken (running, installing).
	TypeAction
)

// String returns a human-readable name for the response type.
func (t ResponseType) String() string {
	switch t {
	case TypeText:
		return "text"
	case TypeError:
		return "error"
	case TypeWarning:
		return "warning"
	case TypeProgress:
		return "progress"
	case TypeThinking:
		return "thinking"
	case TypeMixed:
		return "mixed"
	case TypeCode:
		return "code"
	case TypeFileOperation:
		return "file_operation"
	case TypeAction:
		return "action"
	default:
		return "unknown"
	}
}

// CodeBlock is a fenced code block extracted from a response.
type CodeBlock struct {
	Language string
	Code     string
}

// FileOperation records a file the agent reported creating or modifying.
type FileOperation struct {
	Action string // "created" or "modified"
	Path   string
}

// ProgressMarker records a progress indication found in the output.
type ProgressMarker struct {
	Percent int // -1 when the marker is a step counter without a percentage
	Step    int
	Total   int
	Raw     string
}

// Content is the parsed view of a completed response.
type Content struct {
	Type       ResponseType
	Text       string // main prose with code blocks and inline code removed
	CodeBlocks []CodeBlock
	FileOps    []FileOperation
	Errors     []string
	Warnings   []string
	Progress   []ProgressMarker
	URLs       []string
	WordCount  int
	LineCount  int
	ReadTime   time.Duration
}

// Result is the outcome of classifying one output buffer. It is computed
// per response cycle and never persisted.
type Result struct {
	IsComplete bool
	Confidence float64
	Reason     string
	Content    *Content // nil unless IsComplete
}

// Classifier applies an injected rule table to output buffers. Safe for
// concurrent use; all state is immutable after construction.
type Classifier struct {
	rules      Rules
	completion []compiledPattern
	sentenceRe *regexp.Regexp
}

// New creates a classifier with the given rule table.
func New(rules Rules) *Classifier {
	return &Classifier{
		rules:      rules,
		completion: compileCompletion(rules.Completion),
		sentenceRe: regexp.MustCompile(`[^.!?]+[.!?]`),
	}
}

// Classify decides whether the accumulated buffer represents a complete
// agent turn, given the elapsed time since the last byte arrived.
//
// Completion is declared if ANY of the following hold, in priority order:
//  1. A completion regex from the rule table matches (highest-confidence
//     match wins).
//  2. The buffer's fenced code blocks are all closed and at least one exists.
//  3. Two or more complete sentences exist and the text ends with a
//     natural-language ending phrase.
//  4. Silence has exceeded the configured threshold, with confidence
//     scaled by buffer length.
//
// On completion the buffer is also parsed into a Content value.
func (c *Classifier) Classify(buffer []byte, sinceLastByte time.Duration) Result {
	text := StripAnsi(string(buffer))

	if res, ok := c.matchCompletion(text); ok {
		res.Content = c.extract(text)
		return res
	}

	if hasClosedFences(text) {
		res := Result{IsComplete: true, Confidence: 0.9, Reason: "closed_code_fence"}
		res.Content = c.extract(text)
		return res
	}

	if conf, ok := c.matchSentenceEnding(text); ok {
		res := Result{IsComplete: true, Confidence: conf, Reason: "natural_ending"}
		res.Content = c.extract(text)
		return res
	}

	if sinceLastByte >= c.rules.SilenceThreshold {
		res := Result{
			IsComplete: true,
			Confidence: silenceConfidence(len(text)),
			Reason:     "silence_timeout",
		}
		res.Content = c.extract(text)
		return res
	}

	return Result{}
}

// matchCompletion tests the buffer against every completion pattern and
// returns the highest-confidence match.
func (c *Classifier) matchCompletion(text string) (Result, bool) {
	if text == "" {
		return Result{}, false
	}

	best := Result{}
	for _, p := range c.completion {
		if p.confidence > best.Confidence && p.re.MatchString(text) {
			best = Result{IsComplete: true, Confidence: p.confidence, Reason: p.reason}
		}
	}
	return best, best.IsComplete
}

// matchSentenceEnding applies the sentence-boundary heuristic: enough
// complete sentences, with the text ending on a known ending phrase.
// Confidence grows with sentence count, from 0.6 up to 0.85.
func (c *Classifier) matchSentenceEnding(text string) (float64, bool) {
	sentences := c.sentenceRe.FindAllString(text, -1)
	if len(sentences) < c.rules.MinSentences {
		return 0, false
	}

	tail := strings.ToLower(text)
	if len(tail) > 200 {
		tail = tail[len(tail)-200:]
	}
	for _, phrase := range c.rules.EndingPhrases {
		if strings.Contains(tail, phrase) {
			conf := 0.6 + 0.05*float64(len(sentences))
			if conf > 0.85 {
				conf = 0.85
			}
			return conf, true
		}
	}
	return 0, false
}

// silenceConfidence scales silence-path confidence with buffer length:
// an empty buffer yields the floor (0.5), a long buffer the ceiling (0.8).
func silenceConfidence(bufLen int) float64 {
	scale := float64(bufLen) / 2000
	if scale > 1 {
		scale = 1
	}
	return 0.5 + 0.3*scale
}

// hasClosedFences reports whether the buffer contains at least one fenced
// code block and every fence delimiter is paired.
func hasClosedFences(text string) bool {
	count := strings.Count(text, "```")
	return count >= 2 && count%2 == 0
}
