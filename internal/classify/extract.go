package classify

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Extraction patterns. Compiled once at package init; all matching is done
// against ANSI-stripped text.
var (
	codeBlockRe  = regexp.MustCompile("(?s)```([a-zA-Z0-9+#_-]*)\n?(.*?)```")
	inlineCodeRe = regexp.MustCompile("`[^`\n]+`")

	fileCreatedRe  = regexp.MustCompile(`(?im)\b(?:created?|wrote|writing|added)\b(?:\s+(?:new|the|a))*\s+(?:file\s+)?['"\x60]?([\w./-]+\.\w+)['"\x60]?`)
	fileModifiedRe = regexp.MustCompile(`(?im)\b(?:modified|updated?|edited|changed)\b(?:\s+(?:the|a))*\s+(?:file\s+)?['"\x60]?([\w./-]+\.\w+)['"\x60]?`)

	errorLineRe   = regexp.MustCompile(`(?im)^.*\b(?:error|fatal|exception|failed)\b[:\s].*$`)
	warningLineRe = regexp.MustCompile(`(?im)^.*\bwarn(?:ing)?\b[:\s].*$`)

	percentRe     = regexp.MustCompile(`(\d{1,3})\s*%`)
	stepCounterRe = regexp.MustCompile(`(?i)step\s+(\d+)\s*(?:/|of)\s*(\d+)`)

	thinkingRe = regexp.MustCompile(`(?i)\b(?:thinking|let me think|let me analyze|considering|i need to figure out)\b`)
	actionRe   = regexp.MustCompile(`(?i)\b(?:running|executing|installing|building|deploying|starting|launching)\b`)

	urlRe = regexp.MustCompile(`https?://[^\s)\]>"']+`)
)

// Words-per-minute assumed for the read-time estimate.
const readWordsPerMinute = 200

// extract parses a completed response buffer into a Content value.
// The input must already be ANSI-stripped.
func (c *Classifier) extract(text string) *Content {
	content := &Content{
		CodeBlocks: extractCodeBlocks(text),
		FileOps:    extractFileOps(text),
		Errors:     dedupeLines(errorLineRe.FindAllString(text, -1)),
		URLs:       urlRe.FindAllString(text, -1),
	}

	// Error lines also match the warning regex when both words appear on
	// one line; keep warnings that are not already counted as errors.
	for _, w := range dedupeLines(warningLineRe.FindAllString(text, -1)) {
		if !containsLine(content.Errors, w) {
			content.Warnings = append(content.Warnings, w)
		}
	}

	content.Progress = extractProgress(text)
	content.Text = mainText(text)
	content.WordCount = len(strings.Fields(content.Text))
	content.LineCount = strings.Count(text, "\n") + 1
	content.ReadTime = time.Duration(float64(content.WordCount) / readWordsPerMinute * float64(time.Minute))
	content.Type = classifyType(text, content)
	return content
}

// classifyType picks the dominant response type. Priority runs from the
// most actionable signal down to plain text: error > warning > progress >
// thinking > mixed > code > file operation > action > text.
func classifyType(text string, content *Content) ResponseType {
	hasCode := len(content.CodeBlocks) > 0
	hasAction := actionRe.MatchString(text)

	switch {
	case len(content.Errors) > 0:
		return TypeError
	case len(content.Warnings) > 0:
		return TypeWarning
	case len(content.Progress) > 0:
		return TypeProgress
	case thinkingRe.MatchString(text):
		return TypeThinking
	case hasCode && hasAction:
		return TypeMixed
	case hasCode:
		return TypeCode
	case len(content.FileOps) > 0:
		return TypeFileOperation
	case hasAction:
		return TypeAction
	default:
		return TypeText
	}
}

// extractCodeBlocks returns every fenced code block with its language tag.
func extractCodeBlocks(text string) []CodeBlock {
	matches := codeBlockRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	blocks := make([]CodeBlock, 0, len(matches))
	for _, m := range matches {
		blocks = append(blocks, CodeBlock{
			Language: m[1],
			Code:     strings.TrimSuffix(m[2], "\n"),
		})
	}
	return blocks
}

// extractFileOps returns file paths the agent reported creating or modifying.
func extractFileOps(text string) []FileOperation {
	var ops []FileOperation
	seen := make(map[string]bool)

	for _, m := range fileCreatedRe.FindAllStringSubmatch(text, -1) {
		key := "created:" + m[1]
		if !seen[key] {
			seen[key] = true
			ops = append(ops, FileOperation{Action: "created", Path: m[1]})
		}
	}
	for _, m := range fileModifiedRe.FindAllStringSubmatch(text, -1) {
		key := "modified:" + m[1]
		if !seen[key] {
			seen[key] = true
			ops = append(ops, FileOperation{Action: "modified", Path: m[1]})
		}
	}
	return ops
}

// extractProgress finds percentage and step-counter progress markers.
func extractProgress(text string) []ProgressMarker {
	var markers []ProgressMarker

	for _, m := range percentRe.FindAllStringSubmatch(text, -1) {
		pct, err := strconv.Atoi(m[1])
		if err != nil || pct > 100 {
			continue
		}
		markers = append(markers, ProgressMarker{Percent: pct, Raw: m[0]})
	}
	for _, m := range stepCounterRe.FindAllStringSubmatch(text, -1) {
		step, err1 := strconv.Atoi(m[1])
		total, err2 := strconv.Atoi(m[2])
		if err1 != nil || err2 != nil {
			continue
		}
		markers = append(markers, ProgressMarker{Percent: -1, Step: step, Total: total, Raw: m[0]})
	}
	return markers
}

// mainText returns the prose portion of a response: fenced blocks and
// inline code removed, whitespace collapsed.
func mainText(text string) string {
	text = codeBlockRe.ReplaceAllString(text, "")
	text = inlineCodeRe.ReplaceAllString(text, "")
	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

// dedupeLines trims and deduplicates matched lines, preserving order.
func dedupeLines(lines []string) []string {
	if len(lines) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(lines))
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || seen[line] {
			continue
		}
		seen[line] = true
		out = append(out, line)
	}
	return out
}

func containsLine(lines []string, target string) bool {
	for _, l := range lines {
		if l == target {
			return true
		}
	}
	return false
}
