package classify

import "regexp"

// ansiRe matches CSI sequences (ESC[...letter) and OSC sequences (ESC]...BEL).
var ansiRe = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]|\x1b\][^\x07]*\x07`)

// StripAnsi removes ANSI escape codes from text. Agent processes write to
// a PTY and decorate their output heavily; all pattern matching runs on
// the stripped form.
func StripAnsi(text string) string {
	return ansiRe.ReplaceAllString(text, "")
}
