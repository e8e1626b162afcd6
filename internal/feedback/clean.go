package feedback

import (
	"regexp"
	"strings"
)

var (
	disallowedRe = regexp.MustCompile(`[^\p{L}\p{N}_\s,.!?]`)
	spaceRe      = regexp.MustCompile(`\s+`)
)

// Clean normalizes feedback text before classification: characters other
// than word characters, whitespace and ",.!?" are dropped and runs of
// whitespace collapse to one space.
func Clean(text string) string {
	text = disallowedRe.ReplaceAllString(text, "")
	text = spaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
