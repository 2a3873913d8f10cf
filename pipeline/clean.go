package pipeline

import (
	"regexp"
	"strings"
)

var (
	reCodeBlock = regexp.MustCompile("(?s)```.*?```")
	reInline    = regexp.MustCompile("`([^`]*)`")
	reEmphasis  = regexp.MustCompile(`\*{1,3}([^*]*)\*{1,3}`)
	reUnder     = regexp.MustCompile(`_{1,3}([^_]*)_{1,3}`)
	reHeader    = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	reBullet    = regexp.MustCompile(`(?m)^\s*[-*+]\s+`)
	reLink      = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	reEmoji     = regexp.MustCompile(`[\x{1F300}-\x{1FAFF}\x{2600}-\x{27BF}\x{FE0F}\x{200D}]`)
	reSpaces    = regexp.MustCompile(`[ \t]+`)
	reNewlines  = regexp.MustCompile(`\n\s*\n`)
)

// CleanForTTS strips markdown decoration and emoji that synthesizers read
// out loud, leaving plain speakable text.
func CleanForTTS(text string) string {
	text = reCodeBlock.ReplaceAllString(text, " ")
	text = reInline.ReplaceAllString(text, "$1")
	text = reEmphasis.ReplaceAllString(text, "$1")
	text = reUnder.ReplaceAllString(text, "$1")
	text = reHeader.ReplaceAllString(text, "")
	text = reBullet.ReplaceAllString(text, "")
	text = reLink.ReplaceAllString(text, "$1")
	text = reEmoji.ReplaceAllString(text, "")
	text = reSpaces.ReplaceAllString(text, " ")
	text = reNewlines.ReplaceAllString(text, "\n")
	return strings.TrimSpace(text)
}
