package text

import (
	"regexp"
	"strings"
)

var (
	markdownMarkers = regexp.MustCompile("\\*\\*|__|~~|[*`]")
	// Anything outside letters, digits, punctuation and separators is
	// dropped. This catches emoji and pictographs that trip up TTS engines.
	nonSpeakable = regexp.MustCompile(`[^\p{L}\p{N}\p{P}\p{Z}]`)
	spaceRuns    = regexp.MustCompile(`\s+`)
)

// NormalizeForSpeech strips formatting that reads badly aloud: markdown
// emphasis markers, emoji and other symbols, and runs of whitespace.
func NormalizeForSpeech(input string) string {
	input = markdownMarkers.ReplaceAllString(input, "")
	input = nonSpeakable.ReplaceAllString(input, "")
	input = spaceRuns.ReplaceAllString(input, " ")
	return strings.TrimSpace(input)
}
