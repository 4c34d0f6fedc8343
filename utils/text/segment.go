package text

import (
	"regexp"
	"strings"
)

// DefaultSoftLimit is the segment length above which the segmenter cuts
// at a clause boundary instead of waiting for end-of-sentence punctuation.
const DefaultSoftLimit = 120

// sentenceEnd matches terminal punctuation plus any trailing whitespace,
// so a delta like "done! next" yields "done! " as a complete segment.
var sentenceEnd = regexp.MustCompile(`[.!?]+[\s\n]*`)

// Segmenter accumulates streamed text deltas and emits speakable
// segments as soon as they are complete. Not safe for concurrent use;
// each stream gets its own Segmenter.
type Segmenter struct {
	buf       strings.Builder
	softLimit int
}

// NewSegmenter creates a segmenter with the given soft length limit.
// A non-positive limit selects DefaultSoftLimit.
func NewSegmenter(softLimit int) *Segmenter {
	if softLimit <= 0 {
		softLimit = DefaultSoftLimit
	}
	return &Segmenter{softLimit: softLimit}
}

// Push appends a delta and returns any segments completed by it, in order.
func (s *Segmenter) Push(delta string) []string {
	s.buf.WriteString(delta)
	text := s.buf.String()

	var out []string
	for {
		loc := sentenceEnd.FindStringIndex(text)
		if loc == nil {
			break
		}
		segment := strings.TrimSpace(text[:loc[1]])
		if segment != "" {
			out = append(out, segment)
		}
		text = text[loc[1]:]
	}

	// Long sentence with no terminator yet: cut at the last clause
	// boundary so speech can start without waiting for the period.
	for len(text) > s.softLimit {
		cut := strings.LastIndexAny(text[:s.softLimit], ",;: ")
		if cut <= 0 {
			break
		}
		segment := strings.TrimSpace(text[:cut+1])
		if segment != "" {
			out = append(out, segment)
		}
		text = text[cut+1:]
	}

	s.buf.Reset()
	s.buf.WriteString(text)
	return out
}

// Flush returns whatever remains in the buffer as a final segment, or ""
// when nothing is pending. The segmenter is reusable afterwards.
func (s *Segmenter) Flush() string {
	remainder := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	return remainder
}

// Pending reports whether the buffer holds unemitted text.
func (s *Segmenter) Pending() bool {
	return strings.TrimSpace(s.buf.String()) != ""
}
