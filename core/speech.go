package core

// Speech rate and volume bounds. Out-of-range values are clamped, not
// rejected.
const (
	MinSpeechRate = 50
	MaxSpeechRate = 300

	MinVolume = 0.0
	MaxVolume = 1.0
)

// SpeechSettings carries the per-segment playback parameters handed to a
// Speaker.
type SpeechSettings struct {
	VoiceID string  `json:"voice_id,omitempty"` // Backend-specific voice identifier; empty means backend default.
	Rate    int     `json:"rate"`               // Speaking rate in words per minute.
	Volume  float64 `json:"volume"`             // Playback volume, 0.0 to 1.0.
}

// DefaultSpeechSettings returns the settings used when nothing is configured.
func DefaultSpeechSettings() SpeechSettings {
	return SpeechSettings{Rate: 175, Volume: 1.0}
}

// Clamped returns a copy with rate and volume forced into their valid ranges.
func (s SpeechSettings) Clamped() SpeechSettings {
	if s.Rate < MinSpeechRate {
		s.Rate = MinSpeechRate
	}
	if s.Rate > MaxSpeechRate {
		s.Rate = MaxSpeechRate
	}
	if s.Volume < MinVolume {
		s.Volume = MinVolume
	}
	if s.Volume > MaxVolume {
		s.Volume = MaxVolume
	}
	return s
}

// Speaker is the blocking speech primitive owned by a TTS backend. Speak
// returns once the segment has been fully rendered, or with an error when
// the backend failed. Only the speech queue's worker goroutine calls it.
type Speaker interface {
	Speak(text string, settings SpeechSettings) error
}

// SpeakInterrupter is an optional Speaker capability: backends that can
// abort a segment mid-playback implement it. Flush uses it when present.
// Interrupt reports whether a segment was actually cut short; it returns
// false when nothing was playing.
type SpeakInterrupter interface {
	Interrupt() (bool, error)
}
