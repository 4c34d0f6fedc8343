package speech

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sollama/core"
)

// recordingSpeaker captures every Speak call in order.
type recordingSpeaker struct {
	mu       sync.Mutex
	spoken   []string
	settings []core.SpeechSettings
	failOn   map[string]error
	delay    time.Duration

	interrupts int
}

func (s *recordingSpeaker) Speak(text string, settings core.SpeechSettings) error {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.failOn[text]; ok {
		return err
	}
	s.spoken = append(s.spoken, text)
	s.settings = append(s.settings, settings)
	return nil
}

func (s *recordingSpeaker) Spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.spoken...)
}

func (s *recordingSpeaker) SpokenSettings() []core.SpeechSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.SpeechSettings(nil), s.settings...)
}

// interruptibleSpeaker adds the interrupt capability and tracks whether a
// segment is mid-playback.
type interruptibleSpeaker struct {
	recordingSpeaker
	inFlight bool
}

func (s *interruptibleSpeaker) Speak(text string, settings core.SpeechSettings) error {
	s.mu.Lock()
	s.inFlight = true
	s.mu.Unlock()
	err := s.recordingSpeaker.Speak(text, settings)
	s.mu.Lock()
	s.inFlight = false
	s.mu.Unlock()
	return err
}

func (s *interruptibleSpeaker) Interrupt() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interrupts++
	return s.inFlight, nil
}

func (s *interruptibleSpeaker) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestQueue_Ordering(t *testing.T) {
	t.Run("Should speak segments strictly in submission order", func(t *testing.T) {
		speaker := &recordingSpeaker{}
		q := NewQueue(speaker, DefaultConfig(), nil)
		defer q.Shutdown()

		want := []string{"one", "two", "three", "four", "five"}
		var seqs []uint64
		for _, text := range want {
			seqs = append(seqs, q.Submit(text))
		}

		waitFor(t, func() bool { return len(speaker.Spoken()) == len(want) })
		assert.Equal(t, want, speaker.Spoken())
		for i := 1; i < len(seqs); i++ {
			assert.Greater(t, seqs[i], seqs[i-1])
		}
	})
}

func TestQueue_Clamping(t *testing.T) {
	speaker := &recordingSpeaker{}
	q := NewQueue(speaker, DefaultConfig(), nil)
	defer q.Shutdown()

	t.Run("Should clamp rate below minimum up to 50", func(t *testing.T) {
		q.SetRate(10)
		assert.Equal(t, 50, q.Settings().Rate)
	})
	t.Run("Should clamp rate above maximum down to 300", func(t *testing.T) {
		q.SetRate(400)
		assert.Equal(t, 300, q.Settings().Rate)
	})
	t.Run("Should clamp negative volume up to 0.0", func(t *testing.T) {
		q.SetVolume(-1)
		assert.Equal(t, 0.0, q.Settings().Volume)
	})
	t.Run("Should clamp excess volume down to 1.0", func(t *testing.T) {
		q.SetVolume(5)
		assert.Equal(t, 1.0, q.Settings().Volume)
	})
	t.Run("Should keep in-range values untouched", func(t *testing.T) {
		q.SetRate(175)
		q.SetVolume(0.4)
		s := q.Settings()
		assert.Equal(t, 175, s.Rate)
		assert.InDelta(t, 0.4, s.Volume, 1e-9)
	})
}

func TestQueue_SettingsApplyToNextSegment(t *testing.T) {
	speaker := &recordingSpeaker{}
	q := NewQueue(speaker, DefaultConfig(), nil)
	defer q.Shutdown()

	q.SetRate(100)
	q.Submit("slow")
	waitFor(t, func() bool { return len(speaker.Spoken()) == 1 })

	q.SetRate(250)
	q.SetVoice("en-gb")
	q.Submit("fast")
	waitFor(t, func() bool { return len(speaker.Spoken()) == 2 })

	got := speaker.SpokenSettings()
	require.Len(t, got, 2)
	assert.Equal(t, 100, got[0].Rate)
	assert.Equal(t, 250, got[1].Rate)
	assert.Equal(t, "en-gb", got[1].VoiceID)
}

func TestQueue_SpeakerFailure(t *testing.T) {
	t.Run("Should drop the failed segment and keep playing", func(t *testing.T) {
		speaker := &recordingSpeaker{failOn: map[string]error{"bad": errors.New("device unavailable")}}
		q := NewQueue(speaker, DefaultConfig(), nil)
		defer q.Shutdown()

		q.Submit("a")
		q.Submit("bad")
		q.Submit("b")

		waitFor(t, func() bool { return len(speaker.Spoken()) == 2 })
		assert.Equal(t, []string{"a", "b"}, speaker.Spoken())
	})
}

func TestQueue_Mute(t *testing.T) {
	t.Run("Should skip playback while muted and preserve volume", func(t *testing.T) {
		speaker := &recordingSpeaker{}
		q := NewQueue(speaker, DefaultConfig(), nil)
		defer q.Shutdown()

		q.SetVolume(0.7)
		q.Mute()
		q.Submit("silent")
		waitFor(t, func() bool { return q.Pending() == 0 })
		assert.Empty(t, speaker.Spoken())

		q.Unmute()
		assert.InDelta(t, 0.7, q.Settings().Volume, 1e-9)
		q.Submit("audible")
		waitFor(t, func() bool { return len(speaker.Spoken()) == 1 })
		assert.Equal(t, []string{"audible"}, speaker.Spoken())
	})
}

func TestQueue_Flush(t *testing.T) {
	t.Run("Should discard queued segments", func(t *testing.T) {
		speaker := &recordingSpeaker{delay: 50 * time.Millisecond}
		q := NewQueue(speaker, DefaultConfig(), nil)
		defer q.Shutdown()

		q.Submit("first")
		q.Submit("queued-1")
		q.Submit("queued-2")
		q.Flush()

		// Give the worker time to drain anything it was going to speak.
		time.Sleep(200 * time.Millisecond)
		spoken := speaker.Spoken()
		assert.NotContains(t, spoken, "queued-2")
		assert.Equal(t, 0, q.Pending())
	})

	t.Run("Should report false for non-interruptible speakers", func(t *testing.T) {
		plain := &recordingSpeaker{}
		q := NewQueue(plain, DefaultConfig(), nil)
		defer q.Shutdown()
		assert.False(t, q.Flush())
	})

	t.Run("Should report an interrupt only when a segment was mid-playback", func(t *testing.T) {
		in := &interruptibleSpeaker{recordingSpeaker: recordingSpeaker{delay: 200 * time.Millisecond}}
		q := NewQueue(in, DefaultConfig(), nil)
		defer q.Shutdown()

		// Idle queue: nothing to cut short.
		assert.False(t, q.Flush())

		q.Submit("a very long segment")
		waitFor(t, func() bool { return in.InFlight() })
		assert.True(t, q.Flush())

		waitFor(t, func() bool { return !in.InFlight() })
		assert.False(t, q.Flush())
	})
}

func TestQueue_Shutdown(t *testing.T) {
	t.Run("Should stop the worker and drop later submissions", func(t *testing.T) {
		speaker := &recordingSpeaker{}
		q := NewQueue(speaker, DefaultConfig(), nil)
		q.Submit("spoken")
		waitFor(t, func() bool { return len(speaker.Spoken()) == 1 })

		q.Shutdown()
		q.Submit("dropped")
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, []string{"spoken"}, speaker.Spoken())
	})
}
