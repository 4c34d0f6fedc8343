package speech

import (
	"sync"

	"sollama/core"
)

// Config controls queue behavior.
type Config struct {
	MaxPending int                 // Bound on queued segments; Submit blocks the submitter when reached.
	Settings   core.SpeechSettings // Initial playback settings.
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxPending: 64,
		Settings:   core.DefaultSpeechSettings(),
	}
}

// Segment is one unit of text scheduled for playback. Sequence numbers are
// assigned at submission time and only ever increase.
type Segment struct {
	Text string
	Seq  uint64
}

// Queue decouples text production rate from playback rate. Segments are
// spoken by exactly one background worker goroutine, strictly in
// submission order; no two segments are ever spoken concurrently. The
// worker is the only goroutine that calls the Speaker.
type Queue struct {
	speaker core.Speaker
	logger  *core.Logger

	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	pending  []Segment
	nextSeq  uint64
	settings core.SpeechSettings
	muted    bool
	closed   bool

	maxPending int
	workerDone chan struct{}
}

// NewQueue creates the queue and starts its worker.
func NewQueue(speaker core.Speaker, config Config, logger *core.Logger) *Queue {
	if config.MaxPending < 1 {
		config.MaxPending = DefaultConfig().MaxPending
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	q := &Queue{
		speaker:    speaker,
		logger:     logger,
		settings:   config.Settings.Clamped(),
		maxPending: config.MaxPending,
		workerDone: make(chan struct{}),
	}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	go q.worker()
	return q
}

// Submit enqueues a segment and returns its sequence number. It blocks the
// submitter only while the queue is at its bound; callers that need a
// guaranteed non-blocking submit check Pending first.
func (q *Queue) Submit(text string) uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.pending) >= q.maxPending && !q.closed {
		q.notFull.Wait()
	}
	seq := q.nextSeq
	q.nextSeq++
	if q.closed {
		q.logger.Warnf("speech: queue shut down, dropping segment %d", seq)
		return seq
	}
	q.pending = append(q.pending, Segment{Text: text, Seq: seq})
	q.notEmpty.Signal()
	return seq
}

// Pending returns the number of queued, not-yet-spoken segments.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Flush discards all queued segments and, when the speaker supports it,
// interrupts the segment currently being spoken. Returns whether a
// mid-playback segment was actually interrupted; with a non-interruptible
// speaker the in-flight segment finishes on its own.
func (q *Queue) Flush() bool {
	q.mu.Lock()
	dropped := len(q.pending)
	q.pending = nil
	q.notFull.Broadcast()
	q.mu.Unlock()

	if dropped > 0 {
		q.logger.Infof("speech: flushed %d queued segments", dropped)
	}
	in, ok := q.speaker.(core.SpeakInterrupter)
	if !ok {
		return false
	}
	interrupted, err := in.Interrupt()
	if err != nil {
		q.logger.Warnf("speech: interrupt failed: %v", err)
		return false
	}
	return interrupted
}

// SetVoice changes the voice for segments spoken after this call.
func (q *Queue) SetVoice(voiceID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.settings.VoiceID = voiceID
}

// SetRate sets the speaking rate in words per minute, silently clamped to
// [MinSpeechRate, MaxSpeechRate].
func (q *Queue) SetRate(rate int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.settings.Rate = rate
	q.settings = q.settings.Clamped()
}

// SetVolume sets the playback volume, silently clamped to [0.0, 1.0].
func (q *Queue) SetVolume(volume float64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.settings.Volume = volume
	q.settings = q.settings.Clamped()
}

// Mute stops the worker from speaking dequeued segments. The configured
// volume is untouched, so Unmute restores the previous loudness.
func (q *Queue) Mute() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.muted = true
}

func (q *Queue) Unmute() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.muted = false
}

func (q *Queue) Muted() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.muted
}

// Settings returns the playback settings that the next spoken segment will
// use.
func (q *Queue) Settings() core.SpeechSettings {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.settings
}

// Shutdown drains nothing: queued segments are discarded and the worker
// exits after any in-flight segment finishes. Blocks until the worker has
// stopped.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.workerDone
		return
	}
	q.closed = true
	q.pending = nil
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
	q.mu.Unlock()
	<-q.workerDone
}

// worker is the single consumer. Settings are sampled per segment, so
// configuration changes never affect a segment already in progress.
func (q *Queue) worker() {
	defer close(q.workerDone)
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.notEmpty.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return
		}
		seg := q.pending[0]
		q.pending = q.pending[1:]
		settings := q.settings
		muted := q.muted
		q.notFull.Signal()
		q.mu.Unlock()

		if muted {
			q.logger.Debugf("speech: muted, skipping segment %d", seg.Seq)
			continue
		}
		if err := q.speaker.Speak(seg.Text, settings); err != nil {
			// One bad segment never halts playback: log and move on.
			devErr := &core.SpeechDeviceError{Seq: seg.Seq, Err: err}
			q.logger.Warnf("speech: %v", devErr)
		}
	}
}
