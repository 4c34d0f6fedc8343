package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"sollama/core"
	"sollama/memory"
	"sollama/speech"
	"sollama/stream"
	"sollama/utils/text"
)

// ChatSession ties the streaming client, the speech queue and the
// conversation memory together: one Ask turns a prompt into spoken,
// remembered conversation.
type ChatSession struct {
	client *stream.Client
	queue  *speech.Queue
	mem    *memory.ConversationMemory
	logger *core.Logger

	segLimit   int
	transcript *memory.TranscriptLogger

	mu           sync.Mutex
	active       *stream.Session
	lastResponse string
}

// Config holds the configuration for a chat session.
type Config struct {
	// SegmentSoftLimit caps segment length before a clause-boundary cut.
	// Zero selects text.DefaultSoftLimit.
	SegmentSoftLimit int
	// Transcript, when set, receives every completed exchange.
	Transcript *memory.TranscriptLogger
}

// New creates a session over the given client, queue and memory.
func New(client *stream.Client, queue *speech.Queue, mem *memory.ConversationMemory, config Config, logger *core.Logger) *ChatSession {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &ChatSession{
		client:     client,
		queue:      queue,
		mem:        mem,
		logger:     logger,
		segLimit:   config.SegmentSoftLimit,
		transcript: config.Transcript,
	}
}

// Memory exposes the session's conversation memory.
func (s *ChatSession) Memory() *memory.ConversationMemory {
	return s.mem
}

// Queue exposes the session's speech queue.
func (s *ChatSession) Queue() *speech.Queue {
	return s.queue
}

// LastResponse returns the most recent complete assistant response.
func (s *ChatSession) LastResponse() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResponse
}

// Busy reports whether a stream is currently in flight.
func (s *ChatSession) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// Ask sends one prompt through the full pipeline: stream the response,
// hand each completed sentence to the speech queue, and on success record
// the exchange in memory. onDelta, when non-nil, receives every raw delta
// as it arrives. Returns the accumulated text, which on error holds
// whatever arrived before the failure; failed or cancelled exchanges are
// not recorded.
func (s *ChatSession) Ask(ctx context.Context, prompt string, onDelta func(string)) (string, error) {
	sess, err := s.client.Open(ctx, prompt, s.mem.BuildContext())
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	if s.active != nil {
		s.mu.Unlock()
		sess.Cancel()
		return "", &core.InvalidRequestError{Reason: "a request is already in flight"}
	}
	s.active = sess
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.active = nil
		s.mu.Unlock()
	}()

	segmenter := text.NewSegmenter(s.segLimit)
	for {
		delta, err := sess.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return sess.Accumulated(), err
		}
		if onDelta != nil {
			onDelta(delta)
		}
		for _, segment := range segmenter.Push(delta) {
			s.speak(segment)
		}
	}
	if tail := segmenter.Flush(); tail != "" {
		s.speak(tail)
	}

	response := sess.Accumulated()
	exchange := memory.Exchange{Prompt: prompt, Response: response, Timestamp: time.Now()}
	s.mem.Append(exchange)
	if s.transcript != nil {
		s.transcript.LogExchange(exchange)
	}

	s.mu.Lock()
	s.lastResponse = response
	s.mu.Unlock()
	return response, nil
}

func (s *ChatSession) speak(segment string) {
	spoken := text.NormalizeForSpeech(segment)
	if spoken == "" {
		return
	}
	s.queue.Submit(spoken)
}

// Cancel aborts the in-flight stream, if any, and flushes queued speech.
// With keepPartial set, the text accumulated so far is recorded in memory
// as a truncated exchange.
func (s *ChatSession) Cancel(keepPartial bool) bool {
	s.mu.Lock()
	sess := s.active
	s.mu.Unlock()
	if sess == nil {
		return false
	}

	sess.Cancel()
	s.queue.Flush()

	if keepPartial {
		if partial := sess.Accumulated(); partial != "" {
			s.mem.Append(memory.Exchange{Prompt: sess.RequestText(), Response: partial, Timestamp: time.Now()})
		}
	}
	s.logger.Info("session: request cancelled", "id", sess.ID())
	return true
}

// Repeat re-queues the last complete response for speech. Returns false
// when there is nothing to repeat.
func (s *ChatSession) Repeat() bool {
	s.mu.Lock()
	last := s.lastResponse
	s.mu.Unlock()
	if last == "" {
		return false
	}

	segmenter := text.NewSegmenter(s.segLimit)
	for _, segment := range segmenter.Push(last) {
		s.speak(segment)
	}
	if tail := segmenter.Flush(); tail != "" {
		s.speak(tail)
	}
	return true
}
