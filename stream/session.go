package stream

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"sollama/core"
)

// SessionState tracks one in-flight request through its lifecycle.
type SessionState int32

const (
	StatePending SessionState = iota
	StateStreaming
	StateCompleted
	StateFailed
	StateCancelled
)

func (s SessionState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further deltas will be accepted.
func (s SessionState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Session is one in-flight streaming request. Next is driven by a single
// consumer goroutine; Cancel may be called from any goroutine at any time.
type Session struct {
	id          string
	requestText string
	reader      DeltaReader
	cancelFn    context.CancelFunc
	logger      *core.Logger

	mu          sync.Mutex
	state       SessionState
	accumulated strings.Builder
	cancelOnce  sync.Once
}

func (s *Session) ID() string          { return s.id }
func (s *Session) RequestText() string { return s.requestText }

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Accumulated returns the concatenation of all deltas received so far. It
// stays readable after completion, failure and cancellation.
func (s *Session) Accumulated() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accumulated.String()
}

// Next blocks until the next delta is available, the stream ends, or an
// error occurs. Each delivered delta is appended to the accumulated text.
// io.EOF marks a completed stream. A transport failure mid-stream returns
// *core.StreamInterruptedError carrying the partial text; after Cancel it
// returns core.ErrCancelled.
func (s *Session) Next() (string, error) {
	s.mu.Lock()
	switch s.state {
	case StateCancelled:
		s.mu.Unlock()
		return "", core.ErrCancelled
	case StateCompleted:
		s.mu.Unlock()
		return "", io.EOF
	case StateFailed:
		partial := s.accumulated.String()
		s.mu.Unlock()
		return "", &core.StreamInterruptedError{Partial: partial, Err: errors.New("stream already failed")}
	case StatePending:
		s.state = StateStreaming
	}
	s.mu.Unlock()

	// Recv blocks outside the lock so Cancel can run concurrently.
	delta, err := s.reader.Recv()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateCancelled {
		return "", core.ErrCancelled
	}
	if err != nil {
		// Both terminal transitions release the reader and the derived
		// context, so a finished session no longer holds onto its parent.
		s.cancelFn()
		s.reader.Close()
		if errors.Is(err, io.EOF) {
			s.state = StateCompleted
			return "", io.EOF
		}
		s.state = StateFailed
		s.logger.Warnf("stream: session %s interrupted: %v", s.id, err)
		return "", &core.StreamInterruptedError{Partial: s.accumulated.String(), Err: err}
	}
	s.accumulated.WriteString(delta)
	return delta, nil
}

// Cancel transitions the session to Cancelled, unblocks any in-progress
// Next and releases the transport. Idempotent; a no-op once the session
// completed or failed on its own.
func (s *Session) Cancel() {
	s.cancelOnce.Do(func() {
		s.mu.Lock()
		if !s.state.Terminal() {
			s.state = StateCancelled
		}
		s.mu.Unlock()
		s.cancelFn()
		s.reader.Close()
		s.logger.Debugf("stream: session %s cancelled", s.id)
	})
}
