package core

import (
	"errors"
	"fmt"
)

var (
	// ErrCancelled is returned by Next calls on a session that was cancelled.
	ErrCancelled = errors.New("stream cancelled")
	// ErrInvalidCapacity is returned when a memory capacity is not a positive integer.
	ErrInvalidCapacity = errors.New("capacity must be a positive integer")
)

// ConnectionError reports a failure to establish the transport to the model server.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("cannot connect to model server at %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// InvalidRequestError reports a structurally invalid completion request,
// e.g. an empty prompt.
type InvalidRequestError struct {
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return "invalid request: " + e.Reason
}

// StreamInterruptedError reports a transport failure in the middle of a
// streaming response. Partial holds the text accumulated before the
// failure; the caller decides whether to keep or discard it.
type StreamInterruptedError struct {
	Partial string
	Err     error
}

func (e *StreamInterruptedError) Error() string {
	return fmt.Sprintf("stream interrupted after %d chars: %v", len(e.Partial), e.Err)
}

func (e *StreamInterruptedError) Unwrap() error { return e.Err }

// PersistenceError reports a failed memory save or load. Memory stays in
// its last known-good state when one of these is returned.
type PersistenceError struct {
	Op   string // "save" or "load"
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("memory %s %q: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// SpeechDeviceError reports a speech backend failure for a single segment.
// The queue logs it, drops the segment and keeps playing.
type SpeechDeviceError struct {
	Seq uint64
	Err error
}

func (e *SpeechDeviceError) Error() string {
	return fmt.Sprintf("speech device failed on segment %d: %v", e.Seq, e.Err)
}

func (e *SpeechDeviceError) Unwrap() error { return e.Err }
