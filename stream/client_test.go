package stream

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sollama/core"
)

// scriptedReader replays a fixed sequence of deltas, then a final error.
type scriptedReader struct {
	mu     sync.Mutex
	deltas []string
	final  error
	ctx    context.Context
	closed bool
	block  chan struct{} // when non-nil, Recv blocks on it after deltas run out
}

func (r *scriptedReader) Recv() (string, error) {
	r.mu.Lock()
	if len(r.deltas) > 0 {
		d := r.deltas[0]
		r.deltas = r.deltas[1:]
		r.mu.Unlock()
		return d, nil
	}
	block := r.block
	r.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-r.ctx.Done():
			return "", r.ctx.Err()
		}
	}
	if r.final != nil {
		return "", r.final
	}
	return "", io.EOF
}

func (r *scriptedReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// scriptedTransport hands out one scriptedReader per Open.
type scriptedTransport struct {
	reader  *scriptedReader
	openErr error
}

func (t *scriptedTransport) Open(ctx context.Context, llmContext core.LLMContext) (DeltaReader, error) {
	if t.openErr != nil {
		return nil, t.openErr
	}
	t.reader.ctx = ctx
	return t.reader, nil
}

func TestClient_Open(t *testing.T) {
	t.Run("Should reject empty prompts", func(t *testing.T) {
		c := NewClient(&scriptedTransport{reader: &scriptedReader{}}, nil)
		_, err := c.Open(context.Background(), "   ", core.LLMContext{})
		var invalid *core.InvalidRequestError
		require.ErrorAs(t, err, &invalid)
	})

	t.Run("Should surface transport connection failures", func(t *testing.T) {
		connErr := &core.ConnectionError{URL: "http://localhost:11434", Err: errors.New("refused")}
		c := NewClient(&scriptedTransport{openErr: connErr}, nil)
		_, err := c.Open(context.Background(), "hi", core.LLMContext{})
		var got *core.ConnectionError
		require.ErrorAs(t, err, &got)
	})

	t.Run("Should not alias the caller's context slice", func(t *testing.T) {
		reader := &scriptedReader{}
		c := NewClient(&scriptedTransport{reader: reader}, nil)
		llmCtx := core.LLMContext{Messages: make([]core.LLMMessage, 0, 4)}
		llmCtx.AddSystemMessage("sys")

		_, err := c.Open(context.Background(), "hi", llmCtx)
		require.NoError(t, err)
		require.Len(t, llmCtx.Messages, 1)
	})
}

func TestSession_Accumulate(t *testing.T) {
	t.Run("Should append every delta and end with io.EOF", func(t *testing.T) {
		reader := &scriptedReader{deltas: []string{"Hello", ",", " world", "."}}
		c := NewClient(&scriptedTransport{reader: reader}, nil)
		s, err := c.Open(context.Background(), "greet me", core.LLMContext{})
		require.NoError(t, err)
		assert.Equal(t, StatePending, s.State())

		var got []string
		for {
			delta, err := s.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			require.NoError(t, err)
			got = append(got, delta)
		}

		assert.Equal(t, []string{"Hello", ",", " world", "."}, got)
		assert.Equal(t, "Hello, world.", s.Accumulated())
		assert.Equal(t, StateCompleted, s.State())
		assert.True(t, reader.closed)

		// Terminal: further calls keep returning EOF.
		_, err = s.Next()
		assert.ErrorIs(t, err, io.EOF)
	})
}

func TestSession_Interrupted(t *testing.T) {
	t.Run("Should fail with the partial text attached", func(t *testing.T) {
		reader := &scriptedReader{deltas: []string{"Partial", " resp"}, final: errors.New("connection reset")}
		c := NewClient(&scriptedTransport{reader: reader}, nil)
		s, err := c.Open(context.Background(), "q", core.LLMContext{})
		require.NoError(t, err)

		_, err = s.Next()
		require.NoError(t, err)
		_, err = s.Next()
		require.NoError(t, err)

		_, err = s.Next()
		var interrupted *core.StreamInterruptedError
		require.ErrorAs(t, err, &interrupted)
		assert.Equal(t, "Partial resp", interrupted.Partial)
		assert.Equal(t, StateFailed, s.State())

		// Accumulated text survives the failure.
		assert.Equal(t, "Partial resp", s.Accumulated())

		_, err = s.Next()
		require.ErrorAs(t, err, &interrupted)
	})
}

func TestSession_ReleasesContext(t *testing.T) {
	t.Run("Should cancel the derived context on completion", func(t *testing.T) {
		reader := &scriptedReader{deltas: []string{"done"}}
		c := NewClient(&scriptedTransport{reader: reader}, nil)
		s, err := c.Open(context.Background(), "q", core.LLMContext{})
		require.NoError(t, err)

		for {
			if _, err := s.Next(); errors.Is(err, io.EOF) {
				break
			}
		}

		assert.Equal(t, StateCompleted, s.State())
		assert.ErrorIs(t, reader.ctx.Err(), context.Canceled)
	})

	t.Run("Should cancel the derived context on failure", func(t *testing.T) {
		reader := &scriptedReader{final: errors.New("connection reset")}
		c := NewClient(&scriptedTransport{reader: reader}, nil)
		s, err := c.Open(context.Background(), "q", core.LLMContext{})
		require.NoError(t, err)

		_, err = s.Next()
		var interrupted *core.StreamInterruptedError
		require.ErrorAs(t, err, &interrupted)
		assert.ErrorIs(t, reader.ctx.Err(), context.Canceled)
	})
}

func TestSession_Cancel(t *testing.T) {
	t.Run("Should fail subsequent Next calls and keep accumulated text", func(t *testing.T) {
		reader := &scriptedReader{deltas: []string{"kept"}}
		c := NewClient(&scriptedTransport{reader: reader}, nil)
		s, err := c.Open(context.Background(), "q", core.LLMContext{})
		require.NoError(t, err)

		_, err = s.Next()
		require.NoError(t, err)

		s.Cancel()
		s.Cancel() // idempotent

		_, err = s.Next()
		assert.ErrorIs(t, err, core.ErrCancelled)
		assert.Equal(t, StateCancelled, s.State())
		assert.Equal(t, "kept", s.Accumulated())
		assert.True(t, reader.closed)
	})

	t.Run("Should unblock an in-progress Next from another goroutine", func(t *testing.T) {
		reader := &scriptedReader{block: make(chan struct{})}
		c := NewClient(&scriptedTransport{reader: reader}, nil)
		s, err := c.Open(context.Background(), "q", core.LLMContext{})
		require.NoError(t, err)

		errCh := make(chan error, 1)
		go func() {
			_, err := s.Next()
			errCh <- err
		}()

		time.Sleep(20 * time.Millisecond)
		s.Cancel()

		select {
		case err := <-errCh:
			assert.ErrorIs(t, err, core.ErrCancelled)
		case <-time.After(2 * time.Second):
			t.Fatal("Next did not unblock after Cancel")
		}
	})

	t.Run("Should not overwrite a completed state", func(t *testing.T) {
		reader := &scriptedReader{}
		c := NewClient(&scriptedTransport{reader: reader}, nil)
		s, err := c.Open(context.Background(), "q", core.LLMContext{})
		require.NoError(t, err)

		_, err = s.Next()
		assert.ErrorIs(t, err, io.EOF)

		s.Cancel()
		assert.Equal(t, StateCompleted, s.State())
	})
}
