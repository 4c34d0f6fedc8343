package command

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sollama/core"
	"sollama/memory"
	ollama "sollama/services/ollama/llm"
	"sollama/session"
	"sollama/speech"
	"sollama/stream"
)

type echoReader struct{ sent bool }

func (r *echoReader) Recv() (string, error) {
	if r.sent {
		return "", io.EOF
	}
	r.sent = true
	return "ok.", nil
}

func (r *echoReader) Close() error { return nil }

type echoTransport struct{}

func (echoTransport) Open(ctx context.Context, llmContext core.LLMContext) (stream.DeltaReader, error) {
	return &echoReader{}, nil
}

type nullSpeaker struct{ mu sync.Mutex }

func (s *nullSpeaker) Speak(text string, settings core.SpeechSettings) error { return nil }

type fixedVoices []string

func (v fixedVoices) Voices() ([]string, error) { return v, nil }

func newHandler(t *testing.T, svc *ollama.Service, voices VoiceLister) (*Handler, *bytes.Buffer, *session.ChatSession) {
	t.Helper()
	queue := speech.NewQueue(&nullSpeaker{}, speech.DefaultConfig(), nil)
	t.Cleanup(queue.Shutdown)
	mem, err := memory.New("Be brief.", 10)
	require.NoError(t, err)
	sess := session.New(stream.NewClient(echoTransport{}, nil), queue, mem, session.Config{}, nil)
	var out bytes.Buffer
	return NewHandler(sess, svc, voices, &out, nil), &out, sess
}

func TestHandler_Handle(t *testing.T) {
	ctx := context.Background()

	t.Run("Should pass plain prompts through", func(t *testing.T) {
		h, _, _ := newHandler(t, nil, nil)
		assert.Equal(t, ActionProcess, h.Handle(ctx, "what is the weather like?"))
	})

	t.Run("Should exit on any of the quit words", func(t *testing.T) {
		h, _, _ := newHandler(t, nil, nil)
		for _, word := range []string{"exit", "QUIT", "bye"} {
			assert.Equal(t, ActionExit, h.Handle(ctx, word))
		}
	})

	t.Run("Should clear memory", func(t *testing.T) {
		h, out, sess := newHandler(t, nil, nil)
		sess.Memory().Append(memory.Exchange{Prompt: "a", Response: "b"})

		assert.Equal(t, ActionContinue, h.Handle(ctx, "clear"))
		assert.Zero(t, sess.Memory().Len())
		assert.Contains(t, out.String(), "cleared")
	})

	t.Run("Should set and show the system prompt", func(t *testing.T) {
		h, out, sess := newHandler(t, nil, nil)

		h.Handle(ctx, "system You are a pirate")
		assert.Equal(t, "You are a pirate", sess.Memory().SystemPrompt())

		out.Reset()
		h.Handle(ctx, "system ")
		assert.Contains(t, out.String(), "You are a pirate")
	})

	t.Run("Should save and load memory through files", func(t *testing.T) {
		h, out, sess := newHandler(t, nil, nil)
		sess.Memory().Append(memory.Exchange{Prompt: "p", Response: "r"})

		path := filepath.Join(t.TempDir(), "mem.json")
		assert.Equal(t, ActionContinue, h.Handle(ctx, "save_memory "+path))
		assert.Contains(t, out.String(), "saved")

		sess.Memory().Clear()
		out.Reset()
		assert.Equal(t, ActionContinue, h.Handle(ctx, "load_memory "+path))
		assert.Equal(t, 1, sess.Memory().Len())
		assert.Contains(t, out.String(), "loaded")
	})

	t.Run("Should default the save filename to a timestamped name", func(t *testing.T) {
		h, out, sess := newHandler(t, nil, nil)
		sess.Memory().Append(memory.Exchange{Prompt: "p", Response: "r"})

		cwd, err := os.Getwd()
		require.NoError(t, err)
		tmp := t.TempDir()
		require.NoError(t, os.Chdir(tmp))
		t.Cleanup(func() { os.Chdir(cwd) })

		h.Handle(ctx, "save_memory")
		assert.Contains(t, out.String(), "ollama_memory_")
		matches, err := filepath.Glob(filepath.Join(tmp, "ollama_memory_*.json"))
		require.NoError(t, err)
		assert.Len(t, matches, 1)
	})

	t.Run("Should require a filename for load", func(t *testing.T) {
		h, out, _ := newHandler(t, nil, nil)
		h.Handle(ctx, "load_memory")
		assert.Contains(t, out.String(), "specify a filename")
	})

	t.Run("Should switch model on the ollama service", func(t *testing.T) {
		svc := ollama.NewService(ollama.DefaultConfig(), nil)
		h, out, _ := newHandler(t, svc, nil)

		h.Handle(ctx, "model llama3.2:1b")
		assert.Equal(t, "llama3.2:1b", svc.Model())
		assert.Contains(t, out.String(), "llama3.2:1b")
	})

	t.Run("Should toggle streaming", func(t *testing.T) {
		svc := ollama.NewService(ollama.DefaultConfig(), nil)
		h, out, _ := newHandler(t, svc, nil)

		h.Handle(ctx, "stream")
		assert.False(t, svc.Streaming())
		assert.Contains(t, out.String(), "disabled")

		h.Handle(ctx, "stream")
		assert.True(t, svc.Streaming())
	})

	t.Run("Should report model commands unavailable without ollama", func(t *testing.T) {
		h, out, _ := newHandler(t, nil, nil)
		h.Handle(ctx, "models")
		assert.Contains(t, out.String(), "only available with the ollama provider")
	})

	t.Run("Should adjust rate and volume within bounds", func(t *testing.T) {
		h, _, sess := newHandler(t, nil, nil)
		q := sess.Queue()

		h.Handle(ctx, "faster")
		assert.Equal(t, 200, q.Settings().Rate)
		h.Handle(ctx, "slower")
		h.Handle(ctx, "slower")
		assert.Equal(t, 150, q.Settings().Rate)

		h.Handle(ctx, "quieter")
		assert.InDelta(t, 0.9, q.Settings().Volume, 1e-9)
		h.Handle(ctx, "volume 0.5")
		assert.InDelta(t, 0.5, q.Settings().Volume, 1e-9)
	})

	t.Run("Should reject out-of-range volume", func(t *testing.T) {
		h, out, sess := newHandler(t, nil, nil)
		h.Handle(ctx, "volume 1.5")
		assert.Contains(t, out.String(), "between 0.0 and 1.0")
		assert.InDelta(t, 1.0, sess.Queue().Settings().Volume, 1e-9)
	})

	t.Run("Should toggle mute and unmute on volume set", func(t *testing.T) {
		h, _, sess := newHandler(t, nil, nil)

		h.Handle(ctx, "mute")
		assert.True(t, sess.Queue().Muted())
		h.Handle(ctx, "volume 0.3")
		assert.False(t, sess.Queue().Muted())
	})

	t.Run("Should list and switch voices", func(t *testing.T) {
		h, out, sess := newHandler(t, nil, fixedVoices{"english", "en-scottish"})

		h.Handle(ctx, "voice")
		assert.Contains(t, out.String(), "0: english")

		out.Reset()
		h.Handle(ctx, "voice 1")
		assert.Equal(t, "en-scottish", sess.Queue().Settings().VoiceID)

		out.Reset()
		h.Handle(ctx, "voice 9")
		assert.Contains(t, out.String(), "Invalid voice number")
	})

	t.Run("Should set memory capacity", func(t *testing.T) {
		h, out, sess := newHandler(t, nil, nil)

		h.Handle(ctx, "capacity 3")
		assert.Equal(t, 3, sess.Memory().Capacity())

		out.Reset()
		h.Handle(ctx, "capacity 0")
		assert.Contains(t, out.String(), "Error")
	})

	t.Run("Should print help", func(t *testing.T) {
		h, out, _ := newHandler(t, nil, nil)
		assert.Equal(t, ActionContinue, h.Handle(ctx, "help"))
		assert.Contains(t, out.String(), "save_memory")
	})
}
