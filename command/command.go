package command

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"sollama/core"
	ollama "sollama/services/ollama/llm"
	"sollama/session"
)

// Action tells the caller what to do after a line of input was inspected.
type Action int

const (
	// ActionProcess means the line is a prompt for the model.
	ActionProcess Action = iota
	// ActionContinue means the line was consumed as a command.
	ActionContinue
	// ActionExit means the user asked to quit.
	ActionExit
)

// VoiceLister enumerates the voices a speech backend offers.
type VoiceLister interface {
	Voices() ([]string, error)
}

// Handler interprets interactive commands against a chat session. Lines
// that are not commands are reported as ActionProcess and left to the
// caller.
type Handler struct {
	session *session.ChatSession
	ollama  *ollama.Service
	voices  VoiceLister
	out     io.Writer
	logger  *core.Logger
}

// NewHandler creates a command handler. The ollama service and the voice
// lister may be nil; the related commands then report themselves
// unavailable.
func NewHandler(sess *session.ChatSession, svc *ollama.Service, voices VoiceLister, out io.Writer, logger *core.Logger) *Handler {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Handler{session: sess, ollama: svc, voices: voices, out: out, logger: logger}
}

// Handle inspects one input line. Command matching is case-insensitive;
// arguments keep their original casing.
func (h *Handler) Handle(ctx context.Context, input string) Action {
	trimmed := strings.TrimSpace(input)
	lower := strings.ToLower(trimmed)

	switch lower {
	case "exit", "quit", "bye":
		return ActionExit
	case "clear", "new", "reset":
		h.session.Memory().Clear()
		fmt.Fprintln(h.out, "Conversation memory cleared")
		return ActionContinue
	case "memory":
		h.showMemory()
		return ActionContinue
	case "models":
		h.showModels(ctx)
		return ActionContinue
	case "stream":
		h.toggleStreaming()
		return ActionContinue
	case "repeat":
		h.repeat()
		return ActionContinue
	case "test_tts":
		h.session.Queue().Submit("This is a test of the speech system.")
		return ActionContinue
	case "voice":
		h.showVoices()
		return ActionContinue
	case "faster", "slower":
		h.adjustRate(lower == "faster")
		return ActionContinue
	case "louder", "quieter":
		h.adjustVolume(lower == "louder")
		return ActionContinue
	case "mute", "unmute":
		h.toggleMute()
		return ActionContinue
	case "help":
		h.showHelp()
		return ActionContinue
	}

	switch {
	case strings.HasPrefix(lower, "system "):
		h.setSystemPrompt(strings.TrimSpace(trimmed[len("system "):]))
	case strings.HasPrefix(lower, "save_memory"):
		h.saveMemory(strings.TrimSpace(trimmed[len("save_memory"):]))
	case strings.HasPrefix(lower, "load_memory"):
		h.loadMemory(strings.TrimSpace(trimmed[len("load_memory"):]))
	case strings.HasPrefix(lower, "model "):
		h.switchModel(strings.TrimSpace(trimmed[len("model "):]))
	case strings.HasPrefix(lower, "voice "):
		h.switchVoice(strings.TrimSpace(trimmed[len("voice "):]))
	case strings.HasPrefix(lower, "volume "):
		h.setVolume(strings.TrimSpace(trimmed[len("volume "):]))
	case strings.HasPrefix(lower, "capacity "):
		h.setCapacity(strings.TrimSpace(trimmed[len("capacity "):]))
	default:
		return ActionProcess
	}
	return ActionContinue
}

func (h *Handler) showMemory() {
	fmt.Fprintln(h.out, h.session.Memory().Summary())
}

func (h *Handler) setSystemPrompt(prompt string) {
	if prompt == "" {
		fmt.Fprintf(h.out, "Current system prompt: %s\n", h.session.Memory().SystemPrompt())
		return
	}
	h.session.Memory().SetSystemPrompt(prompt)
	shown := prompt
	if len(shown) > 100 {
		shown = shown[:100] + "..."
	}
	fmt.Fprintf(h.out, "System prompt set to: %s\n", shown)
}

func (h *Handler) saveMemory(filename string) {
	if filename == "" {
		filename = fmt.Sprintf("ollama_memory_%s.json", time.Now().Format("20060102_150405"))
	}
	if err := h.session.Memory().Save(filename); err != nil {
		fmt.Fprintf(h.out, "Error saving memory: %v\n", err)
		return
	}
	fmt.Fprintf(h.out, "Memory saved to %s\n", filename)
}

func (h *Handler) loadMemory(filename string) {
	if filename == "" {
		fmt.Fprintln(h.out, "Please specify a filename: load_memory filename.json")
		return
	}
	if err := h.session.Memory().Load(filename); err != nil {
		fmt.Fprintf(h.out, "Error loading memory: %v\n", err)
		return
	}
	fmt.Fprintf(h.out, "Memory loaded from %s (%d exchanges)\n", filename, h.session.Memory().Len())
}

func (h *Handler) showModels(ctx context.Context) {
	if h.ollama == nil {
		fmt.Fprintln(h.out, "Model listing is only available with the ollama provider")
		return
	}
	models, err := h.ollama.ListModels(ctx)
	if err != nil {
		fmt.Fprintf(h.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintln(h.out, "Available models:")
	current := h.ollama.Model()
	for _, m := range models {
		if m.Name == current {
			fmt.Fprintf(h.out, "  - %s (current)\n", m.Name)
		} else {
			fmt.Fprintf(h.out, "  - %s\n", m.Name)
		}
	}
}

func (h *Handler) switchModel(name string) {
	if h.ollama == nil {
		fmt.Fprintln(h.out, "Model switching is only available with the ollama provider")
		return
	}
	h.ollama.SetModel(name)
	fmt.Fprintf(h.out, "Switched to model: %s\n", name)
}

func (h *Handler) toggleStreaming() {
	if h.ollama == nil {
		fmt.Fprintln(h.out, "Streaming toggle is only available with the ollama provider")
		return
	}
	h.ollama.SetStreaming(!h.ollama.Streaming())
	if h.ollama.Streaming() {
		fmt.Fprintln(h.out, "Streaming mode enabled")
	} else {
		fmt.Fprintln(h.out, "Streaming mode disabled")
	}
}

func (h *Handler) repeat() {
	if !h.session.Repeat() {
		fmt.Fprintln(h.out, "No previous response to repeat")
		return
	}
	fmt.Fprintln(h.out, "Repeating last response...")
	fmt.Fprintln(h.out, h.session.LastResponse())
}

func (h *Handler) showVoices() {
	if h.voices == nil {
		fmt.Fprintln(h.out, "No voices available for this speech backend")
		return
	}
	voices, err := h.voices.Voices()
	if err != nil || len(voices) == 0 {
		fmt.Fprintln(h.out, "No voices available or speech backend not supported")
		return
	}
	current := h.session.Queue().Settings().VoiceID
	fmt.Fprintln(h.out, "Available voices:")
	for i, v := range voices {
		marker := ""
		if v == current {
			marker = " (current)"
		}
		fmt.Fprintf(h.out, "  %d: %s%s\n", i, v, marker)
	}
}

func (h *Handler) switchVoice(arg string) {
	if h.voices == nil {
		fmt.Fprintln(h.out, "No voices available for this speech backend")
		return
	}
	voices, err := h.voices.Voices()
	if err != nil {
		fmt.Fprintf(h.out, "Error listing voices: %v\n", err)
		return
	}
	idx, err := strconv.Atoi(arg)
	if err != nil || idx < 0 || idx >= len(voices) {
		fmt.Fprintln(h.out, "Invalid voice number")
		return
	}
	h.session.Queue().SetVoice(voices[idx])
	fmt.Fprintf(h.out, "Changed to voice: %s\n", voices[idx])
}

func (h *Handler) adjustRate(faster bool) {
	q := h.session.Queue()
	rate := q.Settings().Rate
	if faster {
		rate += 25
	} else {
		rate -= 25
	}
	q.SetRate(rate)
	fmt.Fprintf(h.out, "Speech rate: %d\n", q.Settings().Rate)
}

func (h *Handler) adjustVolume(louder bool) {
	q := h.session.Queue()
	volume := q.Settings().Volume
	if louder {
		volume += 0.1
	} else {
		volume -= 0.1
	}
	q.SetVolume(volume)
	fmt.Fprintf(h.out, "Volume: %.1f\n", q.Settings().Volume)
}

func (h *Handler) toggleMute() {
	q := h.session.Queue()
	if q.Muted() {
		q.Unmute()
		fmt.Fprintf(h.out, "Audio unmuted - Volume: %.1f\n", q.Settings().Volume)
	} else {
		q.Mute()
		fmt.Fprintln(h.out, "Audio muted")
	}
}

func (h *Handler) setVolume(arg string) {
	volume, err := strconv.ParseFloat(arg, 64)
	if err != nil {
		fmt.Fprintln(h.out, "Invalid volume value. Use: volume 0.5")
		return
	}
	if volume < core.MinVolume || volume > core.MaxVolume {
		fmt.Fprintln(h.out, "Volume must be between 0.0 and 1.0")
		return
	}
	q := h.session.Queue()
	q.SetVolume(volume)
	if q.Muted() {
		q.Unmute()
	}
	fmt.Fprintf(h.out, "Volume set to %.1f\n", q.Settings().Volume)
}

func (h *Handler) setCapacity(arg string) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		fmt.Fprintln(h.out, "Invalid capacity value. Use: capacity 50")
		return
	}
	if err := h.session.Memory().SetCapacity(n); err != nil {
		fmt.Fprintf(h.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(h.out, "Memory capacity set to %d exchanges\n", n)
}

func (h *Handler) showHelp() {
	fmt.Fprint(h.out, `
CONVERSATION
  <question>            ask the model, with memory context
  exit/quit/bye         exit the program
  repeat                repeat the last response with speech

MEMORY
  memory                show current memory status
  clear/new/reset       clear conversation memory
  system <prompt>       set or view the system prompt
  save_memory [file]    save conversation memory to a JSON file
  load_memory <file>    load conversation memory from a JSON file
  capacity <n>          set the memory limit in exchanges

MODEL
  models                list available models
  model <name>          switch model (e.g. llama3.2:1b)
  stream                toggle streaming mode

AUDIO
  test_tts              speak a sample sentence
  mute/unmute           mute or unmute speech
  volume <0.0-1.0>      set exact volume
  louder/quieter        adjust volume by 0.1
  faster/slower         adjust speech rate by 25
  voice                 list available voices
  voice <number>        switch voice by number
`)
}
