package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"sollama/command"
	"sollama/config"
	"sollama/core"
	"sollama/memory"
	"sollama/server"
	ollama "sollama/services/ollama/llm"
	openaillm "sollama/services/openai/llm"
	"sollama/session"
	"sollama/speech"
	"sollama/speech/espeak"
	"sollama/speech/remote"
	"sollama/stream"
	"sollama/syscheck"
	"sollama/utils/text"
)

func main() {
	if err := godotenv.Load(".env.local"); err != nil {
		core.GetLogger().Debug("No .env.local file found")
	}

	settings := loadSettings()
	flags := registerFlags(flag.CommandLine, settings)
	flag.Parse()

	if *flags.settingsPath != "" {
		loaded, err := config.FromFile(*flags.settingsPath)
		if err != nil {
			core.GetLogger().Fatalf("loading settings: %v", err)
		}
		settings = loaded
	}
	flags.apply(flag.CommandLine, &settings)

	logger := core.GetLogger()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ollamaService := ollama.NewService(ollama.Config{
		URL:       settings.OllamaURL,
		Model:     settings.Model,
		Streaming: true,
	}, logger)

	var transport stream.Transport = ollamaService
	if settings.Provider == "openai" {
		svc, err := openaillm.NewService(openaillm.Config{
			APIKey:  getEnv("OPENAI_API_KEY", ""),
			BaseURL: settings.OpenAIBaseURL,
			Model:   settings.Model,
		}, logger)
		if err != nil {
			logger.Fatalf("creating OpenAI service: %v", err)
		}
		transport = svc
	}

	speaker, voices := buildSpeaker(*flags.speechMode, settings, logger)
	queueConfig := speech.DefaultConfig()
	queueConfig.Settings = settings.SpeechSettings()
	queue := speech.NewQueue(speaker, queueConfig, logger)
	defer queue.Shutdown()
	if settings.Muted {
		queue.Mute()
	}

	mem, err := memory.New(settings.SystemPrompt, settings.MaxMemory)
	if err != nil {
		logger.Fatalf("creating memory: %v", err)
	}
	if *flags.loadMemory != "" {
		if err := mem.Load(*flags.loadMemory); err != nil {
			logger.Warnf("loading memory from %s: %v", *flags.loadMemory, err)
		} else {
			fmt.Printf("Loaded %d exchanges from %s\n", mem.Len(), *flags.loadMemory)
		}
	}

	var transcript *memory.TranscriptLogger
	if *flags.logDir != "" {
		transcript, err = memory.NewTranscriptLogger(*flags.logDir, "conversation_"+time.Now().Format("20060102_150405"))
		if err != nil {
			logger.Warnf("conversation transcript disabled: %v", err)
		} else {
			defer transcript.Close()
		}
	}

	sess := session.New(stream.NewClient(transport, logger), queue, mem, session.Config{
		SegmentSoftLimit: text.DefaultSoftLimit,
		Transcript:       transcript,
	}, logger)

	if settings.Provider == "ollama" {
		var probe syscheck.SpeechProbe
		if p, ok := speaker.(syscheck.SpeechProbe); ok {
			probe = p
		}
		syscheck.New(ollamaService, probe, logger).Run(ctx, os.Stdout)
	}

	if settings.ServeAddr != "" {
		if err := server.New(sess, logger).ListenAndServe(settings.ServeAddr); err != nil {
			logger.Fatalf("server: %v", err)
		}
		return
	}

	var ollamaForCommands *ollama.Service
	if settings.Provider == "ollama" {
		ollamaForCommands = ollamaService
	}
	runREPL(ctx, sess, command.NewHandler(sess, ollamaForCommands, voices, os.Stdout, logger))
}

// cliFlags holds the command-line flag values. Flag defaults come from the
// SETTINGS_PATH settings so -h shows effective values.
type cliFlags struct {
	settingsPath *string
	provider     *string
	model        *string
	url          *string
	rate         *int
	volume       *float64
	mute         *bool
	systemPrompt *string
	loadMemory   *string
	capacity     *int
	speechMode   *string
	logDir       *string
	serveAddr    *string
}

func registerFlags(fs *flag.FlagSet, defaults config.Settings) *cliFlags {
	return &cliFlags{
		settingsPath: fs.String("settings", "", "path to a settings JSON file"),
		provider:     fs.String("provider", defaults.Provider, "LLM provider (ollama or openai)"),
		model:        fs.String("model", defaults.Model, "model name"),
		url:          fs.String("url", defaults.OllamaURL, "Ollama server URL"),
		rate:         fs.Int("rate", defaults.SpeechRate, "speech rate in words per minute"),
		volume:       fs.Float64("volume", defaults.Volume, "speech volume (0.0-1.0)"),
		mute:         fs.Bool("mute", defaults.Muted, "start with audio muted"),
		systemPrompt: fs.String("system-prompt", defaults.SystemPrompt, "system prompt"),
		loadMemory:   fs.String("load-memory", "", "memory JSON file to load at startup"),
		capacity:     fs.Int("capacity", defaults.MaxMemory, "memory limit in exchanges"),
		speechMode:   fs.String("speech", "auto", "speech backend: auto, espeak, remote or none"),
		logDir:       fs.String("log-conversation", "", "directory for conversation transcripts (disabled when empty)"),
		serveAddr:    fs.String("serve", defaults.ServeAddr, "serve a websocket chat endpoint on this address instead of the REPL"),
	}
}

// apply overlays only the flags the user actually passed, so values from a
// -settings file survive unless explicitly overridden on the command line.
func (f *cliFlags) apply(fs *flag.FlagSet, settings *config.Settings) {
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "provider":
			settings.Provider = *f.provider
		case "model":
			settings.Model = *f.model
		case "url":
			settings.OllamaURL = *f.url
		case "rate":
			settings.SpeechRate = *f.rate
		case "volume":
			settings.Volume = *f.volume
		case "mute":
			settings.Muted = *f.mute
		case "system-prompt":
			settings.SystemPrompt = *f.systemPrompt
		case "capacity":
			settings.MaxMemory = *f.capacity
		case "serve":
			settings.ServeAddr = *f.serveAddr
		}
	})
}

// runREPL reads lines from stdin, dispatches commands and streams prompts.
func runREPL(ctx context.Context, sess *session.ChatSession, handler *command.Handler) {
	fmt.Println("Type 'help' for commands, 'exit' to quit.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\nYou: ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch handler.Handle(ctx, line) {
		case command.ActionExit:
			fmt.Println("Goodbye!")
			return
		case command.ActionContinue:
			continue
		}

		fmt.Print("Assistant: ")
		_, err := sess.Ask(ctx, line, func(delta string) {
			fmt.Print(delta)
		})
		fmt.Println()
		if err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	}
}

// buildSpeaker selects the speech backend. The second return value lists
// voices when the backend supports enumeration.
func buildSpeaker(mode string, settings config.Settings, logger *core.Logger) (core.Speaker, command.VoiceLister) {
	if mode == "auto" {
		switch {
		case settings.RemoteTTSURL != "":
			mode = "remote"
		default:
			mode = "espeak"
		}
	}

	switch mode {
	case "none":
		return silentSpeaker{}, nil
	case "remote":
		speaker, err := remote.NewSpeaker(remote.Config{
			URL:    settings.RemoteTTSURL,
			APIKey: getEnv("TTS_API_KEY", ""),
		}, os.Stdout, logger)
		if err != nil {
			logger.Warnf("remote speech unavailable, falling back to espeak: %v", err)
			return espeak.NewSpeaker(espeak.Config{Binary: settings.SpeechBinary}, logger), nil
		}
		return speaker, nil
	default:
		speaker := espeak.NewSpeaker(espeak.Config{Binary: settings.SpeechBinary}, logger)
		return speaker, speaker
	}
}

// silentSpeaker discards all speech, for text-only operation.
type silentSpeaker struct{}

func (silentSpeaker) Speak(text string, settings core.SpeechSettings) error { return nil }

// loadSettings reads the settings file named by SETTINGS_PATH, falling
// back to defaults when missing.
func loadSettings() config.Settings {
	path := getEnv("SETTINGS_PATH", "./settings.json")
	settings, err := config.FromFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			core.GetLogger().Warnf("loading %s: %v, using defaults", path, err)
		}
		return config.Default()
	}
	return settings
}

// getEnv gets an environment variable with a default fallback
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
