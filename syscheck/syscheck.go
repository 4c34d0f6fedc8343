package syscheck

import (
	"context"
	"fmt"
	"io"
	"runtime"

	"sollama/core"
	ollama "sollama/services/ollama/llm"
)

const (
	ollamaWindowsURL   = "https://ollama.ai/download/windows"
	ollamaMacURL       = "https://ollama.ai/download/mac"
	ollamaInstallShURL = "https://ollama.ai/install.sh"
)

// SpeechProbe reports whether a speech backend is usable.
type SpeechProbe interface {
	Available() bool
}

// Report holds the result of a startup environment check.
type Report struct {
	ServerReachable bool
	Models          []ollama.ModelInfo
	SpeechAvailable bool
}

// Checker verifies the model server and the speech backend at startup.
type Checker struct {
	service *ollama.Service
	speech  SpeechProbe
	logger  *core.Logger
}

// New creates a checker. The speech probe may be nil when speech output
// is disabled.
func New(service *ollama.Service, speech SpeechProbe, logger *core.Logger) *Checker {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Checker{service: service, speech: speech, logger: logger}
}

// Run probes the environment and writes a short report to out.
func (c *Checker) Run(ctx context.Context, out io.Writer) Report {
	var report Report

	if err := c.service.Ping(ctx); err != nil {
		fmt.Fprintf(out, "Ollama server not reachable at %s: %v\n", c.service.URL(), err)
		writeInstallHints(out)
	} else {
		report.ServerReachable = true
		fmt.Fprintf(out, "Ollama server reachable at %s\n", c.service.URL())

		models, err := c.service.ListModels(ctx)
		if err != nil {
			c.logger.Warnf("syscheck: listing models failed: %v", err)
		} else {
			report.Models = models
			if len(models) == 0 {
				fmt.Fprintln(out, "No models installed. Pull one with: ollama pull llama3.2")
			} else {
				fmt.Fprintf(out, "%d model(s) installed\n", len(models))
			}
		}
	}

	if c.speech != nil {
		report.SpeechAvailable = c.speech.Available()
		if !report.SpeechAvailable {
			fmt.Fprintln(out, "Speech backend not available; responses will be text only")
		}
	}
	return report
}

func writeInstallHints(out io.Writer) {
	switch runtime.GOOS {
	case "windows":
		fmt.Fprintf(out, "Install Ollama from %s, then run: ollama pull llama3.2\n", ollamaWindowsURL)
	case "darwin":
		fmt.Fprintf(out, "Install Ollama from %s (or: brew install ollama), then run: ollama pull llama3.2\n", ollamaMacURL)
	default:
		fmt.Fprintf(out, "Install Ollama with: curl -fsSL %s | sh\n", ollamaInstallShURL)
		fmt.Fprintln(out, "Then start it (ollama serve) and pull a model: ollama pull llama3.2")
	}
	fmt.Fprintln(out, "If the server is installed but refusing connections, run: ollama serve")
}
