package config

import (
	"fmt"
	"os"

	"github.com/bytedance/sonic"

	"sollama/core"
)

// Defaults for a fresh installation.
const (
	DefaultModel      = "llama3.2"
	DefaultOllamaURL  = "http://localhost:11434"
	DefaultSpeechRate = 175
	DefaultVolume     = 1.0
	DefaultMaxMemory  = 50
	DefaultBinary     = "espeak"

	DefaultSystemPrompt = "You are a helpful AI assistant with text-to-speech capabilities. " +
		"You provide clear, concise, and engaging responses. When speaking, you use natural " +
		"conversational language that sounds good when read aloud. You remember previous parts " +
		"of our conversation and can reference them when relevant."
)

// Settings is the persisted application configuration.
type Settings struct {
	Provider      string  `json:"provider"`
	Model         string  `json:"model"`
	OllamaURL     string  `json:"ollama_url"`
	OpenAIBaseURL string  `json:"openai_base_url,omitempty"`
	SystemPrompt  string  `json:"system_prompt"`
	MaxMemory     int     `json:"max_memory"`
	SpeechRate    int     `json:"speech_rate"`
	Volume        float64 `json:"volume"`
	Voice         string  `json:"voice,omitempty"`
	Muted         bool    `json:"muted"`
	SpeechBinary  string  `json:"speech_binary"`
	RemoteTTSURL  string  `json:"remote_tts_url,omitempty"`
	ServeAddr     string  `json:"serve_addr,omitempty"`
}

// Default returns the stock settings.
func Default() Settings {
	return Settings{
		Provider:     "ollama",
		Model:        DefaultModel,
		OllamaURL:    DefaultOllamaURL,
		SystemPrompt: DefaultSystemPrompt,
		MaxMemory:    DefaultMaxMemory,
		SpeechRate:   DefaultSpeechRate,
		Volume:       DefaultVolume,
		SpeechBinary: DefaultBinary,
	}
}

// SpeechSettings converts the persisted audio fields to runtime settings.
func (s Settings) SpeechSettings() core.SpeechSettings {
	return core.SpeechSettings{VoiceID: s.Voice, Rate: s.SpeechRate, Volume: s.Volume}.Clamped()
}

// FromFile loads settings from a JSON file, filling unset fields with
// defaults.
func FromFile(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return FromJSON(data)
}

// FromJSON parses settings, filling unset fields with defaults.
func FromJSON(data []byte) (Settings, error) {
	s := Default()
	if err := sonic.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("config: parse: %w", err)
	}
	if s.MaxMemory < 1 {
		return Settings{}, fmt.Errorf("config: max_memory must be at least 1")
	}
	return s, nil
}

// Save writes the settings to a JSON file.
func (s Settings) Save(path string) error {
	data, err := sonic.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
