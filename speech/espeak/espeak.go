package espeak

import (
	"bufio"
	"bytes"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"sollama/core"
)

// Config for the espeak subprocess backend.
type Config struct {
	Binary string `json:"binary"` // espeak-compatible binary, e.g. "espeak" or "espeak-ng".
}

// DefaultConfig returns a Config targeting the stock espeak binary.
func DefaultConfig() Config {
	return Config{Binary: "espeak"}
}

// Speaker renders text by spawning one espeak process per segment. Speak
// blocks until the process exits, which makes it a valid blocking speech
// primitive for the queue worker. Interrupt kills the in-flight process,
// so the queue's Flush can cut a segment short.
type Speaker struct {
	binary string
	logger *core.Logger

	mu  sync.Mutex
	cmd *exec.Cmd
}

// NewSpeaker creates an espeak-backed speaker.
func NewSpeaker(config Config, logger *core.Logger) *Speaker {
	if config.Binary == "" {
		config.Binary = DefaultConfig().Binary
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Speaker{binary: config.Binary, logger: logger}
}

// Available reports whether the configured binary can be found on PATH.
func (s *Speaker) Available() bool {
	_, err := exec.LookPath(s.binary)
	return err == nil
}

// Speak renders one segment and blocks until playback finishes.
func (s *Speaker) Speak(text string, settings core.SpeechSettings) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	// espeak: -s is words per minute, -a amplitude 0..200.
	args := []string{
		"-s", strconv.Itoa(settings.Rate),
		"-a", strconv.Itoa(int(settings.Volume * 200)),
	}
	if settings.VoiceID != "" {
		args = append(args, "-v", settings.VoiceID)
	}
	args = append(args, text)

	cmd := exec.Command(s.binary, args...)
	s.mu.Lock()
	s.cmd = cmd
	s.mu.Unlock()

	err := cmd.Run()

	s.mu.Lock()
	s.cmd = nil
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("espeak: %w", err)
	}
	return nil
}

// Interrupt kills the in-flight espeak process, if any, and reports
// whether one was killed. Safe to call from a goroutine other than the one
// blocked in Speak.
func (s *Speaker) Interrupt() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return false, nil
	}
	if err := s.cmd.Process.Kill(); err != nil {
		return false, err
	}
	return true, nil
}

// Voices lists the voice identifiers reported by the espeak binary.
func (s *Speaker) Voices() ([]string, error) {
	out, err := exec.Command(s.binary, "--voices").Output()
	if err != nil {
		return nil, fmt.Errorf("espeak: list voices: %w", err)
	}
	return parseVoices(out), nil
}

// parseVoices extracts the VoiceName column from `espeak --voices` output.
func parseVoices(out []byte) []string {
	var voices []string
	scanner := bufio.NewScanner(bytes.NewReader(out))
	first := true
	for scanner.Scan() {
		if first {
			first = false // header row
			continue
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 4 {
			voices = append(voices, fields[3])
		}
	}
	return voices
}
