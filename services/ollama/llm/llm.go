package ollama

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"sollama/core"
	"sollama/stream"
)

// DefaultURL is the stock local Ollama endpoint.
const DefaultURL = "http://localhost:11434"

// Config holds the configuration for the Ollama service.
type Config struct {
	URL       string `json:"url"`
	Model     string `json:"model"`
	Streaming bool   `json:"streaming"`
}

// DefaultConfig returns a Config targeting a local server with streaming on.
func DefaultConfig() Config {
	return Config{
		URL:       DefaultURL,
		Model:     "llama3.2",
		Streaming: true,
	}
}

// Service implements stream.Transport against the Ollama HTTP API
// (/api/generate with newline-delimited JSON chunks). Model and streaming
// mode can be switched at runtime between requests.
type Service struct {
	url    string
	client *http.Client
	logger *core.Logger

	mu        sync.RWMutex
	model     string
	streaming bool
}

// NewService creates an Ollama transport.
func NewService(config Config, logger *core.Logger) *Service {
	if config.URL == "" {
		config.URL = DefaultURL
	}
	if config.Model == "" {
		config.Model = DefaultConfig().Model
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Service{
		url: strings.TrimRight(config.URL, "/"),
		// No client-level timeout: a streaming response stays open for as
		// long as the model generates. Deadlines come from the caller's ctx.
		client:    &http.Client{},
		logger:    logger,
		model:     config.Model,
		streaming: config.Streaming,
	}
}

func (s *Service) URL() string {
	return s.url
}

func (s *Service) Model() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model
}

func (s *Service) SetModel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.model = name
}

func (s *Service) Streaming() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streaming
}

func (s *Service) SetStreaming(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streaming = on
}

// Wire types for /api/generate.
type (
	generateRequest struct {
		Model  string `json:"model"`
		Prompt string `json:"prompt"`
		Stream bool   `json:"stream"`
	}

	generateChunk struct {
		Response string `json:"response"`
		Done     bool   `json:"done"`
	}
)

// formatPrompt renders the message context into Ollama's single-prompt
// format: role-labelled blocks separated by blank lines, with a trailing
// "Assistant:" cue.
func formatPrompt(llmContext core.LLMContext) string {
	parts := make([]string, 0, len(llmContext.Messages)+1)
	for _, msg := range llmContext.Messages {
		switch msg.Role {
		case core.LLMMessageRoleSystem:
			parts = append(parts, "System: "+msg.Message)
		case core.LLMMessageRoleUser:
			parts = append(parts, "Human: "+msg.Message)
		case core.LLMMessageRoleAssistant:
			parts = append(parts, "Assistant: "+msg.Message)
		}
	}
	parts = append(parts, "Assistant:")
	return strings.Join(parts, "\n\n")
}

// Open starts one completion attempt and returns a reader over its deltas.
func (s *Service) Open(ctx context.Context, llmContext core.LLMContext) (stream.DeltaReader, error) {
	s.mu.RLock()
	model, streaming := s.model, s.streaming
	s.mu.RUnlock()

	body, err := sonic.Marshal(generateRequest{
		Model:  model,
		Prompt: formatPrompt(llmContext),
		Stream: streaming,
	})
	if err != nil {
		return nil, &core.InvalidRequestError{Reason: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, &core.InvalidRequestError{Reason: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &core.ConnectionError{URL: s.url, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &core.ConnectionError{URL: s.url, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	if !streaming {
		return &singleReader{body: resp.Body}, nil
	}
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &deltaReader{body: resp.Body, scanner: scanner}, nil
}

// deltaReader consumes the newline-delimited JSON chunk stream.
type deltaReader struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
}

func (r *deltaReader) Recv() (string, error) {
	if r.done {
		return "", io.EOF
	}
	for r.scanner.Scan() {
		line := bytes.TrimSpace(r.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk generateChunk
		if err := sonic.Unmarshal(line, &chunk); err != nil {
			// Malformed keep-alive lines are skipped, not fatal.
			continue
		}
		if chunk.Done {
			r.done = true
			if chunk.Response != "" {
				return chunk.Response, nil
			}
			return "", io.EOF
		}
		if chunk.Response == "" {
			continue
		}
		return chunk.Response, nil
	}
	if err := r.scanner.Err(); err != nil {
		return "", err
	}
	r.done = true
	return "", io.EOF
}

func (r *deltaReader) Close() error {
	return r.body.Close()
}

// singleReader adapts a non-streaming response to the DeltaReader shape:
// one delta carrying the whole response, then EOF.
type singleReader struct {
	body io.ReadCloser
	done bool
}

func (r *singleReader) Recv() (string, error) {
	if r.done {
		return "", io.EOF
	}
	r.done = true
	data, err := io.ReadAll(r.body)
	if err != nil {
		return "", err
	}
	var chunk generateChunk
	if err := sonic.Unmarshal(data, &chunk); err != nil {
		return "", fmt.Errorf("ollama: decode response: %w", err)
	}
	return chunk.Response, nil
}

func (r *singleReader) Close() error {
	return r.body.Close()
}

// ModelInfo describes one installed model as reported by /api/tags.
type ModelInfo struct {
	Name       string `json:"name"`
	Size       int64  `json:"size,omitempty"`
	ModifiedAt string `json:"modified_at,omitempty"`
}

type tagsResponse struct {
	Models []ModelInfo `json:"models"`
}

// ListModels fetches the installed models from the server.
func (s *Service) ListModels(ctx context.Context) ([]ModelInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &core.ConnectionError{URL: s.url, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &core.ConnectionError{URL: s.url, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var tags tagsResponse
	if err := sonic.Unmarshal(data, &tags); err != nil {
		return nil, fmt.Errorf("ollama: decode /api/tags: %w", err)
	}
	return tags.Models, nil
}

// Ping verifies the server is reachable.
func (s *Service) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return &core.ConnectionError{URL: s.url, Err: err}
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &core.ConnectionError{URL: s.url, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	return nil
}
