package openaillm

import (
	"context"
	"sync"

	"github.com/sashabaranov/go-openai"

	"sollama/core"
	"sollama/stream"
)

// Config holds the configuration for the OpenAI-compatible service.
// BaseURL allows pointing at any server speaking the chat completions
// protocol; empty means api.openai.com.
type Config struct {
	APIKey      string  `json:"api_key"`
	BaseURL     string  `json:"base_url"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float32 `json:"temperature"`
}

// DefaultConfig returns a Config for gpt-4o-mini with stock limits.
func DefaultConfig() Config {
	return Config{Model: openai.GPT4oMini}
}

// Service implements stream.Transport over the OpenAI chat completions API.
type Service struct {
	client      *openai.Client
	logger      *core.Logger
	maxTokens   int
	temperature float32

	mu    sync.RWMutex
	model string
}

// NewService creates an OpenAI-compatible transport.
func NewService(config Config, logger *core.Logger) (*Service, error) {
	if config.APIKey == "" {
		return nil, &core.InvalidRequestError{Reason: "OpenAI API key is required"}
	}
	if config.Model == "" {
		config.Model = DefaultConfig().Model
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	return &Service{
		client:      openai.NewClientWithConfig(clientConfig),
		logger:      logger,
		maxTokens:   config.MaxTokens,
		temperature: config.Temperature,
		model:       config.Model,
	}, nil
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

// ListModels returns the model IDs the server advertises.
func (s *Service) ListModels(ctx context.Context) ([]string, error) {
	resp, err := s.client.ListModels(ctx)
	if err != nil {
		return nil, &core.ConnectionError{URL: "openai", Err: err}
	}
	names := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		names = append(names, m.ID)
	}
	return names, nil
}

// Ping verifies the server accepts our credentials.
func (s *Service) Ping(ctx context.Context) error {
	_, err := s.ListModels(ctx)
	return err
}

// Open starts a streaming chat completion and returns a reader over its
// content deltas.
func (s *Service) Open(ctx context.Context, llmContext core.LLMContext) (stream.DeltaReader, error) {
	req := openai.ChatCompletionRequest{
		Model:       s.Model(),
		Messages:    convertMessages(llmContext.Messages),
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
		Stream:      true,
	}

	completion, err := s.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, &core.ConnectionError{URL: "openai", Err: err}
	}
	return &deltaReader{stream: completion}, nil
}

// deltaReader adapts an openai completion stream, skipping frames that
// carry no content (role preludes, finish markers with empty deltas).
// The library already returns io.EOF at the end of a stream.
type deltaReader struct {
	stream *openai.ChatCompletionStream
}

func (r *deltaReader) Recv() (string, error) {
	for {
		response, err := r.stream.Recv()
		if err != nil {
			return "", err
		}
		if len(response.Choices) == 0 {
			continue
		}
		if content := response.Choices[0].Delta.Content; content != "" {
			return content, nil
		}
	}
}

func (r *deltaReader) Close() error {
	return r.stream.Close()
}

func convertMessages(messages []core.LLMMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		out = append(out, openai.ChatCompletionMessage{
			Role:    convertRole(msg.Role),
			Content: msg.Message,
		})
	}
	return out
}

func convertRole(role core.LLMMessageRole) string {
	switch role {
	case core.LLMMessageRoleAssistant:
		return openai.ChatMessageRoleAssistant
	case core.LLMMessageRoleSystem:
		return openai.ChatMessageRoleSystem
	default:
		return openai.ChatMessageRoleUser
	}
}
