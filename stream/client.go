package stream

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"sollama/core"
)

// DeltaReader yields the text deltas of one completion, in order. Recv
// blocks until a delta is available and returns io.EOF once the model
// server reports the stream complete.
type DeltaReader interface {
	Recv() (string, error)
	Close() error
}

// Transport opens a single streaming completion attempt against a model
// server. Implementations return *core.ConnectionError when the transport
// cannot be established. The passed context is cancelled when the session
// is cancelled, which must unblock any pending Recv.
type Transport interface {
	Open(ctx context.Context, llmContext core.LLMContext) (DeltaReader, error)
}

// Client turns requests into streaming sessions. It makes exactly one
// transport attempt per Open; retry policy, if any, belongs to the caller.
type Client struct {
	transport Transport
	logger    *core.Logger
}

// NewClient creates a client over the given transport.
func NewClient(transport Transport, logger *core.Logger) *Client {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Client{transport: transport, logger: logger}
}

// Open begins a streaming request. The request text is appended as the
// final user message of the supplied context.
func (c *Client) Open(ctx context.Context, requestText string, llmContext core.LLMContext) (*Session, error) {
	if strings.TrimSpace(requestText) == "" {
		return nil, &core.InvalidRequestError{Reason: "empty prompt"}
	}

	full := llmContext.Clone()
	full.AddUserMessage(requestText)

	streamCtx, cancel := context.WithCancel(ctx)
	reader, err := c.transport.Open(streamCtx, full)
	if err != nil {
		cancel()
		return nil, err
	}

	s := &Session{
		id:          uuid.NewString(),
		requestText: requestText,
		reader:      reader,
		cancelFn:    cancel,
		state:       StatePending,
		logger:      c.logger,
	}
	c.logger.Debugf("stream: opened session %s", s.id)
	return s, nil
}
