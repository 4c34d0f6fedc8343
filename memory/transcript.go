package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bytedance/sonic"
)

// transcriptHeader is the first JSON line in each transcript file.
type transcriptHeader struct {
	SessionID string `json:"session_id"`
	StartedAt string `json:"started_at"`
}

// transcriptEntry is one logged exchange.
type transcriptEntry struct {
	Seq       int    `json:"seq"`
	Timestamp string `json:"ts"`
	Prompt    string `json:"prompt"`
	Response  string `json:"response"`
}

// TranscriptLogger appends completed exchanges to a per-session .jsonl
// file, independent of the bounded in-memory history.
type TranscriptLogger struct {
	mu    sync.Mutex
	file  *os.File
	count int
}

// NewTranscriptLogger creates the log directory and transcript file and
// writes the header line.
func NewTranscriptLogger(dir, sessionID string) (*TranscriptLogger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("transcript: mkdir %q: %w", dir, err)
	}

	path := filepath.Join(dir, sessionID+".jsonl")
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("transcript: create %q: %w", path, err)
	}

	header, _ := sonic.Marshal(transcriptHeader{
		SessionID: sessionID,
		StartedAt: time.Now().UTC().Format(time.RFC3339),
	})
	f.Write(header)
	f.Write([]byte("\n"))

	return &TranscriptLogger{file: f}, nil
}

// LogExchange appends one exchange line. Write errors are swallowed; the
// transcript is best effort and must not fail the conversation.
func (t *TranscriptLogger) LogExchange(e Exchange) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return
	}

	t.count++
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	data, err := sonic.Marshal(transcriptEntry{
		Seq:       t.count,
		Timestamp: ts.UTC().Format(time.RFC3339),
		Prompt:    e.Prompt,
		Response:  e.Response,
	})
	if err != nil {
		return
	}
	t.file.Write(data)
	t.file.Write([]byte("\n"))
}

// Close flushes and closes the transcript file.
func (t *TranscriptLogger) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file != nil {
		t.file.Close()
		t.file = nil
	}
}
