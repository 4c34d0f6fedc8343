package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"sollama/core"
)

// DefaultCapacity is the number of exchanges retained when no capacity is
// configured.
const DefaultCapacity = 50

// Exchange is one user prompt and the assistant's full response. Immutable
// once created; removed only by eviction or Clear.
type Exchange struct {
	Prompt    string    `json:"prompt"`
	Response  string    `json:"response"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationMemory keeps a bounded, insertion-ordered log of exchanges
// used to build the next request's prompt context. Eviction is strict
// FIFO: at capacity, appending one exchange drops exactly the oldest one.
//
// All methods are safe for concurrent use. Save and Load snapshot state
// under the lock and do file I/O outside it, so persistence never blocks
// other callers on the disk.
type ConversationMemory struct {
	mu           sync.Mutex
	exchanges    []Exchange
	capacity     int
	systemPrompt string
	startedAt    time.Time
}

// New creates a memory with the given system prompt and capacity.
func New(systemPrompt string, capacity int) (*ConversationMemory, error) {
	if capacity < 1 {
		return nil, core.ErrInvalidCapacity
	}
	return &ConversationMemory{
		capacity:     capacity,
		systemPrompt: systemPrompt,
		startedAt:    time.Now(),
	}, nil
}

// Append adds an exchange at the tail, evicting the head first when at
// capacity.
func (m *ConversationMemory) Append(e Exchange) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.exchanges) >= m.capacity {
		m.exchanges = m.exchanges[1:]
	}
	m.exchanges = append(m.exchanges, e)
}

// BuildContext returns the prompt context for the next request: the system
// prompt (when set) followed by the retained exchanges oldest-to-newest as
// user/assistant message pairs. Memory is not mutated.
func (m *ConversationMemory) BuildContext() core.LLMContext {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ctx core.LLMContext
	if m.systemPrompt != "" {
		ctx.AddSystemMessage(m.systemPrompt)
	}
	for _, e := range m.exchanges {
		ctx.AddUserMessage(e.Prompt)
		ctx.AddAssistantMessage(e.Response)
	}
	return ctx
}

// Clear empties the retained exchanges. Capacity and system prompt are
// unchanged; the session clock restarts.
func (m *ConversationMemory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exchanges = nil
	m.startedAt = time.Now()
}

// SetCapacity changes the retention bound. Shrinking below the current
// length evicts from the oldest end until the invariant holds again.
func (m *ConversationMemory) SetCapacity(n int) error {
	if n < 1 {
		return core.ErrInvalidCapacity
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.capacity = n
	if excess := len(m.exchanges) - n; excess > 0 {
		m.exchanges = append([]Exchange(nil), m.exchanges[excess:]...)
	}
	return nil
}

func (m *ConversationMemory) SetSystemPrompt(prompt string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.systemPrompt = prompt
}

func (m *ConversationMemory) SystemPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.systemPrompt
}

// Exchanges returns a snapshot of the retained exchanges, oldest first.
func (m *ConversationMemory) Exchanges() []Exchange {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Exchange(nil), m.exchanges...)
}

func (m *ConversationMemory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.exchanges)
}

func (m *ConversationMemory) Capacity() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.capacity
}

// Summary describes the current memory state for status displays.
func (m *ConversationMemory) Summary() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	summary := fmt.Sprintf("Memory: %d/%d exchanges", len(m.exchanges), m.capacity)
	if len(m.exchanges) > 0 {
		summary += fmt.Sprintf(", %.1f min session", time.Since(m.startedAt).Minutes())
	}
	return summary
}

// memoryDocument is the persisted JSON shape. The exchange list is ordered
// oldest first, matching in-memory order.
type memoryDocument struct {
	SystemPrompt string     `json:"system_prompt"`
	Capacity     int        `json:"capacity"`
	StartedAt    time.Time  `json:"started_at"`
	SavedAt      time.Time  `json:"saved_at"`
	Exchanges    []Exchange `json:"exchanges"`
}

// Save serializes the full memory state to path. The document is written
// to a temporary file in the target directory and renamed into place, so a
// failed write never corrupts a previously saved session.
func (m *ConversationMemory) Save(path string) error {
	m.mu.Lock()
	doc := memoryDocument{
		SystemPrompt: m.systemPrompt,
		Capacity:     m.capacity,
		StartedAt:    m.startedAt,
		SavedAt:      time.Now(),
		Exchanges:    append([]Exchange(nil), m.exchanges...),
	}
	m.mu.Unlock()

	data, err := sonic.MarshalIndent(doc, "", "  ")
	if err != nil {
		return &core.PersistenceError{Op: "save", Path: path, Err: err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return &core.PersistenceError{Op: "save", Path: path, Err: err}
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &core.PersistenceError{Op: "save", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return &core.PersistenceError{Op: "save", Path: path, Err: err}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return &core.PersistenceError{Op: "save", Path: path, Err: err}
	}
	return nil
}

// Load replaces the current contents with the session stored at path. The
// document is parsed and validated in full before anything is swapped in:
// on any failure memory is left exactly as it was. The file itself is only
// read, never modified.
func (m *ConversationMemory) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &core.PersistenceError{Op: "load", Path: path, Err: err}
	}

	var doc memoryDocument
	if err := sonic.Unmarshal(data, &doc); err != nil {
		return &core.PersistenceError{Op: "load", Path: path, Err: err}
	}
	if doc.Capacity < 1 {
		return &core.PersistenceError{Op: "load", Path: path, Err: core.ErrInvalidCapacity}
	}
	// A document carrying more exchanges than its own capacity is trimmed
	// from the oldest end so the invariant holds after the swap.
	exchanges := doc.Exchanges
	if excess := len(exchanges) - doc.Capacity; excess > 0 {
		exchanges = exchanges[excess:]
	}
	startedAt := doc.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.systemPrompt = doc.SystemPrompt
	m.capacity = doc.Capacity
	m.exchanges = append([]Exchange(nil), exchanges...)
	m.startedAt = startedAt
	return nil
}
