package remote

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/zaf/g711"

	"sollama/core"
)

// Config for the remote websocket TTS backend.
type Config struct {
	URL    string `json:"url"`               // ws:// or wss:// endpoint of the TTS server.
	APIKey string `json:"api_key,omitempty"` // Sent as the Authorization header when set.
}

// speakRequest is the per-segment message sent to the server.
type speakRequest struct {
	Text   string  `json:"text"`
	Voice  string  `json:"voice,omitempty"`
	Rate   int     `json:"rate"`
	Volume float64 `json:"volume"`
}

// speakStatus is the JSON status frame interleaved with audio frames.
type speakStatus struct {
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

// Speaker streams segments to a websocket TTS server. The server answers
// each request with binary mu-law 8 kHz frames followed by a {"done":true}
// status; frames are decoded to 16-bit PCM and written to the sink (an
// audio device, a player's stdin, or a file).
//
// Speak blocks until the server reports the segment done, so the speech
// queue's ordering guarantee holds end to end. Interrupt drops the
// connection, which aborts the in-flight generation; the next Speak
// redials.
type Speaker struct {
	config Config
	sink   io.Writer
	logger *core.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	speaking bool
}

// NewSpeaker creates a remote speaker writing decoded PCM to sink.
func NewSpeaker(config Config, sink io.Writer, logger *core.Logger) (*Speaker, error) {
	if config.URL == "" {
		return nil, errors.New("remote tts: URL is required")
	}
	if sink == nil {
		return nil, errors.New("remote tts: sink is required")
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Speaker{config: config, sink: sink, logger: logger}, nil
}

// Speak sends one segment and streams its audio into the sink.
func (s *Speaker) Speak(text string, settings core.SpeechSettings) error {
	conn, err := s.ensureConn()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.speaking = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.speaking = false
		s.mu.Unlock()
	}()

	payload, err := sonic.Marshal(speakRequest{
		Text:   text,
		Voice:  settings.VoiceID,
		Rate:   settings.Rate,
		Volume: settings.Volume,
	})
	if err != nil {
		return fmt.Errorf("remote tts: marshal request: %w", err)
	}

	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		s.dropConn()
		return fmt.Errorf("remote tts: send: %w", err)
	}

	for {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			s.dropConn()
			return fmt.Errorf("remote tts: read: %w", err)
		}

		switch messageType {
		case websocket.BinaryMessage:
			pcm := g711.DecodeUlaw(message)
			if _, err := s.sink.Write(pcm); err != nil {
				return fmt.Errorf("remote tts: sink: %w", err)
			}
		case websocket.TextMessage:
			var status speakStatus
			if err := sonic.Unmarshal(message, &status); err != nil {
				s.logger.Warnf("remote tts: unparseable status frame: %v", err)
				continue
			}
			if status.Error != "" {
				return fmt.Errorf("remote tts: server error: %s", status.Error)
			}
			if status.Done {
				return nil
			}
		}
	}
}

// Interrupt aborts the in-flight generation by dropping the connection and
// reports whether a segment was mid-playback.
func (s *Speaker) Interrupt() (bool, error) {
	s.mu.Lock()
	speaking := s.speaking
	s.mu.Unlock()
	s.dropConn()
	return speaking, nil
}

// Close releases the connection.
func (s *Speaker) Close() error {
	s.dropConn()
	return nil
}

func (s *Speaker) ensureConn() (*websocket.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return s.conn, nil
	}

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	var headers map[string][]string
	if s.config.APIKey != "" {
		headers = map[string][]string{"Authorization": {"Bearer " + s.config.APIKey}}
	}

	conn, _, err := dialer.Dial(s.config.URL, headers)
	if err != nil {
		return nil, fmt.Errorf("remote tts: dial %s: %w", s.config.URL, err)
	}
	s.conn = conn
	return conn, nil
}

func (s *Speaker) dropConn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.conn.Close()
		s.conn = nil
	}
}
