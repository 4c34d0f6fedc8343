package server

import (
	"context"
	"net/http"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"sollama/core"
	"sollama/session"
)

// Frame types on the chat socket. The client sends "chat" and "cancel";
// the server replies with "delta" frames followed by one "done" or
// "error" frame.
type (
	inboundMessage struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	}

	outboundMessage struct {
		Type  string `json:"type"`
		Text  string `json:"text,omitempty"`
		Error string `json:"error,omitempty"`
	}
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The chat endpoint serves local tooling; origin checks are left to
	// whatever sits in front of it.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server exposes a chat session over a websocket endpoint.
type Server struct {
	session *session.ChatSession
	logger  *core.Logger
}

// New creates a websocket chat server around the given session.
func New(sess *session.ChatSession, logger *core.Logger) *Server {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Server{session: sess, logger: logger}
}

// Handler returns the http handler for the chat endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/chat", s.handleChat)
	return mux
}

// ListenAndServe blocks serving the chat endpoint on addr.
func (s *Server) ListenAndServe(addr string) error {
	s.logger.Info("server: listening", "addr", addr)
	return http.ListenAndServe(addr, s.Handler())
}

// chatConn serializes writes to one websocket connection.
type chatConn struct {
	conn *websocket.Conn
	mu   sync.Mutex

	busyMu sync.Mutex
	busy   bool
}

func (c *chatConn) send(msg outboundMessage) error {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *chatConn) setBusy(on bool) bool {
	c.busyMu.Lock()
	defer c.busyMu.Unlock()
	if on && c.busy {
		return false
	}
	c.busy = on
	return true
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnf("server: upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	s.logger.Debug("server: client connected", "remote", r.RemoteAddr)

	c := &chatConn{conn: conn}
	ctx := r.Context()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			// Leaving mid-stream aborts the in-flight request.
			s.session.Cancel(false)
			return
		}

		var msg inboundMessage
		if err := sonic.Unmarshal(data, &msg); err != nil {
			c.send(outboundMessage{Type: "error", Error: "malformed message"})
			continue
		}

		switch msg.Type {
		case "chat":
			if !c.setBusy(true) {
				c.send(outboundMessage{Type: "error", Error: "a request is already in flight"})
				continue
			}
			go s.runChat(ctx, c, msg.Text)
		case "cancel":
			s.session.Cancel(false)
		default:
			c.send(outboundMessage{Type: "error", Error: "unknown message type"})
		}
	}
}

func (s *Server) runChat(ctx context.Context, c *chatConn, prompt string) {
	defer c.setBusy(false)

	_, err := s.session.Ask(ctx, prompt, func(delta string) {
		c.send(outboundMessage{Type: "delta", Text: delta})
	})
	if err != nil {
		c.send(outboundMessage{Type: "error", Error: err.Error()})
		return
	}
	c.send(outboundMessage{Type: "done"})
}
