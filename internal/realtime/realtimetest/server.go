// Package realtimetest provides an in-process realtime backend for tests.
package realtimetest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/emberapp/ember/internal/wire"
	"github.com/gorilla/websocket"
)

const writeWait = 3 * time.Second

// Frame is a client frame received by the server.
type Frame struct {
	Kind      wire.Kind
	RequestID string
	Raw       []byte
}

// Server speaks the realtime wire protocol over WebSocket. By default it
// answers pings and acknowledges messages; both can be switched off to
// simulate a stalled or lossy backend. Messages are deduplicated by their
// idempotency token the way the real backend does.
type Server struct {
	*httptest.Server

	upgrader websocket.Upgrader

	mu        sync.Mutex
	conns     map[*serverConn]struct{}
	frames    []Frame
	headers   []http.Header
	queries   []string
	messages  []wire.MessagePayload
	serverIDs map[string]string
	nextID    int
	autoPong  bool
	autoAck   bool
	refuse    bool
	reject    map[string]string
}

type serverConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *serverConn) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// NewServer starts a server. Call Close when done.
func NewServer() *Server {
	s := &Server{
		conns:     make(map[*serverConn]struct{}),
		serverIDs: make(map[string]string),
		reject:    make(map[string]string),
		autoPong:  true,
		autoAck:   true,
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// WSURL returns the ws:// endpoint of the server.
func (s *Server) WSURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/realtime"
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	refuse := s.refuse
	s.headers = append(s.headers, r.Header.Clone())
	s.queries = append(s.queries, r.URL.RawQuery)
	s.mu.Unlock()
	if refuse {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn := &serverConn{ws: ws}
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = ws.Close()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		out, err := wire.DecodeOutbound(data)
		if err != nil {
			continue
		}
		s.mu.Lock()
		s.frames = append(s.frames, Frame{Kind: out.Kind, RequestID: out.RequestID, Raw: data})
		s.mu.Unlock()

		switch out.Kind {
		case wire.KindPing:
			s.onPing(conn, out)
		case wire.KindMessage:
			s.onMessage(conn, out.Payload.(wire.MessagePayload))
		}
	}
}

func (s *Server) onPing(conn *serverConn, out wire.Outbound) {
	s.mu.Lock()
	pong := s.autoPong
	s.mu.Unlock()
	if !pong {
		return
	}
	frame, _ := wire.EncodeInbound(wire.KindPong, out.RequestID, nil)
	_ = conn.write(frame)
}

func (s *Server) onMessage(conn *serverConn, p wire.MessagePayload) {
	s.mu.Lock()
	if reason, ok := s.reject[p.Content]; ok {
		s.mu.Unlock()
		frame, _ := wire.EncodeInbound(wire.KindMessageRejected, "", wire.MessageRejected{
			ClientMessageID: p.ClientMessageID,
			ConversationID:  p.ConversationID,
			Reason:          reason,
		})
		_ = conn.write(frame)
		return
	}
	id, seen := s.serverIDs[p.ClientMessageID]
	if !seen {
		s.nextID++
		id = fmt.Sprintf("srv-%d", s.nextID)
		s.serverIDs[p.ClientMessageID] = id
		s.messages = append(s.messages, p)
	}
	ack := s.autoAck
	s.mu.Unlock()

	if !ack {
		return
	}
	frame, _ := wire.EncodeInbound(wire.KindMessageAck, "", wire.MessageAck{
		ClientMessageID: p.ClientMessageID,
		MessageID:       id,
		ConversationID:  p.ConversationID,
		ServerTimestamp: time.Now().UTC(),
	})
	_ = conn.write(frame)
}

// Push sends an inbound event to every connected client.
func (s *Server) Push(kind wire.Kind, payload any) error {
	frame, err := wire.EncodeInbound(kind, "", payload)
	if err != nil {
		return err
	}
	for _, c := range s.snapshotConns() {
		if err := c.write(frame); err != nil {
			return err
		}
	}
	return nil
}

// DropConnections closes every connection without a close handshake.
func (s *Server) DropConnections() {
	for _, c := range s.snapshotConns() {
		_ = c.ws.UnderlyingConn().Close()
	}
}

func (s *Server) snapshotConns() []*serverConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*serverConn, 0, len(s.conns))
	for c := range s.conns {
		out = append(out, c)
	}
	return out
}

// SetAutoPong toggles answering pings.
func (s *Server) SetAutoPong(on bool) {
	s.mu.Lock()
	s.autoPong = on
	s.mu.Unlock()
}

// SetAutoAck toggles acknowledging messages.
func (s *Server) SetAutoAck(on bool) {
	s.mu.Lock()
	s.autoAck = on
	s.mu.Unlock()
}

// Refuse makes new upgrade requests fail with 503.
func (s *Server) Refuse(on bool) {
	s.mu.Lock()
	s.refuse = on
	s.mu.Unlock()
}

// RejectContent makes messages with exactly this content fail validation.
func (s *Server) RejectContent(content, reason string) {
	s.mu.Lock()
	s.reject[content] = reason
	s.mu.Unlock()
}

// Frames returns every frame received so far, optionally filtered by kind.
func (s *Server) Frames(kinds ...wire.Kind) []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Frame
	for _, f := range s.frames {
		if len(kinds) == 0 || containsKind(kinds, f.Kind) {
			out = append(out, f)
		}
	}
	return out
}

// Messages returns the distinct messages the server accepted.
func (s *Server) Messages() []wire.MessagePayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]wire.MessagePayload(nil), s.messages...)
}

// ServerID returns the id assigned to a client message token.
func (s *Server) ServerID(clientMessageID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverIDs[clientMessageID]
}

// Connections returns the number of open connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Dials returns how many upgrade requests were received.
func (s *Server) Dials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.headers)
}

// LastRequest returns the headers and raw query of the latest upgrade request.
func (s *Server) LastRequest() (http.Header, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.headers) == 0 {
		return nil, ""
	}
	return s.headers[len(s.headers)-1], s.queries[len(s.queries)-1]
}

func containsKind(kinds []wire.Kind, k wire.Kind) bool {
	for _, x := range kinds {
		if x == k {
			return true
		}
	}
	return false
}
