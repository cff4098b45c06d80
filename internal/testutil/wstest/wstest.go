// Package wstest runs an in-process websocket backend speaking the
// envelope protocol, for transport and bridge tests.
package wstest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tek-Fly/ide-mesh-suite/internal/auth"
	"github.com/Tek-Fly/ide-mesh-suite/internal/protocol"
)

// Responder maps one inbound envelope to scripted replies.
type Responder func(protocol.Envelope) []protocol.Envelope

type Server struct {
	t       testing.TB
	httpSrv *httptest.Server

	mu        sync.Mutex
	conns     map[*websocket.Conn]*sync.Mutex
	respond   Responder
	validator auth.Validator

	inbound chan protocol.Envelope
	accepts chan struct{}
}

func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		t:       t,
		conns:   make(map[*websocket.Conn]*sync.Mutex),
		inbound: make(chan protocol.Envelope, 256),
		accepts: make(chan struct{}, 64),
	}
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	s.httpSrv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		writeMu := &sync.Mutex{}
		s.mu.Lock()
		s.conns[conn] = writeMu
		s.mu.Unlock()
		select {
		case s.accepts <- struct{}{}:
		default:
		}
		go s.readConn(conn, writeMu)
	}))
	t.Cleanup(s.Close)
	return s
}

// URL returns the ws:// endpoint.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.httpSrv.URL, "http")
}

// SetResponder installs scripted replies applied to every inbound envelope.
func (s *Server) SetResponder(fn Responder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.respond = fn
}

// RequireAuth validates every authenticate envelope; a rejected token is
// answered with an error envelope instead of closing the connection.
func (s *Server) RequireAuth(v auth.Validator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validator = v
}

// NextEnvelope waits for one inbound envelope of the given type, skipping
// others (keepalive pings arrive at arbitrary points).
func (s *Server) NextEnvelope(want protocol.MessageType, timeout time.Duration) (protocol.Envelope, bool) {
	deadline := time.After(timeout)
	for {
		select {
		case env := <-s.inbound:
			if env.Type == want {
				return env, true
			}
		case <-deadline:
			return protocol.Envelope{}, false
		}
	}
}

// WaitAccept blocks until one new connection has been accepted.
func (s *Server) WaitAccept(timeout time.Duration) bool {
	select {
	case <-s.accepts:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Send broadcasts one envelope to every live connection.
func (s *Server) Send(env protocol.Envelope) {
	raw, err := protocol.Encode(env)
	if err != nil {
		s.t.Fatalf("wstest: encode: %v", err)
	}
	s.writeAll(websocket.TextMessage, raw)
}

// SendBinary broadcasts one binary sub-channel frame.
func (s *Server) SendBinary(channel string, payload []byte) {
	raw, err := protocol.EncodeBinaryFrame(protocol.BinaryFrame{Channel: channel, Payload: payload})
	if err != nil {
		s.t.Fatalf("wstest: encode binary: %v", err)
	}
	s.writeAll(websocket.BinaryMessage, raw)
}

// SendRaw broadcasts arbitrary bytes as a text frame, for malformed-frame tests.
func (s *Server) SendRaw(raw []byte) {
	s.writeAll(websocket.TextMessage, raw)
}

// DropConnections closes every live connection without a close handshake,
// simulating an unexpected transport drop.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()
	for _, conn := range conns {
		_ = conn.Close()
	}
}

// Refuse stops accepting new connections while keeping the URL stable for
// callers that captured it earlier.
func (s *Server) Refuse() {
	s.httpSrv.CloseClientConnections()
	s.httpSrv.Close()
}

func (s *Server) Close() {
	s.DropConnections()
	s.httpSrv.Close()
}

func (s *Server) writeAll(kind int, raw []byte) {
	s.mu.Lock()
	type pair struct {
		conn *websocket.Conn
		mu   *sync.Mutex
	}
	pairs := make([]pair, 0, len(s.conns))
	for conn, mu := range s.conns {
		pairs = append(pairs, pair{conn, mu})
	}
	s.mu.Unlock()
	for _, p := range pairs {
		p.mu.Lock()
		_ = p.conn.WriteMessage(kind, raw)
		p.mu.Unlock()
	}
}

func (s *Server) readConn(conn *websocket.Conn, writeMu *sync.Mutex) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()
	for {
		kind, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		env, err := protocol.Decode(raw)
		if err != nil {
			continue
		}
		select {
		case s.inbound <- env:
		default:
		}
		s.mu.Lock()
		respond := s.respond
		validator := s.validator
		s.mu.Unlock()
		if validator != nil && env.Type == protocol.TypeAuthenticate {
			var creds struct {
				Token string `json:"token"`
			}
			_ = json.Unmarshal(env.Data, &creds)
			if err := validator.Validate(creds.Token); err != nil {
				denied := protocol.New(protocol.TypeError)
				denied.Error = err.Error()
				out, _ := protocol.Encode(denied)
				writeMu.Lock()
				_ = conn.WriteMessage(websocket.TextMessage, out)
				writeMu.Unlock()
			}
		}
		if respond == nil {
			continue
		}
		for _, reply := range respond(env) {
			out, err := protocol.Encode(reply)
			if err != nil {
				continue
			}
			writeMu.Lock()
			_ = conn.WriteMessage(websocket.TextMessage, out)
			writeMu.Unlock()
		}
	}
}
