// Package socketiotest provides an in-process Socket.IO server for tests.
package socketiotest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-go-golems/chatwidget/pkg/socketio"
	"github.com/gorilla/websocket"
)

// Received is an event emitted by a client.
type Received struct {
	SID  string
	Name string
	Args []json.RawMessage
}

type Option func(*Server)

// WithRejectMessage makes the server answer every namespace CONNECT with CONNECT_ERROR.
func WithRejectMessage(msg string) Option {
	return func(s *Server) { s.rejectMessage = msg }
}

// WithoutWebsocket refuses websocket upgrades so clients fall back to polling.
func WithoutWebsocket() Option {
	return func(s *Server) { s.disableWebsocket = true }
}

func WithNamespace(ns string) Option {
	return func(s *Server) { s.namespace = ns }
}

// Server is a minimal Engine.IO v4 / Socket.IO v5 server supporting the
// websocket and polling transports.
type Server struct {
	*httptest.Server

	namespace        string
	rejectMessage    string
	disableWebsocket bool

	upgrader websocket.Upgrader
	received chan Received

	mu       sync.Mutex
	sessions map[string]*session
	nextID   int
	connects int
	pongs    int
}

type session struct {
	sid       string
	ws        *websocket.Conn
	out       chan string
	done      chan struct{}
	closeOnce sync.Once
	connected bool
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.ws != nil {
			_ = s.ws.Close()
		}
	})
}

func (s *session) push(raw string) {
	select {
	case s.out <- raw:
	case <-s.done:
	}
}

func NewServer(t testing.TB, opts ...Option) *Server {
	s := &Server{
		namespace: "/chat-bot",
		received:  make(chan Received, 64),
		sessions:  map[string]*session{},
	}
	for _, o := range opts {
		o(s)
	}
	mux := http.NewServeMux()
	mux.HandleFunc(socketio.DefaultPath, s.handle)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// Endpoint is the URL a client connects to, with the namespace as its path.
func (s *Server) Endpoint() string {
	if s.namespace == "/" {
		return s.URL
	}
	return s.URL + s.namespace
}

func (s *Server) Received() <-chan Received { return s.received }

// Connects counts the namespace connections accepted so far.
func (s *Server) Connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

func (s *Server) Pongs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pongs
}

// Emit sends an event to every connected client.
func (s *Server) Emit(name string, payload any) {
	p, err := socketio.NewEvent(s.namespace, name, payload)
	if err != nil {
		panic(err)
	}
	raw := socketio.EnginePacket{Type: socketio.EngineMessage, Data: p.Encode()}.Encode()
	for _, sess := range s.connected() {
		sess.push(raw)
	}
}

// EmitRaw sends an already encoded Socket.IO packet to every connected client.
func (s *Server) EmitRaw(packet string) {
	raw := socketio.EnginePacket{Type: socketio.EngineMessage, Data: packet}.Encode()
	for _, sess := range s.connected() {
		sess.push(raw)
	}
}

// Ping sends an engine ping to every connected client.
func (s *Server) Ping() {
	for _, sess := range s.connected() {
		sess.push(string(socketio.EnginePing))
	}
}

// DropAll closes every session without a close handshake.
func (s *Server) DropAll() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = map[string]*session{}
	s.mu.Unlock()
	for _, sess := range sessions {
		sess.close()
	}
}

func (s *Server) Close() {
	s.DropAll()
	s.Server.Close()
}

func (s *Server) connected() []*session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if sess.connected {
			out = append(out, sess)
		}
	}
	return out
}

func (s *Server) newSession(ws *websocket.Conn) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	sess := &session{
		sid:  fmt.Sprintf("sid-%d", s.nextID),
		ws:   ws,
		out:  make(chan string, 64),
		done: make(chan struct{}),
	}
	s.sessions[sess.sid] = sess
	return sess
}

func (s *Server) lookup(sid string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[sid]
}

func (s *Server) remove(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess.sid)
	s.mu.Unlock()
	sess.close()
}

func openPacket(sid string) string {
	b, _ := json.Marshal(socketio.OpenPayload{
		SID:          sid,
		Upgrades:     []string{},
		PingInterval: 25000,
		PingTimeout:  20000,
		MaxPayload:   1000000,
	})
	return socketio.EnginePacket{Type: socketio.EngineOpen, Data: string(b)}.Encode()
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Query().Get("transport") {
	case socketio.TransportWebsocket:
		if s.disableWebsocket {
			http.Error(w, "websocket disabled", http.StatusBadRequest)
			return
		}
		s.serveWebsocket(w, r)
	case socketio.TransportPolling:
		s.servePolling(w, r)
	default:
		http.Error(w, "unknown transport", http.StatusBadRequest)
	}
}

func (s *Server) serveWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	sess := s.newSession(conn)
	defer s.remove(sess)

	go func() {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(openPacket(sess.sid))); err != nil {
			sess.close()
			return
		}
		for {
			select {
			case raw := <-sess.out:
				if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
					sess.close()
					return
				}
			case <-sess.done:
				return
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if !s.handlePacket(sess, string(data)) {
			return
		}
	}
}

func (s *Server) servePolling(w http.ResponseWriter, r *http.Request) {
	sid := r.URL.Query().Get("sid")
	if sid == "" {
		if r.Method != http.MethodGet {
			http.Error(w, "missing sid", http.StatusBadRequest)
			return
		}
		sess := s.newSession(nil)
		_, _ = io.WriteString(w, openPacket(sess.sid))
		return
	}
	sess := s.lookup(sid)
	if sess == nil {
		http.Error(w, "unknown sid", http.StatusBadRequest)
		return
	}
	switch r.Method {
	case http.MethodGet:
		var packets []string
		select {
		case raw := <-sess.out:
			packets = append(packets, raw)
		case <-sess.done:
			_, _ = io.WriteString(w, string(socketio.EngineClose))
			return
		case <-time.After(500 * time.Millisecond):
			packets = append(packets, string(socketio.EngineNoop))
		case <-r.Context().Done():
			return
		}
	drain:
		for {
			select {
			case raw := <-sess.out:
				packets = append(packets, raw)
			default:
				break drain
			}
		}
		_, _ = io.WriteString(w, strings.Join(packets, "\x1e"))
	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for _, raw := range strings.Split(string(body), "\x1e") {
			if !s.handlePacket(sess, raw) {
				s.remove(sess)
				break
			}
		}
		_, _ = io.WriteString(w, "ok")
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handlePacket processes one engine packet and reports whether the session stays open.
func (s *Server) handlePacket(sess *session, raw string) bool {
	ep, err := socketio.ParseEnginePacket(raw)
	if err != nil {
		return true
	}
	switch ep.Type {
	case socketio.EnginePong:
		s.mu.Lock()
		s.pongs++
		s.mu.Unlock()
		return true
	case socketio.EngineClose:
		return false
	case socketio.EngineMessage:
	default:
		return true
	}
	p, err := socketio.ParsePacket(ep.Data)
	if err != nil || p.Namespace != s.namespace {
		return true
	}
	switch p.Type {
	case socketio.PacketConnect:
		if s.rejectMessage != "" {
			body, _ := json.Marshal(map[string]string{"message": s.rejectMessage})
			reply := socketio.Packet{Type: socketio.PacketConnectError, Namespace: s.namespace, AckID: -1, Data: body}
			sess.push(socketio.EnginePacket{Type: socketio.EngineMessage, Data: reply.Encode()}.Encode())
			return true
		}
		body, _ := json.Marshal(map[string]string{"sid": sess.sid + "-ns"})
		reply := socketio.Packet{Type: socketio.PacketConnect, Namespace: s.namespace, AckID: -1, Data: body}
		s.mu.Lock()
		sess.connected = true
		s.connects++
		s.mu.Unlock()
		sess.push(socketio.EnginePacket{Type: socketio.EngineMessage, Data: reply.Encode()}.Encode())
	case socketio.PacketEvent:
		name, args, err := p.Event()
		if err != nil {
			return true
		}
		select {
		case s.received <- Received{SID: sess.sid, Name: name, Args: args}:
		default:
		}
	case socketio.PacketDisconnect:
		return false
	}
	return true
}
