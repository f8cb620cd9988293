// Package testutil holds httptest-backed fakes of the remote services used by
// package tests: the metadata info endpoint, the Kick channel API and chat
// websocket endpoints.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

// MockAPIServer serves canned responses keyed by request path.
type MockAPIServer struct {
	*httptest.Server

	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	hits     map[string]int
}

// NewMockAPIServer creates a new mock API server that answers 404 for unknown paths.
func NewMockAPIServer(t *testing.T) *MockAPIServer {
	t.Helper()
	m := &MockAPIServer{
		handlers: make(map[string]http.HandlerFunc),
		hits:     make(map[string]int),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		handler, ok := m.handlers[r.URL.Path]
		m.hits[r.URL.Path]++
		m.mu.Unlock()
		if ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// Handle registers a handler for path.
func (m *MockAPIServer) Handle(path string, h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = h
}

// Hits returns how many requests path received.
func (m *MockAPIServer) Hits(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hits[path]
}

// MockInfoResponse answers /info/{streamer} with a stream_title/stream_game object.
func (m *MockAPIServer) MockInfoResponse(streamer, title, game string) {
	m.Handle("/info/"+streamer, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"stream_title": title, "stream_game": game}) //nolint:errcheck // test mock response
	})
}

// MockRawResponse answers path with a fixed status and body.
func (m *MockAPIServer) MockRawResponse(path string, status int, body string) {
	m.Handle(path, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
}

// MockKickChannel answers /api/v1/channels/{name} with the given chatroom id.
func (m *MockAPIServer) MockKickChannel(name string, chatroomID int) {
	m.Handle("/api/v1/channels/"+name, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck // test mock response
			"slug":     name,
			"chatroom": map[string]any{"id": chatroomID},
		})
	})
}

// ChatSession describes what the mock chat server does with one connection.
type ChatSession struct {
	// Frames are sent in order once the connection is up (and after the
	// expected client frame has been read, when Expect is set).
	Frames []string
	// Expect makes the server read one frame from the client first.
	Expect bool
	// Hold keeps the connection open after sending Frames until the client leaves.
	Hold bool
}

// MockChatServer is a websocket server that plays one ChatSession per
// connection, in order. Connections beyond the scripted sessions are held open.
type MockChatServer struct {
	*httptest.Server

	mu       sync.Mutex
	sessions []ChatSession
	conns    int
	received []string
}

// NewMockChatServer starts a websocket server playing sessions.
func NewMockChatServer(t *testing.T, sessions ...ChatSession) *MockChatServer {
	t.Helper()
	m := &MockChatServer{sessions: sessions}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		m.mu.Lock()
		idx := m.conns
		m.conns++
		s := ChatSession{Hold: true}
		if idx < len(m.sessions) {
			s = m.sessions[idx]
		}
		m.mu.Unlock()

		if s.Expect {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			m.mu.Lock()
			m.received = append(m.received, string(msg))
			m.mu.Unlock()
		}
		for _, f := range s.Frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		if s.Hold {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}
		// Closing without a close frame looks like a dropped connection.
	}))
	t.Cleanup(m.Close)
	return m
}

// URL returns the ws:// address of the server.
func (m *MockChatServer) URL() string { return "ws" + m.Server.URL[len("http"):] }

// Connections returns how many websocket connections were accepted.
func (m *MockChatServer) Connections() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conns
}

// Received returns frames read from clients.
func (m *MockChatServer) Received() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.received...)
}
