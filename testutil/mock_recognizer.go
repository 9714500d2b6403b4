package testutil

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// MockRecognizer simulates a streaming speech recognition server for tests.
// It speaks the wsengine protocol: JSON control messages plus binary PCM.
type MockRecognizer struct {
	listener net.Listener
	server   *http.Server

	mu          sync.Mutex
	conn        *websocket.Conn
	writeMu     sync.Mutex
	mode        string
	transcript  string
	startMsg    map[string]interface{}
	audioBytes  int
	stops       int
	connections int
	connected   chan struct{}
}

// Modes define how the mock server behaves.
const (
	// ModeNormal acknowledges start and, on stop, sends the transcript as
	// one final result followed by end.
	ModeNormal = "normal"
	// ModeManual acknowledges start and leaves everything else to the test.
	ModeManual = "manual"
	// ModeReject refuses the WebSocket upgrade.
	ModeReject = "reject"
	// ModeUnauthorized answers the upgrade with 401.
	ModeUnauthorized = "unauthorized"
	// ModeSilent never acknowledges start or stop.
	ModeSilent = "silent"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func NewMockRecognizer() *MockRecognizer {
	return &MockRecognizer{
		mode:      ModeNormal,
		connected: make(chan struct{}, 16),
	}
}

// Start begins listening on a dynamic port.
func (m *MockRecognizer) Start() error {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	m.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/recognize", m.handleWebSocket)
	m.server = &http.Server{Handler: mux}

	go func() {
		_ = m.server.Serve(m.listener)
	}()
	return nil
}

// Stop shuts the server down and drops any connection.
func (m *MockRecognizer) Stop() error {
	m.Drop()
	if m.server != nil {
		_ = m.server.Close()
	}
	if m.listener != nil {
		_ = m.listener.Close()
	}
	return nil
}

// URL is the ws:// address clients dial.
func (m *MockRecognizer) URL() string {
	if m.listener == nil {
		return ""
	}
	return "ws://" + m.listener.Addr().String() + "/recognize"
}

func (m *MockRecognizer) SetMode(mode string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mode = mode
}

// SetTranscript sets the text ModeNormal returns on stop.
func (m *MockRecognizer) SetTranscript(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transcript = text
}

// WaitConnected blocks until a client has sent its start message.
func (m *MockRecognizer) WaitConnected(timeout time.Duration) bool {
	select {
	case <-m.connected:
		return true
	case <-time.After(timeout):
		return false
	}
}

// StartMessage returns the last start message received.
func (m *MockRecognizer) StartMessage() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startMsg
}

func (m *MockRecognizer) AudioBytes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.audioBytes
}

func (m *MockRecognizer) Stops() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}

func (m *MockRecognizer) Connections() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connections
}

// MockResult is one result entry sent by SendResults.
type MockResult struct {
	Index      int
	Text       string
	Final      bool
	Confidence float64
}

// SendResults pushes a result message to the connected client.
func (m *MockRecognizer) SendResults(results ...MockResult) error {
	list := make([]map[string]interface{}, 0, len(results))
	for _, r := range results {
		list = append(list, map[string]interface{}{
			"index":      r.Index,
			"text":       r.Text,
			"final":      r.Final,
			"confidence": r.Confidence,
		})
	}
	return m.send(map[string]interface{}{"type": "result", "results": list})
}

// SendError pushes an error message with a recognition error code.
func (m *MockRecognizer) SendError(code, message string) error {
	return m.send(map[string]interface{}{"type": "error", "error": code, "message": message})
}

// SendEnd pushes the end message.
func (m *MockRecognizer) SendEnd() error {
	return m.send(map[string]interface{}{"type": "end"})
}

// Drop closes the current connection without a close handshake.
func (m *MockRecognizer) Drop() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (m *MockRecognizer) send(v interface{}) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("no client connected")
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteJSON(v)
}

func (m *MockRecognizer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	mode := m.mode
	m.mu.Unlock()

	switch mode {
	case ModeReject:
		http.Error(w, "recognizer offline", http.StatusServiceUnavailable)
		return
	case ModeUnauthorized:
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	m.mu.Lock()
	m.conn = conn
	m.connections++
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		if m.conn == conn {
			m.conn = nil
		}
		m.mu.Unlock()
		_ = conn.Close()
	}()

	var start map[string]interface{}
	if err := conn.ReadJSON(&start); err != nil {
		return
	}
	m.mu.Lock()
	m.startMsg = start
	m.mu.Unlock()
	m.connected <- struct{}{}

	if mode != ModeSilent {
		if err := m.send(map[string]interface{}{"type": "start"}); err != nil {
			return
		}
	}

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if kind == websocket.BinaryMessage {
			m.mu.Lock()
			m.audioBytes += len(data)
			m.mu.Unlock()
			continue
		}
		var msg map[string]interface{}
		if err := json.Unmarshal(data, &msg); err != nil || msg["type"] != "stop" {
			continue
		}

		m.mu.Lock()
		m.stops++
		mode = m.mode
		text := m.transcript
		m.mu.Unlock()

		if mode != ModeNormal {
			continue
		}
		if text != "" {
			if err := m.SendResults(MockResult{Index: 0, Text: text, Final: true, Confidence: 0.93}); err != nil {
				return
			}
		}
		_ = m.SendEnd()
		return
	}
}
