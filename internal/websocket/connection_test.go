package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"cececho/pkg/interfaces"
	"cececho/pkg/types"
)

// Test WebSocket upgrader for creating test connections
var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Architectural Validation Tests
func TestConnection_InterfaceCompliance(t *testing.T) {
	var _ interfaces.Connection = &Connection{}
}

// Functional Validation Tests
func TestConnection_NewConnectionInitialization(t *testing.T) {
	wsConn, _ := createTestWebSocketConnection(t)

	conn := NewConnection(wsConn, 100, 5*time.Second)
	defer conn.Close()

	if conn.writeCh == nil {
		t.Error("Write channel not initialized")
	}
	if cap(conn.writeCh) != 100 {
		t.Errorf("Expected write channel buffer of 100, got %d", cap(conn.writeCh))
	}
	if conn.ID() == "" {
		t.Error("Connection should have an id")
	}
	if conn.IsAuthenticated() {
		t.Error("New connection should not be authenticated")
	}
}

func TestConnection_DefaultsForZeroSettings(t *testing.T) {
	wsConn, _ := createTestWebSocketConnection(t)

	conn := NewConnection(wsConn, 0, 0)
	defer conn.Close()

	if cap(conn.writeCh) != 100 || conn.writeTimeout != 5*time.Second {
		t.Errorf("Expected 100 buffer and 5s timeout, got %d and %v", cap(conn.writeCh), conn.writeTimeout)
	}
}

func TestConnection_UniqueIDs(t *testing.T) {
	wsA, _ := createTestWebSocketConnection(t)
	wsB, _ := createTestWebSocketConnection(t)
	a := NewConnection(wsA, 10, time.Second)
	b := NewConnection(wsB, 10, time.Second)
	defer a.Close()
	defer b.Close()

	if a.ID() == b.ID() {
		t.Error("Connections must not share an id")
	}
}

func TestConnection_AuthenticationFlow(t *testing.T) {
	wsConn, _ := createTestWebSocketConnection(t)

	conn := NewConnection(wsConn, 100, 5*time.Second)
	defer conn.Close()

	conn.SetCredentials("fac1", "faculty")

	if !conn.IsAuthenticated() {
		t.Error("Connection should be authenticated after SetCredentials")
	}
	if conn.GetUserID() != "fac1" {
		t.Errorf("Expected userID 'fac1', got '%s'", conn.GetUserID())
	}
	if conn.GetRole() != "faculty" {
		t.Errorf("Expected role 'faculty', got '%s'", conn.GetRole())
	}
}

func TestConnection_WriteDeliversEnvelope(t *testing.T) {
	wsConn, received := createTestWebSocketConnection(t)

	conn := NewConnection(wsConn, 100, 5*time.Second)
	defer conn.Close()

	if err := conn.WriteJSON(types.Envelope{Event: "call-accepted", Data: map[string]string{"callId": "c1"}}); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	select {
	case data := <-received:
		var frame struct {
			Event string            `json:"event"`
			Data  map[string]string `json:"data"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("Frame is not JSON: %v", err)
		}
		if frame.Event != "call-accepted" || frame.Data["callId"] != "c1" {
			t.Errorf("Unexpected frame %s", string(data))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Server never received the frame")
	}
}

func TestConnection_WriteJSONInvalidData(t *testing.T) {
	wsConn, _ := createTestWebSocketConnection(t)

	conn := NewConnection(wsConn, 100, 5*time.Second)
	defer conn.Close()

	// Function type cannot be marshaled to JSON
	err := conn.WriteJSON(map[string]interface{}{"func": func() {}})
	if err != ErrInvalidJSON {
		t.Errorf("Expected ErrInvalidJSON, got %v", err)
	}
}

func TestConnection_FullBufferDropsInsteadOfBlocking(t *testing.T) {
	wsConn, _ := createTestWebSocketConnection(t)

	// The writer goroutine is never started so the buffer cannot drain
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	conn := &Connection{conn: wsConn, writeCh: make(chan []byte, 2), writeTimeout: time.Second, ctx: ctx, cancel: cancel}

	for i := 0; i < 2; i++ {
		if err := conn.WriteJSON(types.Envelope{Event: "ping"}); err != nil {
			t.Fatalf("Write %d failed: %v", i, err)
		}
	}

	start := time.Now()
	if err := conn.WriteJSON(types.Envelope{Event: "ping"}); err != ErrBufferFull {
		t.Errorf("Expected ErrBufferFull, got %v", err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("Write to a full buffer must not block")
	}
}

func TestConnection_CloseIdempotent(t *testing.T) {
	wsConn, _ := createTestWebSocketConnection(t)

	conn := NewConnection(wsConn, 100, 5*time.Second)

	if err := conn.Close(); err != nil {
		t.Errorf("First close failed: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("Second close failed: %v", err)
	}

	if conn.ctx.Err() == nil {
		t.Error("Connection context should be cancelled after Close")
	}
}

func TestConnection_WriteAfterClose(t *testing.T) {
	wsConn, _ := createTestWebSocketConnection(t)

	conn := NewConnection(wsConn, 100, 5*time.Second)
	_ = conn.Close()

	if err := conn.WriteJSON(map[string]interface{}{"type": "test"}); err != ErrConnectionClosed {
		t.Errorf("Expected ErrConnectionClosed, got %v", err)
	}
}

// Technical Validation Tests (Race Detection)
func TestConnection_ConcurrentWrites(t *testing.T) {
	wsConn, _ := createTestWebSocketConnection(t)

	conn := NewConnection(wsConn, 100, 5*time.Second)
	defer conn.Close()

	const numGoroutines = 10
	const messagesPerGoroutine = 10

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < messagesPerGoroutine; j++ {
				_ = conn.WriteJSON(types.Envelope{Event: "test", Data: map[string]int{"worker": id, "message": j}})
			}
		}(i)
	}
	wg.Wait()
}

func TestConnection_ConcurrentCredentialAccess(t *testing.T) {
	wsConn, _ := createTestWebSocketConnection(t)

	conn := NewConnection(wsConn, 100, 5*time.Second)
	defer conn.Close()

	conn.SetCredentials("stu1", "student")

	const numGoroutines = 50
	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			if conn.GetUserID() != "stu1" || conn.GetRole() != "student" || !conn.IsAuthenticated() {
				t.Errorf("Inconsistent credential values during concurrent access")
			}
		}()
	}
	wg.Wait()
}

// createTestWebSocketConnection dials a test server that forwards every frame it reads.
func createTestWebSocketConnection(t *testing.T) (*websocket.Conn, <-chan []byte) {
	t.Helper()
	received := make(chan []byte, 64)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Failed to upgrade connection: %v", err)
			return
		}
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			select {
			case received <- data:
			default:
			}
		}
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to create test WebSocket connection: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn, received
}
