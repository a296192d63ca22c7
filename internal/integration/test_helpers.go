package integration

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"cececho/internal/app"
	"cececho/internal/auth"
	"cececho/internal/config"
	"cececho/internal/database"
	"cececho/pkg/types"
)

const testSecret = "integration-test-secret"

// Stack is a running application over a seeded SQLite file.
type Stack struct {
	BaseURL string
	issuer  *auth.Verifier
}

// StartStack seeds the store, then serves the full application until the test ends.
func StartStack(t *testing.T) *Stack {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Auth.JWTSecret = testSecret
	cfg.Database.DatabasePath = filepath.Join(t.TempDir(), "cececho.db")
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = freePort(t)
	cfg.HTTP.ShutdownTimeout = 2 * time.Second

	seedDatabase(t, cfg)

	application, err := app.NewApplication(cfg)
	if err != nil {
		t.Fatalf("Failed to create application: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- application.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Log("Application did not stop in time")
		}
	})

	// Issue never touches the user store
	issuer, err := auth.NewVerifier(testSecret, "", nil)
	if err != nil {
		t.Fatalf("Failed to create token issuer: %v", err)
	}

	stack := &Stack{BaseURL: "http://" + application.GetAddr(), issuer: issuer}
	stack.waitHealthy(t)
	return stack
}

// seedDatabase opens the store once to create accounts and a course group, then
// closes it so the application owns the file.
func seedDatabase(t *testing.T, cfg *config.Config) {
	t.Helper()
	dbConfig := cfg.Database
	store, err := database.NewManager(&dbConfig)
	if err != nil {
		t.Fatalf("Failed to open database for seeding: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	for _, u := range []*types.User{
		{ID: "fac1", Username: "ada", FirstName: "Ada", LastName: "Lovelace", Role: types.RoleFaculty, IsActive: true},
		{ID: "stu1", Username: "alan", FirstName: "Alan", LastName: "Turing", Role: types.RoleStudent, RegistrationNumber: "CEC25CS001", IsActive: true},
		{ID: "stu2", Username: "grace", FirstName: "Grace", LastName: "Hopper", Role: types.RoleStudent, RegistrationNumber: "CEC25CS002", IsActive: true},
	} {
		if err := store.CreateUser(ctx, u); err != nil {
			t.Fatalf("Failed to seed user %s: %v", u.ID, err)
		}
	}
	err = store.CreateGroup(ctx, &types.Group{
		ID:      "grp1",
		Name:    "Robotics",
		Creator: "fac1",
		Members: types.Members{{UserID: "fac1", Role: types.MemberRoleAdmin}, {UserID: "stu1", Role: types.MemberRoleMember}},
		Admins:  types.StringList{"fac1"},
	})
	if err != nil {
		t.Fatalf("Failed to seed group: %v", err)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to reserve port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func (s *Stack) waitHealthy(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(s.BaseURL + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("Application never became healthy")
}

// Token signs a bearer token for userID.
func (s *Stack) Token(t *testing.T, userID string) string {
	t.Helper()
	token, err := s.issuer.Issue(userID, time.Hour)
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}
	return token
}

// APIResponse is the REST envelope.
type APIResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Code    string          `json:"code"`
	Data    json.RawMessage `json:"data"`
}

// Request performs an authenticated REST call.
func (s *Stack) Request(t *testing.T, method, path, userID string, body interface{}) (int, APIResponse) {
	t.Helper()
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
		payload = data
	}

	req, err := http.NewRequest(method, s.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.Token(t, userID))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request %s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("Failed to decode response of %s %s: %v", method, path, err)
	}
	return resp.StatusCode, out
}

// Frame is one event received by a test client.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Client is a websocket client bound to one user.
type Client struct {
	UserID string

	conn   *websocket.Conn
	frames chan Frame
	mu     sync.Mutex
}

// Connect dials /ws with the user's token in the query string, as browsers do.
func (s *Stack) Connect(t *testing.T, userID string) *Client {
	t.Helper()
	u, err := url.Parse(s.BaseURL)
	if err != nil {
		t.Fatalf("Invalid base URL: %v", err)
	}
	u.Scheme = "ws"
	u.Path = "/ws"
	u.RawQuery = url.Values{"token": {s.Token(t, userID)}}.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		t.Fatalf("Failed to connect %s: %v", userID, err)
	}

	c := &Client{UserID: userID, conn: conn, frames: make(chan Frame, 100)}
	go c.readLoop()
	t.Cleanup(func() { _ = conn.Close() })
	return c
}

func (c *Client) readLoop() {
	defer close(c.frames)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		c.frames <- f
	}
}

// Send writes one event frame.
func (c *Client) Send(t *testing.T, event string, data interface{}) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteJSON(map[string]interface{}{"event": event, "data": data}); err != nil {
		t.Fatalf("%s failed to send %s: %v", c.UserID, event, err)
	}
}

// Expect waits for event, skipping any other frames, and decodes its data into dst.
func (c *Client) Expect(t *testing.T, event string, dst interface{}) {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case f, ok := <-c.frames:
			if !ok {
				t.Fatalf("%s connection closed while waiting for %s", c.UserID, event)
			}
			if f.Event != event {
				continue
			}
			if dst != nil {
				if err := json.Unmarshal(f.Data, dst); err != nil {
					t.Fatalf("%s failed to decode %s: %v", c.UserID, event, err)
				}
			}
			return
		case <-timeout:
			t.Fatalf("%s timed out waiting for %s", c.UserID, event)
		}
	}
}

// ExpectNone asserts that event does not arrive within wait.
func (c *Client) ExpectNone(t *testing.T, event string, wait time.Duration) {
	t.Helper()
	timeout := time.After(wait)
	for {
		select {
		case f, ok := <-c.frames:
			if !ok {
				return
			}
			if f.Event == event {
				t.Fatalf("%s unexpectedly received %s: %s", c.UserID, event, string(f.Data))
			}
		case <-timeout:
			return
		}
	}
}
