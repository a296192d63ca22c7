package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Connection implements the interfaces.Connection interface
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized to prevent race conditions
// Interface boundary maintained - no business logic in connection wrapper
type Connection struct {
	id            string
	conn          *websocket.Conn
	writeCh       chan []byte // FUNCTIONAL DISCOVERY: buffer absorbs relay bursts during broadcasts
	writeTimeout  time.Duration
	userID        string
	role          string
	authenticated bool
	ctx           context.Context
	cancel        context.CancelFunc
	closeOnce     sync.Once
	mu            sync.RWMutex // Protect auth fields
}

// NewConnection wraps conn and starts its writer goroutine.
func NewConnection(conn *websocket.Conn, bufferSize int, writeTimeout time.Duration) *Connection {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:           uuid.NewString(),
		conn:         conn,
		writeCh:      make(chan []byte, bufferSize),
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}

	go c.writeLoop()

	return c
}

// ARCHITECTURAL DISCOVERY: Single writer goroutine pattern eliminates races
func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				_ = c.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// ID is unique per connection; one user may hold several.
func (c *Connection) ID() string {
	return c.id
}

// WriteJSON queues v for the writer goroutine. It never blocks: a full buffer
// drops the frame with ErrBufferFull so one slow client cannot stall fan-out.
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		return ErrBufferFull
	}
}

// ARCHITECTURAL DISCOVERY: Clean shutdown requires careful goroutine coordination
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// SetCredentials binds the authenticated user to the connection.
func (c *Connection) SetCredentials(userID, role string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.userID = userID
	c.role = role
	c.authenticated = true
}

func (c *Connection) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticated
}

func (c *Connection) GetUserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Connection) GetRole() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}
