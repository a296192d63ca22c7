package websocket

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"cececho/internal/auth"
	"cececho/internal/logging"
	"cececho/internal/metrics"
	"cececho/pkg/interfaces"
)

// Authenticator resolves the caller of an upgrade request.
type Authenticator interface {
	AuthenticateRequest(r *http.Request) (*auth.Principal, error)
}

// Dispatcher receives connection lifecycle events and inbound frames.
// Frames of one connection are dispatched one at a time in arrival order.
type Dispatcher interface {
	Connected(ctx context.Context, conn interfaces.Connection)
	Dispatch(ctx context.Context, conn interfaces.Connection, data []byte)
	Disconnected(conn interfaces.Connection)
}

// HandlerConfig holds transport timing and limits.
type HandlerConfig struct {
	PingInterval    time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	BufferSize      int
	MaxMessageBytes int64

	// AllowedOrigins lists browser origins; "*" allows any. Requests without an
	// Origin header (non-browser clients) are always allowed.
	AllowedOrigins []string
}

// DefaultHandlerConfig matches the transport defaults in configuration.
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		PingInterval:    30 * time.Second,
		ReadTimeout:     60 * time.Second,
		WriteTimeout:    5 * time.Second,
		BufferSize:      100,
		MaxMessageBytes: 128 * 1024,
		AllowedOrigins:  []string{"*"},
	}
}

// Handler manages WebSocket connections and authentication
// ARCHITECTURAL DISCOVERY: Clean separation of WebSocket handling from signaling logic
type Handler struct {
	registry      *Registry
	authenticator Authenticator
	dispatcher    Dispatcher
	config        HandlerConfig
	upgrader      websocket.Upgrader
}

// NewHandler creates a new WebSocket handler with dependency injection
func NewHandler(registry *Registry, authenticator Authenticator, dispatcher Dispatcher, config HandlerConfig) *Handler {
	h := &Handler{
		registry:      registry,
		authenticator: authenticator,
		dispatcher:    dispatcher,
		config:        config,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.config.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// HandleWebSocket authenticates, upgrades and registers a connection.
// ARCHITECTURAL DISCOVERY: Multi-stage validation (auth -> upgrade -> registration)
// rejects invalid connections with a plain HTTP error before any websocket resources exist
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	principal, err := h.authenticator.AuthenticateRequest(r)
	if err != nil {
		logging.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("WebSocket authentication failed")
		http.Error(w, auth.Message(err), http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Str("user_id", principal.UserID).Msg("WebSocket upgrade failed")
		return
	}

	wsConn := NewConnection(conn, h.config.BufferSize, h.config.WriteTimeout)
	wsConn.SetCredentials(principal.UserID, string(principal.Role))

	if err := h.registry.RegisterConnection(wsConn); err != nil {
		logging.Error().Err(err).Str("user_id", principal.UserID).Msg("Failed to register connection")
		_ = wsConn.Close()
		return
	}
	metrics.WSConnectionsActive.Inc()

	logging.Info().
		Str("user_id", principal.UserID).
		Str("role", string(principal.Role)).
		Str("conn_id", wsConn.ID()).
		Msg("WebSocket connected")

	go h.handleConnection(wsConn)
}

// handleConnection manages the connection lifecycle with heartbeat monitoring
// ARCHITECTURAL DISCOVERY: Single goroutine per connection reads and dispatches,
// which keeps each connection's events in arrival order
func (h *Handler) handleConnection(conn *Connection) {
	ctx := logging.ContextWithRequestID(conn.ctx, conn.ID())

	defer func() {
		h.registry.UnregisterConnection(conn)
		metrics.WSConnectionsActive.Dec()
		h.dispatcher.Disconnected(conn)
		_ = conn.Close()
		logging.Info().Str("user_id", conn.GetUserID()).Str("conn_id", conn.ID()).Msg("WebSocket disconnected")
	}()

	if h.config.MaxMessageBytes > 0 {
		conn.conn.SetReadLimit(h.config.MaxMessageBytes)
	}
	if err := conn.conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout)); err != nil {
		logging.Warn().Err(err).Msg("Failed to set read deadline")
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	})

	// FUNCTIONAL DISCOVERY: Separate ticker goroutine enables consistent heartbeat
	// timing independent of event processing
	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			case <-conn.ctx.Done():
				return
			}
		}
	}()

	// Private room, group rooms and any access-point work happen before the
	// first client event is read
	h.dispatcher.Connected(ctx, conn)

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Debug().Err(err).Str("conn_id", conn.ID()).Msg("WebSocket read error")
			}
			return
		}

		if messageType == websocket.TextMessage {
			h.dispatcher.Dispatch(ctx, conn, data)
		}
	}
}
