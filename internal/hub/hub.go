// Package hub fans relays out to websocket rooms from a single goroutine.
package hub

import (
	"context"
	"errors"
	"sync"

	"cececho/internal/logging"
	"cececho/internal/metrics"
	"cececho/internal/websocket"
	"cececho/pkg/interfaces"
	"cececho/pkg/types"
)

const DefaultQueueSize = 1000

// Hub implements interfaces.Emitter on top of the connection registry.
// ARCHITECTURAL DISCOVERY: Event handlers only enqueue; one hub goroutine does all
// socket writes, so a slow room never blocks the connection that caused the relay
type Hub struct {
	// FUNCTIONAL DISCOVERY: Buffered queue absorbs broadcast bursts (ICE storms)
	relays chan relay

	registry *websocket.Registry

	// TECHNICAL DISCOVERY: RWMutex allows concurrent reads of running state
	running bool
	mu      sync.RWMutex
}

// relay is one queued delivery. Exactly one of room and userID is set.
type relay struct {
	room   string
	userID string
	frame  types.Envelope
	except interfaces.Connection
}

// NewHub creates a hub over registry. queueSize <= 0 uses DefaultQueueSize.
func NewHub(registry *websocket.Registry, queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Hub{
		relays:   make(chan relay, queueSize),
		registry: registry,
	}
}

// Serve runs delivery until ctx is cancelled. The supervisor owns the hub and restarts it.
// Relays still queued on return stay queued for the next Serve.
func (h *Hub) Serve(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.mu.Unlock()
	logging.Info().Int("queue_size", cap(h.relays)).Msg("Starting relay hub")

	h.run(ctx)

	h.mu.Lock()
	h.running = false
	h.mu.Unlock()
	logging.Info().Msg("Relay hub stopped")
	return ctx.Err()
}

// String names the hub in supervisor logs.
func (h *Hub) String() string {
	return "relay-hub"
}

// Running reports whether the delivery loop is active.
func (h *Hub) Running() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// EmitToRoom queues event for every connection in room except the excluded one.
func (h *Hub) EmitToRoom(room, event string, payload interface{}, except interfaces.Connection) {
	h.enqueue(relay{room: room, frame: types.Envelope{Event: event, Data: payload}, except: except})
}

// EmitToUser queues event for every connection of userID.
func (h *Hub) EmitToUser(userID, event string, payload interface{}) {
	h.enqueue(relay{userID: userID, frame: types.Envelope{Event: event, Data: payload}})
}

// Join adds conn to room immediately so relays queued afterwards reach it.
func (h *Hub) Join(conn interfaces.Connection, room string) {
	h.registry.Join(conn, room)
}

// InRoom reports whether conn has joined room.
func (h *Hub) InRoom(conn interfaces.Connection, room string) bool {
	return h.registry.InRoom(conn, room)
}

// Evict takes every connection of userID out of room. Like Join it applies
// immediately, so relays queued afterwards no longer reach the user.
func (h *Hub) Evict(userID, room string) {
	for _, conn := range h.registry.UserConnections(userID) {
		h.registry.Leave(conn, room)
	}
}

// IsOnline reports whether userID holds any connection.
func (h *Hub) IsOnline(userID string) bool {
	return h.registry.IsOnline(userID)
}

// TECHNICAL DISCOVERY: Non-blocking send prevents hub backpressure from reaching
// the read loop of the emitting connection
func (h *Hub) enqueue(r relay) {
	select {
	case h.relays <- r:
		metrics.RelayQueueDepth.Set(float64(len(h.relays)))
	default:
		metrics.RelaysDropped.WithLabelValues("queue_full").Inc()
		logging.Warn().
			Err(ErrRelayQueueFull).
			Str("event", r.frame.Event).
			Str("room", r.room).
			Str("user_id", r.userID).
			Msg("Relay dropped")
	}
}

func (h *Hub) run(ctx context.Context) {
	for {
		select {
		case r := <-h.relays:
			metrics.RelayQueueDepth.Set(float64(len(h.relays)))
			h.deliver(r)

		case <-ctx.Done():
			logging.Debug().Msg("Relay hub context cancelled")
			return
		}
	}
}

func (h *Hub) deliver(r relay) {
	var targets []interfaces.Connection
	if r.userID != "" {
		targets = h.registry.UserConnections(r.userID)
	} else {
		targets = h.registry.RoomConnections(r.room)
	}

	for _, conn := range targets {
		if r.except != nil && conn.ID() == r.except.ID() {
			continue
		}
		// FUNCTIONAL DISCOVERY: Delivery continues despite individual connection failures
		if err := conn.WriteJSON(r.frame); err != nil {
			if errors.Is(err, websocket.ErrBufferFull) {
				metrics.RelaysDropped.WithLabelValues("connection_buffer").Inc()
			}
			logging.Debug().
				Err(err).
				Str("event", r.frame.Event).
				Str("conn_id", conn.ID()).
				Msg("Relay not delivered")
		}
	}
}
