package websocket

import (
	"sync"

	"cececho/pkg/interfaces"
)

// Registry tracks live connections and the rooms they joined.
// ARCHITECTURAL DISCOVERY: Pure connection management without business logic
// maintains clean separation between connection tracking and relay decisions
type Registry struct {
	mu          sync.RWMutex                                // TECHNICAL DISCOVERY: RWMutex optimizes for read-heavy fan-out lookups
	connections map[string]interfaces.Connection            // connID -> Connection
	users       map[string]map[string]interfaces.Connection // userID -> connID -> Connection
	rooms       map[string]map[string]interfaces.Connection // room -> connID -> Connection
	joined      map[string]map[string]struct{}              // connID -> rooms, for O(rooms) cleanup
}

// NewRegistry creates a new connection registry
// FUNCTIONAL DISCOVERY: Initialize all maps to prevent nil pointer access during concurrent operations
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]interfaces.Connection),
		users:       make(map[string]map[string]interfaces.Connection),
		rooms:       make(map[string]map[string]interfaces.Connection),
		joined:      make(map[string]map[string]struct{}),
	}
}

type authenticated interface {
	IsAuthenticated() bool
}

// RegisterConnection adds an authenticated connection. A user may hold several
// connections at once (tabs, devices); each receives the user's relays.
func (r *Registry) RegisterConnection(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if a, ok := conn.(authenticated); ok && !a.IsAuthenticated() {
		return ErrConnectionNotAuthenticated
	}
	userID := conn.GetUserID()
	if userID == "" {
		return ErrConnectionNotAuthenticated
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.connections[conn.ID()] = conn
	if r.users[userID] == nil {
		r.users[userID] = make(map[string]interfaces.Connection)
	}
	r.users[userID][conn.ID()] = conn
	if r.joined[conn.ID()] == nil {
		r.joined[conn.ID()] = make(map[string]struct{})
	}
	return nil
}

// UnregisterConnection removes a connection from every map and room
// FUNCTIONAL DISCOVERY: Idempotent operation safe for concurrent unregistration
func (r *Registry) UnregisterConnection(conn interfaces.Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := conn.ID()
	if _, exists := r.connections[id]; !exists {
		return
	}
	delete(r.connections, id)

	userID := conn.GetUserID()
	if conns, exists := r.users[userID]; exists {
		delete(conns, id)
		if len(conns) == 0 {
			delete(r.users, userID)
		}
	}

	// TECHNICAL DISCOVERY: Clean up empty maps to prevent memory leaks
	for room := range r.joined[id] {
		r.leaveLocked(id, room)
	}
	delete(r.joined, id)
}

// Join adds a registered connection to room. Unknown connections are ignored.
func (r *Registry) Join(conn interfaces.Connection, room string) {
	if conn == nil || room == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := conn.ID()
	if _, exists := r.connections[id]; !exists {
		return
	}
	if r.rooms[room] == nil {
		r.rooms[room] = make(map[string]interfaces.Connection)
	}
	r.rooms[room][id] = conn
	r.joined[id][room] = struct{}{}
}

// Leave removes the connection from room.
func (r *Registry) Leave(conn interfaces.Connection, room string) {
	if conn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(conn.ID(), room)
}

func (r *Registry) leaveLocked(connID, room string) {
	if members, exists := r.rooms[room]; exists {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
	if rooms, exists := r.joined[connID]; exists {
		delete(rooms, room)
	}
}

// InRoom reports whether the connection has joined room.
func (r *Registry) InRoom(conn interfaces.Connection, room string) bool {
	if conn == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[room][conn.ID()]
	return ok
}

// RoomConnections returns a snapshot of the connections in room.
func (r *Registry) RoomConnections(room string) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return snapshot(r.rooms[room])
}

// UserConnections returns a snapshot of the user's connections.
func (r *Registry) UserConnections(userID string) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return snapshot(r.users[userID])
}

// DisconnectUser closes every connection of the user and returns how many were closed.
// Each read loop then unregisters its own connection.
func (r *Registry) DisconnectUser(userID string) int {
	conns := r.UserConnections(userID)
	for _, conn := range conns {
		_ = conn.Close()
	}
	return len(conns)
}

// IsOnline reports whether the user holds at least one connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID]) > 0
}

func snapshot(m map[string]interfaces.Connection) []interfaces.Connection {
	if len(m) == 0 {
		return nil
	}
	out := make([]interfaces.Connection, 0, len(m))
	for _, conn := range m {
		out = append(out, conn)
	}
	return out
}

// GetStats returns registry statistics for monitoring and debugging
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"total_connections": len(r.connections),
		"online_users":      len(r.users),
		"active_rooms":      len(r.rooms),
	}
}
