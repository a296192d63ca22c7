package interfaces

// Connection is one live client transport bound to an authenticated user.
type Connection interface {
	// ID is unique per connection; a user may hold several
	ID() string

	// WriteJSON sends a JSON message to the client (thread-safe)
	WriteJSON(v interface{}) error

	Close() error

	GetUserID() string
	GetRole() string
}

// Emitter delivers events to logical rooms. A room is a user id (private room)
// or a group id. Delivery is best-effort and at-most-once; offline targets drop events.
type Emitter interface {
	// EmitToRoom sends to every connection in room except the excluded one (may be nil)
	EmitToRoom(room, event string, payload interface{}, except Connection)

	// EmitToUser sends to every connection of userID
	EmitToUser(userID, event string, payload interface{})

	// Join adds the connection to room; joining twice is a no-op
	Join(conn Connection, room string)

	// InRoom reports whether the connection has joined room
	InRoom(conn Connection, room string) bool

	// Evict removes every connection of userID from room
	Evict(userID, room string)

	// IsOnline reports whether userID holds at least one connection
	IsOnline(userID string) bool
}
