package interfaces

import (
	"context"

	"cececho/pkg/types"
)

// UserStore resolves accounts. Account CRUD lives outside the communication core;
// CreateUser and DeleteUser exist for seeding and the admin removal path.
type UserStore interface {
	// GetUser returns ErrNotFound when the id is unknown
	GetUser(ctx context.Context, id string) (*types.User, error)

	// GetUsersByIDs batch-resolves ids; unknown ids are absent from the map
	GetUsersByIDs(ctx context.Context, ids []string) (map[string]*types.User, error)

	CreateUser(ctx context.Context, user *types.User) error
	DeleteUser(ctx context.Context, id string) error
}

// GroupStore persists groups. UpdateGroup is a compare-and-set on the version the
// caller read; a stale version yields ErrVersionConflict.
type GroupStore interface {
	GetGroup(ctx context.Context, id string) (*types.Group, error)

	// FindGroupByName matches case-insensitively
	FindGroupByName(ctx context.Context, name string) (*types.Group, error)

	ListGroupsForUser(ctx context.Context, userID string) ([]*types.Group, error)

	// CreateGroup returns ErrDuplicate when a uniqueness constraint rejects the name
	CreateGroup(ctx context.Context, group *types.Group) error

	UpdateGroup(ctx context.Context, group *types.Group, expectedVersion int64) error
}

// CallStore persists call records. UpdateCall follows the same CAS contract as UpdateGroup.
type CallStore interface {
	CreateCall(ctx context.Context, call *types.Call) error
	GetCall(ctx context.Context, id string) (*types.Call, error)
	UpdateCall(ctx context.Context, call *types.Call, expectedVersion int64) error
}

// MessageStore persists chat messages.
type MessageStore interface {
	CreateMessage(ctx context.Context, message *types.Message) error
	ListGroupMessages(ctx context.Context, groupID string, limit int) ([]*types.Message, error)
	ListDirectMessages(ctx context.Context, userA, userB string, limit int) ([]*types.Message, error)

	// MarkDirectMessagesRead flags unread messages from sender to receiver as read
	MarkDirectMessagesRead(ctx context.Context, receiverID, senderID string) (int64, error)
}

// DatabaseManager is the full store plus lifecycle operations.
type DatabaseManager interface {
	UserStore
	GroupStore
	CallStore
	MessageStore

	HealthCheck(ctx context.Context) error
	Close() error
}
