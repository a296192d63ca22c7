package interfaces_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"cececho/pkg/interfaces"
	"cececho/pkg/types"
)

// Mock implementations for compile-time contract checks

type mockConnection struct{}

func (m *mockConnection) ID() string                    { return "conn" }
func (m *mockConnection) WriteJSON(v interface{}) error { return nil }
func (m *mockConnection) Close() error                  { return nil }
func (m *mockConnection) GetUserID() string             { return "" }
func (m *mockConnection) GetRole() string               { return "" }

type mockEmitter struct{}

func (m *mockEmitter) EmitToRoom(room, event string, payload interface{}, except interfaces.Connection) {
}
func (m *mockEmitter) EmitToUser(userID, event string, payload interface{}) {}
func (m *mockEmitter) Join(conn interfaces.Connection, room string)         {}
func (m *mockEmitter) InRoom(conn interfaces.Connection, room string) bool  { return false }
func (m *mockEmitter) Evict(userID, room string)                            {}
func (m *mockEmitter) IsOnline(userID string) bool                          { return false }

type mockDB struct{}

func (m *mockDB) GetUser(ctx context.Context, id string) (*types.User, error) { return nil, nil }
func (m *mockDB) GetUsersByIDs(ctx context.Context, ids []string) (map[string]*types.User, error) {
	return nil, nil
}
func (m *mockDB) CreateUser(ctx context.Context, user *types.User) error       { return nil }
func (m *mockDB) DeleteUser(ctx context.Context, id string) error              { return nil }
func (m *mockDB) GetGroup(ctx context.Context, id string) (*types.Group, error) { return nil, nil }
func (m *mockDB) FindGroupByName(ctx context.Context, name string) (*types.Group, error) {
	return nil, nil
}
func (m *mockDB) ListGroupsForUser(ctx context.Context, userID string) ([]*types.Group, error) {
	return nil, nil
}
func (m *mockDB) CreateGroup(ctx context.Context, group *types.Group) error { return nil }
func (m *mockDB) UpdateGroup(ctx context.Context, group *types.Group, expectedVersion int64) error {
	return nil
}
func (m *mockDB) CreateCall(ctx context.Context, call *types.Call) error      { return nil }
func (m *mockDB) GetCall(ctx context.Context, id string) (*types.Call, error) { return nil, nil }
func (m *mockDB) UpdateCall(ctx context.Context, call *types.Call, expectedVersion int64) error {
	return nil
}
func (m *mockDB) CreateMessage(ctx context.Context, message *types.Message) error { return nil }
func (m *mockDB) ListGroupMessages(ctx context.Context, groupID string, limit int) ([]*types.Message, error) {
	return nil, nil
}
func (m *mockDB) ListDirectMessages(ctx context.Context, userA, userB string, limit int) ([]*types.Message, error) {
	return nil, nil
}
func (m *mockDB) MarkDirectMessagesRead(ctx context.Context, receiverID, senderID string) (int64, error) {
	return 0, nil
}
func (m *mockDB) HealthCheck(ctx context.Context) error { return nil }
func (m *mockDB) Close() error                          { return nil }

func TestInterfaces_Compliance(t *testing.T) {
	var _ interfaces.Connection = &mockConnection{}
	var _ interfaces.Emitter = &mockEmitter{}
	var _ interfaces.DatabaseManager = &mockDB{}

	var db interfaces.DatabaseManager = &mockDB{}
	var _ interfaces.UserStore = db
	var _ interfaces.GroupStore = db
	var _ interfaces.CallStore = db
	var _ interfaces.MessageStore = db
}

func TestStoreErrors_Distinct(t *testing.T) {
	errs := []error{interfaces.ErrNotFound, interfaces.ErrVersionConflict, interfaces.ErrDuplicate}
	for i, a := range errs {
		for j, b := range errs {
			if i != j && errors.Is(a, b) {
				t.Errorf("%v should not match %v", a, b)
			}
		}
	}

	wrapped := fmt.Errorf("update call: %w", interfaces.ErrVersionConflict)
	if !errors.Is(wrapped, interfaces.ErrVersionConflict) {
		t.Error("wrapped conflict should match with errors.Is")
	}
}
