// Package memstore is an in-memory interfaces.DatabaseManager with the same
// not-found, duplicate and version-conflict semantics as the SQLite store.
// Services use it in unit tests.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"cececho/pkg/interfaces"
	"cececho/pkg/types"
)

// Store keeps copies of every record; callers never share memory with it.
type Store struct {
	mu       sync.RWMutex
	users    map[string]types.User
	groups   map[string]types.Group
	calls    map[string]types.Call
	messages []types.Message

	// Hooks run inside UpdateGroup/UpdateCall before the version check. Tests use
	// them to inject concurrent writers.
	BeforeGroupUpdate func(id string)
	BeforeCallUpdate  func(id string)

	groupUpdates int
	reserved     map[string]bool
}

var _ interfaces.DatabaseManager = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		users:    make(map[string]types.User),
		groups:   make(map[string]types.Group),
		calls:    make(map[string]types.Call),
		reserved: map[string]bool{"cec assemble": true},
	}
}

// Reserve marks names that at most one group may carry, compared case-insensitively.
func (s *Store) Reserve(names ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range names {
		s.reserved[strings.ToLower(strings.TrimSpace(name))] = true
	}
}

// nameTaken reports whether a reserved name is already used by a group other than id.
func (s *Store) nameTaken(name, id string) bool {
	if !s.reserved[strings.ToLower(name)] {
		return false
	}
	for _, g := range s.groups {
		if g.ID != id && strings.EqualFold(g.Name, name) {
			return true
		}
	}
	return false
}

func copyGroup(g types.Group) *types.Group {
	g.Members = append(types.Members(nil), g.Members...)
	g.Admins = append(types.StringList(nil), g.Admins...)
	return &g
}

func copyCall(c types.Call) *types.Call {
	if c.CalleeID != nil {
		v := *c.CalleeID
		c.CalleeID = &v
	}
	if c.GroupID != nil {
		v := *c.GroupID
		c.GroupID = &v
	}
	if c.StartTime != nil {
		v := *c.StartTime
		c.StartTime = &v
	}
	if c.EndTime != nil {
		v := *c.EndTime
		c.EndTime = &v
	}
	if c.Duration != nil {
		v := *c.Duration
		c.Duration = &v
	}
	return &c
}

// Users

func (s *Store) GetUser(ctx context.Context, id string) (*types.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return &u, nil
}

func (s *Store) GetUsersByIDs(ctx context.Context, ids []string) (map[string]*types.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*types.User, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			u := u
			out[id] = &u
		}
	}
	return out, nil
}

func (s *Store) CreateUser(ctx context.Context, user *types.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID]; ok {
		return interfaces.ErrDuplicate
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.users[user.ID] = *user
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return interfaces.ErrNotFound
	}
	delete(s.users, id)
	return nil
}

// Groups

func (s *Store) GetGroup(ctx context.Context, id string) (*types.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return copyGroup(g), nil
}

func (s *Store) FindGroupByName(ctx context.Context, name string) (*types.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *types.Group
	for _, g := range s.groups {
		if !strings.EqualFold(strings.TrimSpace(g.Name), strings.TrimSpace(name)) {
			continue
		}
		if found == nil || g.CreatedAt.Before(found.CreatedAt) {
			found = copyGroup(g)
		}
	}
	if found == nil {
		return nil, interfaces.ErrNotFound
	}
	return found, nil
}

func (s *Store) ListGroupsForUser(ctx context.Context, userID string) ([]*types.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Group
	for _, g := range s.groups {
		if g.HasMember(userID) {
			out = append(out, copyGroup(g))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// CreateGroup enforces the same case-insensitive uniqueness the SQLite triggers apply
// to reserved group names.
func (s *Store) CreateGroup(ctx context.Context, group *types.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[group.ID]; ok {
		return interfaces.ErrDuplicate
	}
	if s.nameTaken(group.Name, group.ID) {
		return interfaces.ErrDuplicate
	}
	if group.CreatedAt.IsZero() {
		group.CreatedAt = time.Now().UTC()
	}
	group.UpdatedAt = group.CreatedAt
	group.Version = 1
	s.groups[group.ID] = *copyGroup(*group)
	return nil
}

func (s *Store) UpdateGroup(ctx context.Context, group *types.Group, expectedVersion int64) error {
	if s.BeforeGroupUpdate != nil {
		s.BeforeGroupUpdate(group.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.groups[group.ID]
	if !ok {
		return interfaces.ErrNotFound
	}
	if stored.Version != expectedVersion {
		return interfaces.ErrVersionConflict
	}
	if !strings.EqualFold(stored.Name, group.Name) && s.nameTaken(group.Name, group.ID) {
		return interfaces.ErrDuplicate
	}
	group.Version = expectedVersion + 1
	group.UpdatedAt = time.Now().UTC()
	group.CreatedAt = stored.CreatedAt
	s.groups[group.ID] = *copyGroup(*group)
	s.groupUpdates++
	return nil
}

// GroupUpdates returns how many group writes succeeded.
func (s *Store) GroupUpdates() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.groupUpdates
}

// Calls

func (s *Store) CreateCall(ctx context.Context, call *types.Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.calls[call.ID]; ok {
		return interfaces.ErrDuplicate
	}
	if call.CreatedAt.IsZero() {
		call.CreatedAt = time.Now().UTC()
	}
	call.UpdatedAt = call.CreatedAt
	call.Version = 1
	s.calls[call.ID] = *copyCall(*call)
	return nil
}

// CallCount returns how many call records exist.
func (s *Store) CallCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.calls)
}

func (s *Store) GetCall(ctx context.Context, id string) (*types.Call, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.calls[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return copyCall(c), nil
}

func (s *Store) UpdateCall(ctx context.Context, call *types.Call, expectedVersion int64) error {
	if s.BeforeCallUpdate != nil {
		s.BeforeCallUpdate(call.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.calls[call.ID]
	if !ok {
		return interfaces.ErrNotFound
	}
	if stored.Version != expectedVersion {
		return interfaces.ErrVersionConflict
	}
	call.Version = expectedVersion + 1
	call.UpdatedAt = time.Now().UTC()
	s.calls[call.ID] = *copyCall(*call)
	return nil
}

// Messages

func (s *Store) CreateMessage(ctx context.Context, message *types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}
	s.messages = append(s.messages, *message)
	return nil
}

func (s *Store) ListGroupMessages(ctx context.Context, groupID string, limit int) ([]*types.Message, error) {
	return s.listMessages(limit, func(m types.Message) bool {
		return m.GroupID != nil && *m.GroupID == groupID
	}), nil
}

func (s *Store) ListDirectMessages(ctx context.Context, userA, userB string, limit int) ([]*types.Message, error) {
	return s.listMessages(limit, func(m types.Message) bool {
		if m.ReceiverID == nil {
			return false
		}
		return (m.SenderID == userA && *m.ReceiverID == userB) || (m.SenderID == userB && *m.ReceiverID == userA)
	}), nil
}

func (s *Store) MarkDirectMessagesRead(ctx context.Context, receiverID, senderID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var updated int64
	for i := range s.messages {
		m := &s.messages[i]
		if m.ReceiverID != nil && *m.ReceiverID == receiverID && m.SenderID == senderID && !m.IsRead {
			m.IsRead = true
			updated++
		}
	}
	return updated, nil
}

func (s *Store) listMessages(limit int, match func(types.Message) bool) []*types.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Message
	for _, m := range s.messages {
		if !m.IsDeleted && match(m) {
			m := m
			out = append(out, &m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func (s *Store) HealthCheck(ctx context.Context) error { return nil }

func (s *Store) Close() error { return nil }
