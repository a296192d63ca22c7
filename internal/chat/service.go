// Package chat persists direct and group messages and resolves their user references.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"cececho/internal/authz"
	"cececho/internal/logging"
	"cececho/pkg/interfaces"
	"cececho/pkg/types"
)

const DefaultHistoryLimit = 100

// Store is the subset of the store the chat service uses.
type Store interface {
	interfaces.UserStore
	interfaces.GroupStore
	interfaces.MessageStore
}

// Service sends messages and loads history. REST and websocket paths share it.
type Service struct {
	store        Store
	historyLimit int
	now          func() time.Time
}

// NewService creates a chat service. historyLimit <= 0 uses DefaultHistoryLimit.
func NewService(store Store, historyLimit int) *Service {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Service{store: store, historyLimit: historyLimit, now: time.Now}
}

// SetClock replaces the wall clock. Used by tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Outgoing is a message as submitted by its sender.
type Outgoing struct {
	SenderID    string
	ReceiverID  string
	GroupID     string
	Content     string
	MessageType string
	FileURL     string
	FileName    string
	FileSize    int64
}

// Send validates the recipient, stores the message and returns it enriched.
// A group message requires the sender to be a member of the group.
func (s *Service) Send(ctx context.Context, out Outgoing) (*types.EnrichedMessage, error) {
	receiverID := strings.TrimSpace(out.ReceiverID)
	groupID := strings.TrimSpace(out.GroupID)

	switch {
	case receiverID == "" && groupID == "":
		return nil, types.WrapError(types.CodeValidation, "Either receiver or groupId is required", types.ErrAmbiguousRecipient)
	case receiverID != "" && groupID != "":
		return nil, types.WrapError(types.CodeValidation, "Cannot send message to both user and group at the same time", types.ErrAmbiguousRecipient)
	}

	if receiverID != "" {
		if !types.IsValidUserID(receiverID) {
			return nil, types.ValidationError(types.ErrInvalidUserID)
		}
		if _, err := s.store.GetUser(ctx, receiverID); err != nil {
			if errors.Is(err, interfaces.ErrNotFound) {
				return nil, types.NotFound("Receiver not found")
			}
			return nil, fmt.Errorf("failed to load receiver %s: %w", receiverID, err)
		}
	} else {
		if !types.IsValidUserID(groupID) {
			return nil, types.ValidationError(types.ErrInvalidRoom)
		}
		group, err := s.store.GetGroup(ctx, groupID)
		if err != nil && !errors.Is(err, interfaces.ErrNotFound) {
			return nil, fmt.Errorf("failed to load group %s: %w", groupID, err)
		}
		if group == nil || !group.HasMember(out.SenderID) {
			return nil, types.WrapError(types.CodeForbidden, "You are not a member of this group", authz.ErrNotGroupMember)
		}
	}

	msg := &types.Message{
		ID:          uuid.NewString(),
		SenderID:    out.SenderID,
		ReceiverID:  types.StringPtr(receiverID),
		GroupID:     types.StringPtr(groupID),
		Content:     out.Content,
		MessageType: strings.TrimSpace(out.MessageType),
		FileURL:     out.FileURL,
		FileName:    out.FileName,
		FileSize:    out.FileSize,
		CreatedAt:   s.now().UTC(),
	}
	if err := msg.Validate(); err != nil {
		return nil, types.ValidationError(err)
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to store message: %w", err)
	}

	logging.Debug().
		Str("message_id", msg.ID).
		Str("sender", msg.SenderID).
		Str("receiver", receiverID).
		Str("group_id", groupID).
		Msg("Message stored")

	enriched, err := s.Enrich(ctx, []*types.Message{msg})
	if err != nil {
		return nil, err
	}
	return enriched[0], nil
}

// GroupHistory returns the latest messages of a group the user belongs to.
func (s *Service) GroupHistory(ctx context.Context, userID, groupID string) ([]*types.EnrichedMessage, error) {
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil && !errors.Is(err, interfaces.ErrNotFound) {
		return nil, fmt.Errorf("failed to load group %s: %w", groupID, err)
	}
	if group == nil || !group.HasMember(userID) {
		return nil, types.NotFound("Group not found or you are not a member")
	}

	messages, err := s.store.ListGroupMessages(ctx, groupID, s.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list group messages: %w", err)
	}
	return s.Enrich(ctx, messages)
}

// DirectHistory returns the conversation between userID and otherID and marks
// what otherID sent as read.
func (s *Service) DirectHistory(ctx context.Context, userID, otherID string) ([]*types.EnrichedMessage, error) {
	if !types.IsValidUserID(otherID) {
		return nil, types.ValidationError(types.ErrInvalidUserID)
	}

	messages, err := s.store.ListDirectMessages(ctx, userID, otherID, s.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list direct messages: %w", err)
	}
	if _, err := s.store.MarkDirectMessagesRead(ctx, userID, otherID); err != nil {
		return nil, fmt.Errorf("failed to mark messages read: %w", err)
	}
	return s.Enrich(ctx, messages)
}

// Enrich resolves sender and receiver ids to profiles in one batch lookup.
// Users that no longer exist resolve to a placeholder profile.
func (s *Service) Enrich(ctx context.Context, messages []*types.Message) ([]*types.EnrichedMessage, error) {
	seen := make(map[string]struct{})
	var ids []string
	add := func(id string) {
		if _, ok := seen[id]; ok || id == "" {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, m := range messages {
		add(m.SenderID)
		if m.ReceiverID != nil {
			add(*m.ReceiverID)
		}
	}

	users, err := s.store.GetUsersByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve message users: %w", err)
	}
	profile := func(id string) *types.UserProfile {
		if u, ok := users[id]; ok {
			return u.Profile()
		}
		return types.UnknownProfile(id)
	}

	out := make([]*types.EnrichedMessage, 0, len(messages))
	for _, m := range messages {
		e := &types.EnrichedMessage{Message: *m, Sender: profile(m.SenderID)}
		if m.ReceiverID != nil {
			e.Receiver = profile(*m.ReceiverID)
		}
		out = append(out, e)
	}
	return out, nil
}
