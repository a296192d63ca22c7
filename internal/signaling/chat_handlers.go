package signaling

import (
	"context"
	"errors"
	"fmt"

	"cececho/internal/chat"
	"cececho/pkg/interfaces"
	"cececho/pkg/types"
)

func (s *Signaling) privateMessage(ctx context.Context, conn interfaces.Connection, p *PrivateMessage) error {
	if err := requireSelf(conn, p.SenderID); err != nil {
		return err
	}
	msg, err := s.chat.Send(ctx, chat.Outgoing{
		SenderID:    conn.GetUserID(),
		ReceiverID:  p.ReceiverID,
		Content:     p.Content,
		MessageType: p.MessageType,
		FileURL:     p.FileURL,
		FileName:    p.FileName,
		FileSize:    p.FileSize,
	})
	if err != nil {
		return err
	}

	s.emitter.EmitToUser(p.ReceiverID, EventReceivePrivateMessage, msg)
	reply(conn, EventMessageSent, msg)
	return nil
}

func (s *Signaling) groupMessage(ctx context.Context, conn interfaces.Connection, p *GroupMessage) error {
	if err := requireSelf(conn, p.SenderID); err != nil {
		return err
	}
	msg, err := s.chat.Send(ctx, chat.Outgoing{
		SenderID:    conn.GetUserID(),
		GroupID:     p.GroupID,
		Content:     p.Content,
		MessageType: p.MessageType,
		FileURL:     p.FileURL,
		FileName:    p.FileName,
		FileSize:    p.FileSize,
	})
	if err != nil {
		return err
	}

	s.emitter.EmitToRoom(p.GroupID, EventReceiveGroupMessage, msg, conn)
	reply(conn, EventMessageSent, msg)
	return nil
}

// typing relays to a joined group room or to another user's private room.
func (s *Signaling) typing(ctx context.Context, conn interfaces.Connection, p *Typing) error {
	if err := requireSelf(conn, p.UserID); err != nil {
		return err
	}
	userID := conn.GetUserID()

	if !s.emitter.InRoom(conn, p.Room) {
		if _, err := s.store.GetUser(ctx, p.Room); err != nil {
			if errors.Is(err, interfaces.ErrNotFound) {
				return types.Forbidden("You cannot send typing notices to this room")
			}
			return fmt.Errorf("failed to load user %s: %w", p.Room, err)
		}
	}

	if p.Event() == EventTypingStart {
		name := s.calls.Participant(ctx, userID).Name
		s.emitter.EmitToRoom(p.Room, EventUserTyping, UserRef{UserID: userID, UserName: name}, conn)
	} else {
		s.emitter.EmitToRoom(p.Room, EventUserStoppedTyping, UserRef{UserID: userID}, conn)
	}
	return nil
}
