package signaling

import (
	"context"
	"fmt"
	"time"

	"cececho/pkg/interfaces"
)

const presenceTimeout = 5 * time.Second

func (s *Signaling) setOnlineStatus(ctx context.Context, conn interfaces.Connection, p *OnlineStatus) error {
	if err := requireSelf(conn, p.UserID); err != nil {
		return err
	}
	status := p.Status
	if status == "" {
		status = StatusOnline
	}
	return s.announceStatus(ctx, conn.GetUserID(), status, conn)
}

// announceStatus relays user-status-changed to every group the user belongs to.
// Presence is never persisted.
func (s *Signaling) announceStatus(ctx context.Context, userID, status string, except interfaces.Connection) error {
	groups, err := s.store.ListGroupsForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to list groups for %s: %w", userID, err)
	}
	for _, g := range groups {
		s.emitter.EmitToRoom(g.ID, EventUserStatusChanged, UserStatus{UserID: userID, Status: status}, except)
	}
	return nil
}
