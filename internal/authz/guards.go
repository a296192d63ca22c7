package authz

import (
	"errors"

	"cececho/pkg/types"
)

var (
	ErrRoleDenied       = errors.New("role not permitted")
	ErrNotGroupMember   = errors.New("not a group member")
	ErrNotGroupAdmin    = errors.New("not a group admin")
	ErrNotParticipant   = errors.New("not a call participant")
	ErrNotBroadcastHost = errors.New("not the broadcast caller")
)

// RequireGroupMember gates broadcast initiation, group messages and group room joins.
func RequireGroupMember(g *types.Group, userID string) error {
	if !g.HasMember(userID) {
		return types.WrapError(types.CodeForbidden, "You are not a member of this group", ErrNotGroupMember)
	}
	return nil
}

// RequireGroupAdmin gates group member addition.
func RequireGroupAdmin(g *types.Group, userID string) error {
	if !g.IsAdmin(userID) {
		return types.WrapError(types.CodeForbidden, "Only group admins can add members", ErrNotGroupAdmin)
	}
	return nil
}

// RequireCallParticipant gates direct call status changes.
func RequireCallParticipant(c *types.Call, userID string) error {
	if !c.IsParticipant(userID) {
		return types.WrapError(types.CodeForbidden, "Only call participants can update this call", ErrNotParticipant)
	}
	return nil
}

// RequireBroadcastCaller gates speaker permission changes and ending a broadcast.
func RequireBroadcastCaller(c *types.Call, userID string) error {
	if !c.IsBroadcast() || c.CallerID != userID {
		return types.WrapError(types.CodeForbidden, "Only the broadcaster can manage this broadcast", ErrNotBroadcastHost)
	}
	return nil
}
