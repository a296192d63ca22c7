package signaling

import (
	"context"

	"cececho/internal/authz"
	"cececho/internal/calls"
	"cececho/pkg/interfaces"
	"cececho/pkg/types"
)

// initiateBroadcast starts a group broadcast, announces it to the group room and
// acks the initiator, who joins the room if it had not already.
func (s *Signaling) initiateBroadcast(ctx context.Context, conn interfaces.Connection, p *InitiateBroadcast) error {
	if err := requireSelf(conn, p.From); err != nil {
		return err
	}

	call, group, err := s.calls.StartBroadcast(ctx, calls.Broadcast{
		CallerID:  conn.GetUserID(),
		GroupID:   p.GroupID,
		CallType:  p.CallType,
		MeetingID: p.MeetingID,
	})
	if err != nil {
		return err
	}

	s.emitter.Join(conn, group.ID)
	s.emitter.EmitToRoom(group.ID, EventBroadcastInitiated, BroadcastInitiated{
		From:       call.CallerID,
		CallID:     call.ID,
		CallType:   call.CallType,
		MeetingID:  call.MeetingID,
		CallerInfo: s.calls.Participant(ctx, call.CallerID),
	}, conn)
	reply(conn, EventBroadcastStarted, BroadcastStarted{
		CallID:    call.ID,
		GroupID:   group.ID,
		CallType:  call.CallType,
		MeetingID: call.MeetingID,
	})
	return nil
}

// broadcastAction handles raise-hand, speaker permission changes and leave-broadcast.
// Permission changes are re-authorized against the broadcast's caller on every event;
// participant events require the connection to be in the group room.
func (s *Signaling) broadcastAction(ctx context.Context, conn interfaces.Connection, p *BroadcastAction) error {
	call, err := s.calls.Get(ctx, p.CallID)
	if err != nil {
		return err
	}
	if !call.IsBroadcast() {
		return types.NewError(types.CodeValidation, "Call is not a broadcast")
	}
	if *call.GroupID != p.GroupID {
		return types.NewError(types.CodeValidation, "Call does not belong to this group")
	}
	if call.Status.IsTerminal() {
		return types.WrapError(types.CodeConflict, "Broadcast has ended", calls.ErrCallEnded)
	}

	switch p.Event() {
	case EventGrantSpeaker, EventRevokeSpeaker:
		if err := authz.RequireBroadcastCaller(call, conn.GetUserID()); err != nil {
			return err
		}
		if p.Event() == EventGrantSpeaker {
			s.emitter.EmitToUser(p.UserID, EventSpeakerGranted, CallRef{CallID: call.ID})
			s.emitter.EmitToRoom(p.GroupID, EventSpeakerAdded, UserRef{UserID: p.UserID}, conn)
		} else {
			s.emitter.EmitToUser(p.UserID, EventSpeakerRevoked, CallRef{CallID: call.ID})
			s.emitter.EmitToRoom(p.GroupID, EventSpeakerRemoved, UserRef{UserID: p.UserID}, conn)
		}
		return nil
	}

	if err := requireSelf(conn, p.UserID); err != nil {
		return err
	}
	if !s.emitter.InRoom(conn, p.GroupID) {
		return types.WrapError(types.CodeForbidden, "You have not joined this broadcast's group", authz.ErrNotGroupMember)
	}

	if p.Event() == EventRaiseHand {
		who := UserRef{UserID: p.UserID, UserName: s.calls.Participant(ctx, p.UserID).Name}
		s.emitter.EmitToUser(call.CallerID, EventHandRaised, who)
		s.emitter.EmitToRoom(p.GroupID, EventParticipantHandRaised, who, conn)
		return nil
	}

	s.emitter.EmitToUser(call.CallerID, EventParticipantLeft, UserRef{UserID: p.UserID})
	s.emitter.EmitToRoom(p.GroupID, EventParticipantLeftCast, UserRef{UserID: p.UserID}, conn)
	return nil
}
