package signaling

import (
	"context"

	"cececho/internal/authz"
	"cececho/internal/calls"
	"cececho/internal/logging"
	"cececho/pkg/interfaces"
	"cececho/pkg/types"
)

// callUser creates a direct call, rings every connection of the callee and acks the caller.
func (s *Signaling) callUser(ctx context.Context, conn interfaces.Connection, p *CallUser) error {
	if err := requireSelf(conn, p.From); err != nil {
		return err
	}
	if p.To == conn.GetUserID() {
		return types.NewError(types.CodeValidation, "You cannot call yourself")
	}

	// The role may have changed since the socket connected
	caller, err := s.currentUser(ctx, conn)
	if err != nil {
		return err
	}

	call, callee, err := s.calls.StartDirect(ctx, calls.DirectCall{
		CallerID:   caller.ID,
		CallerRole: caller.Role,
		CalleeID:   p.To,
		CallType:   p.CallType,
		MeetingID:  p.MeetingID,
	})
	if err != nil {
		return err
	}

	s.emitter.EmitToUser(callee.ID, EventIncomingCall, IncomingCall{
		From:       call.CallerID,
		CallID:     call.ID,
		CallType:   call.CallType,
		Offer:      p.Offer,
		MeetingID:  call.MeetingID,
		CallerInfo: s.calls.Participant(ctx, call.CallerID),
	})
	reply(conn, EventCallInitiated, CallInitiated{
		CallID:     call.ID,
		To:         callee.ID,
		CallType:   call.CallType,
		MeetingID:  call.MeetingID,
		CalleeInfo: callee.Profile(),
	})
	return nil
}

// callAction applies accept, reject or terminate and relays the outcome to the
// other side. A repeated terminal request still relays so both parties learn the result.
func (s *Signaling) callAction(ctx context.Context, conn interfaces.Connection, p *CallAction) error {
	actor := conn.GetUserID()
	call, err := s.calls.Get(ctx, p.CallID)
	if err != nil {
		return err
	}

	var status types.CallStatus
	switch p.Event() {
	case EventAcceptCall:
		status = types.CallStatusOngoing
	case EventRejectCall:
		status = types.CallStatusRejected
	default:
		status = types.CallStatusCompleted
	}

	if call.IsBroadcast() {
		if status != types.CallStatusCompleted {
			return types.NewError(types.CodeValidation, "Broadcasts cannot be accepted or rejected")
		}
		if err := authz.RequireBroadcastCaller(call, actor); err != nil {
			return err
		}
		if _, _, err := s.calls.UpdateStatus(ctx, actor, call.ID, status); err != nil {
			return err
		}
		s.emitter.EmitToRoom(*call.GroupID, EventCallTerminated, CallRef{CallID: call.ID}, conn)
		return nil
	}

	if err := authz.RequireCallParticipant(call, actor); err != nil {
		return err
	}
	if status != types.CallStatusCompleted && (call.CalleeID == nil || *call.CalleeID != actor) {
		return types.Forbidden("Only the callee can answer this call")
	}
	counterpart := call.CallerID
	if actor == call.CallerID && call.CalleeID != nil {
		counterpart = *call.CalleeID
	}
	if p.To != "" && p.To != counterpart {
		return types.Forbidden("Recipient is not the other participant of this call")
	}

	_, changed, err := s.calls.UpdateStatus(ctx, actor, call.ID, status)
	if err != nil {
		return err
	}

	switch status {
	case types.CallStatusOngoing:
		s.emitter.EmitToUser(counterpart, EventCallAccepted, CallAccepted{CallID: call.ID, Answer: p.Answer})
	case types.CallStatusRejected:
		s.emitter.EmitToUser(counterpart, EventCallRejected, CallRef{CallID: call.ID})
	default:
		s.emitter.EmitToUser(counterpart, EventCallTerminated, CallRef{CallID: call.ID})
	}

	logging.Ctx(ctx).Debug().
		Str("call_id", call.ID).
		Str("status", string(status)).
		Bool("changed", changed).
		Msg("Call action relayed")
	return nil
}

// iceCandidate is a pure relay; from carries the sender's user id.
func (s *Signaling) iceCandidate(conn interfaces.Connection, p *ICECandidate) error {
	s.emitter.EmitToUser(p.To, EventICECandidate, ICERelay{
		Candidate: p.Candidate,
		From:      conn.GetUserID(),
	})
	return nil
}
