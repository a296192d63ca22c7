package calls

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"cececho/internal/authz"
	"cececho/internal/logging"
	"cececho/internal/metrics"
	"cececho/pkg/interfaces"
	"cececho/pkg/types"
)

const maxUpdateAttempts = 5

// Store is the subset of the store the call service uses.
type Store interface {
	interfaces.UserStore
	interfaces.GroupStore
	interfaces.CallStore
}

// Service creates calls and applies status transitions with optimistic concurrency.
type Service struct {
	store    Store
	enforcer *authz.Enforcer
	now      func() time.Time
}

// NewService creates a call service.
func NewService(store Store, enforcer *authz.Enforcer) *Service {
	return &Service{
		store:    store,
		enforcer: enforcer,
		now:      time.Now,
	}
}

// SetClock replaces the wall clock. Used by tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// DirectCall describes a one-to-one call request.
type DirectCall struct {
	CallerID   string
	CallerRole types.Role
	CalleeID   string
	CallType   string
	MeetingID  string
}

// Broadcast describes a group broadcast request.
type Broadcast struct {
	CallerID  string
	GroupID   string
	CallType  string
	MeetingID string
}

// StartDirect records a new direct call in the initiated state and returns it with
// the resolved callee. Only faculty and admins may originate direct calls.
func (s *Service) StartDirect(ctx context.Context, req DirectCall) (*types.Call, *types.User, error) {
	if err := s.enforcer.Authorize(req.CallerRole, authz.ObjCall, authz.ActInitiate); err != nil {
		return nil, nil, err
	}
	if !types.IsValidUserID(req.CalleeID) {
		return nil, nil, types.ValidationError(types.ErrInvalidUserID)
	}
	callType, err := types.ParseCallType(req.CallType)
	if err != nil {
		return nil, nil, types.ValidationError(err)
	}

	callee, err := s.store.GetUser(ctx, req.CalleeID)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, nil, types.NotFound("Callee not found")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load callee %s: %w", req.CalleeID, err)
	}

	call := &types.Call{
		ID:        uuid.NewString(),
		CallerID:  req.CallerID,
		CalleeID:  types.StringPtr(callee.ID),
		CallType:  callType,
		Status:    types.CallStatusInitiated,
		MeetingID: meetingID(req.MeetingID),
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateCall(ctx, call); err != nil {
		return nil, nil, fmt.Errorf("failed to create call: %w", err)
	}

	metrics.CallTransitions.WithLabelValues(string(call.Status)).Inc()
	logging.Info().
		Str("call_id", call.ID).
		Str("caller", call.CallerID).
		Str("callee", callee.ID).
		Str("call_type", string(call.CallType)).
		Msg("Direct call initiated")
	return call, callee, nil
}

// StartBroadcast records a group broadcast, which starts ongoing immediately.
// The caller must be a member of the target group.
func (s *Service) StartBroadcast(ctx context.Context, req Broadcast) (*types.Call, *types.Group, error) {
	if !types.IsValidUserID(req.GroupID) {
		return nil, nil, types.ValidationError(types.ErrInvalidRoom)
	}
	callType, err := types.ParseCallType(req.CallType)
	if err != nil {
		return nil, nil, types.ValidationError(err)
	}

	group, err := s.store.GetGroup(ctx, req.GroupID)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, nil, types.NotFound("Group not found")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load group %s: %w", req.GroupID, err)
	}
	if err := authz.RequireGroupMember(group, req.CallerID); err != nil {
		return nil, nil, err
	}

	now := s.now().UTC()
	call := &types.Call{
		ID:        uuid.NewString(),
		CallerID:  req.CallerID,
		GroupID:   types.StringPtr(group.ID),
		CallType:  callType,
		Status:    types.CallStatusOngoing,
		MeetingID: meetingID(req.MeetingID),
		StartTime: &now,
		CreatedAt: now,
	}
	if err := s.store.CreateCall(ctx, call); err != nil {
		return nil, nil, fmt.Errorf("failed to create broadcast: %w", err)
	}

	metrics.CallTransitions.WithLabelValues(string(call.Status)).Inc()
	logging.Info().
		Str("call_id", call.ID).
		Str("caller", call.CallerID).
		Str("group_id", group.ID).
		Msg("Broadcast started")
	return call, group, nil
}

// Get returns a call or a NOT_FOUND error.
func (s *Service) Get(ctx context.Context, callID string) (*types.Call, error) {
	call, err := s.store.GetCall(ctx, callID)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, types.NotFound("Call not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load call %s: %w", callID, err)
	}
	return call, nil
}

// UpdateStatus applies a transition on behalf of actorID and reports whether the
// store was written. Direct calls accept changes only from their caller or callee;
// broadcasts were authorized when they started.
//
// Concurrent requests are resolved by compare-and-set: the first terminal write
// sticks, a repeat of that status succeeds without writing, and any other status
// is a CONFLICT.
func (s *Service) UpdateStatus(ctx context.Context, actorID, callID string, status types.CallStatus) (*types.Call, bool, error) {
	if !types.IsValidUserID(callID) {
		return nil, false, types.NewError(types.CodeValidation, "Invalid call id")
	}

	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		call, err := s.Get(ctx, callID)
		if err != nil {
			return nil, false, err
		}
		if !call.IsBroadcast() {
			if err := authz.RequireCallParticipant(call, actorID); err != nil {
				return nil, false, err
			}
		}

		expected := call.Version
		changed, err := Transition(call, status, s.now())
		if err != nil {
			return nil, false, err
		}
		if !changed {
			return call, false, nil
		}

		err = s.store.UpdateCall(ctx, call, expected)
		if err == nil {
			metrics.CallTransitions.WithLabelValues(string(status)).Inc()
			logging.Debug().
				Str("call_id", call.ID).
				Str("status", string(status)).
				Str("actor", actorID).
				Msg("Call status updated")
			return call, true, nil
		}
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, false, types.NotFound("Call not found")
		}
		if !errors.Is(err, interfaces.ErrVersionConflict) {
			return nil, false, fmt.Errorf("failed to update call %s: %w", callID, err)
		}
		metrics.CallConflicts.Inc()
	}
	return nil, false, types.WrapError(types.CodeConflict, "Call was modified concurrently, please retry", ErrTooManyConflicts)
}

// Participant resolves a user profile for relay payloads, falling back to a
// placeholder when the user no longer exists.
func (s *Service) Participant(ctx context.Context, userID string) *types.UserProfile {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, interfaces.ErrNotFound) {
			logging.Warn().Err(err).Str("user_id", userID).Msg("Failed to resolve participant profile")
		}
		return types.UnknownProfile(userID)
	}
	return user.Profile()
}

func meetingID(requested string) string {
	if id := strings.TrimSpace(requested); id != "" {
		return id
	}
	return uuid.NewString()
}
