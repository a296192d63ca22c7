package signaling

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"cececho/internal/calls"
	"cececho/internal/chat"
	"cececho/internal/logging"
	"cececho/internal/membership"
	"cececho/internal/metrics"
	"cececho/pkg/interfaces"
	"cececho/pkg/types"
)

// Store is the subset of the store signaling reads directly.
type Store interface {
	interfaces.UserStore
	interfaces.GroupStore
}

// Config bounds the inbound event rate of each connection.
type Config struct {
	EventsPerSecond float64
	EventBurst      int
}

// Signaling implements websocket.Dispatcher.
// ARCHITECTURAL DISCOVERY: Handlers never write sockets directly except for acks and
// errors to the originating connection; every relay goes through the emitter
type Signaling struct {
	store   Store
	emitter interfaces.Emitter
	calls   *calls.Service
	chat    *chat.Service
	members *membership.Manager
	limiter *RateLimiter
}

// New creates the dispatcher.
func New(store Store, emitter interfaces.Emitter, callService *calls.Service, chatService *chat.Service,
	members *membership.Manager, config Config) *Signaling {
	if config.EventsPerSecond <= 0 {
		config.EventsPerSecond = 50
	}
	if config.EventBurst <= 0 {
		config.EventBurst = 100
	}
	return &Signaling{
		store:   store,
		emitter: emitter,
		calls:   callService,
		chat:    chatService,
		members: members,
		limiter: NewRateLimiter(config.EventsPerSecond, config.EventBurst),
	}
}

// Limiter exposes the rate limiter so its idle entries can be swept.
func (s *Signaling) Limiter() *RateLimiter {
	return s.limiter
}

// Connected is a membership access point: students are enrolled or expired first,
// then the connection joins its private room and the room of every group it belongs to.
func (s *Signaling) Connected(ctx context.Context, conn interfaces.Connection) {
	userID := conn.GetUserID()

	// Non-students are a no-op inside the manager, which reads the stored role
	if s.members != nil {
		if _, err := s.members.EnsureStudentMembership(ctx, userID); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("user_id", userID).Msg("Community enrollment failed on connect")
		}
	}

	s.emitter.Join(conn, userID)

	groups, err := s.store.ListGroupsForUser(ctx, userID)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("user_id", userID).Msg("Failed to load groups on connect")
		return
	}
	for _, g := range groups {
		s.emitter.Join(conn, g.ID)
	}
	logging.Ctx(ctx).Debug().Str("user_id", userID).Int("groups", len(groups)).Msg("Joined rooms on connect")
}

// Disconnected releases per-connection state. When the user's last connection
// closes, their groups are told they went offline.
func (s *Signaling) Disconnected(conn interfaces.Connection) {
	s.limiter.Forget(conn.ID())

	userID := conn.GetUserID()
	if s.emitter.IsOnline(userID) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := s.announceStatus(ctx, userID, StatusOffline, nil); err != nil {
		logging.Warn().Err(err).Str("user_id", userID).Msg("Failed to announce offline status")
	}
}

// Dispatch decodes one frame and runs its handler. Failures are reported only to conn.
func (s *Signaling) Dispatch(ctx context.Context, conn interfaces.Connection, data []byte) {
	var in types.InboundEnvelope
	if err := json.Unmarshal(data, &in); err != nil || in.Event == "" {
		s.fail(ctx, conn, "", types.NewError(types.CodeValidation, "Malformed event frame"))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.fail(ctx, conn, in.Event, fmt.Errorf("handler panic: %v", r))
		}
	}()

	if !s.limiter.Allow(conn.ID()) {
		s.fail(ctx, conn, in.Event, types.NewError(types.CodeRateLimited, "Too many events, slow down"))
		return
	}

	payload, err := Decode(in.Event, in.Data)
	if err == nil {
		err = s.handle(ctx, conn, payload)
	}
	if err != nil {
		s.fail(ctx, conn, in.Event, err)
		return
	}
	metrics.RecordEvent(in.Event, "")
}

func (s *Signaling) handle(ctx context.Context, conn interfaces.Connection, payload Payload) error {
	switch p := payload.(type) {
	case *JoinRoom:
		return s.joinRoom(ctx, conn, p)
	case *CallUser:
		return s.callUser(ctx, conn, p)
	case *CallAction:
		return s.callAction(ctx, conn, p)
	case *ICECandidate:
		return s.iceCandidate(conn, p)
	case *InitiateBroadcast:
		return s.initiateBroadcast(ctx, conn, p)
	case *BroadcastAction:
		return s.broadcastAction(ctx, conn, p)
	case *PrivateMessage:
		return s.privateMessage(ctx, conn, p)
	case *GroupMessage:
		return s.groupMessage(ctx, conn, p)
	case *Typing:
		return s.typing(ctx, conn, p)
	case *OnlineStatus:
		return s.setOnlineStatus(ctx, conn, p)
	default:
		return types.NewError(types.CodeValidation, "Unknown event: %s", payload.Event())
	}
}

// fail logs err and reports it to the originating connection as call-error.
func (s *Signaling) fail(ctx context.Context, conn interfaces.Connection, event string, err error) {
	code := types.CodeOf(err)
	metrics.RecordEvent(eventLabel(event), string(code))

	log := logging.Ctx(ctx)
	if code == types.CodeInternal {
		log.Error().Err(err).Str("event", event).Str("user_id", conn.GetUserID()).Msg("Signaling handler failed")
	} else {
		log.Warn().Err(err).Str("event", event).Str("user_id", conn.GetUserID()).Str("code", string(code)).Msg("Signaling event rejected")
	}

	reply(conn, types.ErrorEvent, types.ErrorPayload{
		Message: types.MessageOf(err),
		Code:    code,
		Event:   event,
	})
}

// eventLabel keeps metric cardinality bounded to known event names.
func eventLabel(event string) string {
	if _, ok := payloads[event]; ok {
		return event
	}
	return "unknown"
}

// reply writes directly to one connection.
func reply(conn interfaces.Connection, event string, payload interface{}) {
	if err := conn.WriteJSON(types.Envelope{Event: event, Data: payload}); err != nil {
		logging.Debug().Err(err).Str("event", event).Str("conn_id", conn.ID()).Msg("Reply not delivered")
	}
}

// currentUser reloads the connection's user so role and account state are never stale.
func (s *Signaling) currentUser(ctx context.Context, conn interfaces.Connection) (*types.User, error) {
	user, err := s.store.GetUser(ctx, conn.GetUserID())
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, types.NotFound("User not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", conn.GetUserID(), err)
	}
	if !user.IsActive {
		return nil, types.Forbidden("Account is inactive")
	}
	if string(user.Role) != conn.GetRole() {
		logging.Ctx(ctx).Debug().
			Str("user_id", user.ID).
			Str("token_role", conn.GetRole()).
			Str("role", string(user.Role)).
			Msg("Role changed since connect")
	}
	return user, nil
}

// requireSelf rejects payload identity fields naming someone other than the connection user.
func requireSelf(conn interfaces.Connection, claimed string) error {
	if claimed != "" && claimed != conn.GetUserID() {
		return types.Forbidden("Payload user does not match the authenticated user")
	}
	return nil
}

func (s *Signaling) joinRoom(ctx context.Context, conn interfaces.Connection, p *JoinRoom) error {
	userID := conn.GetUserID()
	if p.Room != userID {
		group, err := s.store.GetGroup(ctx, p.Room)
		if errors.Is(err, interfaces.ErrNotFound) {
			return types.NotFound("Room not found")
		}
		if err != nil {
			return fmt.Errorf("failed to load group %s: %w", p.Room, err)
		}
		if !group.HasMember(userID) {
			return types.Forbidden("You are not a member of this group")
		}
	}

	s.emitter.Join(conn, p.Room)
	reply(conn, EventRoomJoined, map[string]string{"room": p.Room})
	logging.Ctx(ctx).Debug().Str("user_id", userID).Str("room", p.Room).Msg("Joined room")
	return nil
}
