// Package signaling handles client events on the websocket: WebRTC call and
// broadcast signaling plus chat relays.
package signaling

import (
	"bytes"

	"github.com/goccy/go-json"

	"cececho/pkg/types"
)

// Inbound event names
const (
	EventJoinRoom          = "join-room"
	EventCallUser          = "call-user"
	EventAcceptCall        = "accept-call"
	EventRejectCall        = "reject-call"
	EventTerminateCall     = "terminate-call"
	EventICECandidate      = "ice-candidate"
	EventInitiateBroadcast = "initiate-broadcast"
	EventRaiseHand         = "raise-hand"
	EventGrantSpeaker      = "grant-speaker-permission"
	EventRevokeSpeaker     = "revoke-speaker-permission"
	EventLeaveBroadcast    = "leave-broadcast"
	EventPrivateMessage    = "private-message"
	EventGroupMessage      = "group-message"
	EventTypingStart       = "typing-start"
	EventTypingStop        = "typing-stop"
	EventSetOnlineStatus   = "set-online-status"
)

// Outbound event names
const (
	EventRoomJoined             = "room-joined"
	EventCallInitiated          = "call-initiated"
	EventIncomingCall           = "incoming-call"
	EventCallAccepted           = "call-accepted"
	EventCallRejected           = "call-rejected"
	EventCallTerminated         = "call-terminated"
	EventBroadcastInitiated     = "broadcast-initiated"
	EventBroadcastStarted       = "broadcast-started"
	EventHandRaised             = "hand-raised"
	EventParticipantHandRaised  = "participant-hand-raised"
	EventSpeakerGranted         = "speaker-permission-granted"
	EventSpeakerRevoked         = "speaker-permission-revoked"
	EventSpeakerAdded           = "speaker-added"
	EventSpeakerRemoved         = "speaker-removed"
	EventParticipantLeft        = "participant-left"
	EventParticipantLeftCast    = "participant-left-broadcast"
	EventReceivePrivateMessage  = "receive-private-message"
	EventReceiveGroupMessage    = "receive-group-message"
	EventMessageSent            = "message-sent"
	EventUserTyping             = "user-typing"
	EventUserStoppedTyping      = "user-stopped-typing"
	EventUserStatusChanged      = "user-status-changed"
)

// Payload is one decoded inbound event. The set of implementations is closed.
type Payload interface {
	Event() string
}

type JoinRoom struct {
	Room string `json:"room" validate:"required,ident"`
}

type CallUser struct {
	To        string          `json:"to" validate:"required,ident"`
	From      string          `json:"from" validate:"omitempty,ident"`
	CallType  string          `json:"callType" validate:"omitempty,oneof=audio video"`
	Offer     json.RawMessage `json:"offer"`
	MeetingID string          `json:"meetingId" validate:"omitempty,max=128"`
}

// CallAction carries accept-call, reject-call and terminate-call.
type CallAction struct {
	CallID string          `json:"callId" validate:"required,ident"`
	To     string          `json:"to" validate:"omitempty,ident"`
	Answer json.RawMessage `json:"answer"`

	event string
}

type ICECandidate struct {
	To        string          `json:"to" validate:"required,ident"`
	Candidate json.RawMessage `json:"candidate" validate:"required"`
}

type InitiateBroadcast struct {
	GroupID   string `json:"groupId" validate:"required,ident"`
	From      string `json:"from" validate:"omitempty,ident"`
	CallType  string `json:"callType" validate:"omitempty,oneof=audio video"`
	MeetingID string `json:"meetingId" validate:"omitempty,max=128"`
}

// BroadcastAction carries raise-hand, speaker permission changes and leave-broadcast.
type BroadcastAction struct {
	CallID  string `json:"callId" validate:"required,ident"`
	UserID  string `json:"userId" validate:"required,ident"`
	GroupID string `json:"groupId" validate:"required,ident"`

	event string
}

type PrivateMessage struct {
	ReceiverID  string `json:"receiverId" validate:"required,ident"`
	SenderID    string `json:"senderId" validate:"omitempty,ident"`
	Content     string `json:"content" validate:"max=65536"`
	MessageType string `json:"messageType" validate:"omitempty,max=32"`
	FileURL     string `json:"fileUrl" validate:"omitempty,url"`
	FileName    string `json:"fileName"`
	FileSize    int64  `json:"fileSize" validate:"gte=0"`
}

type GroupMessage struct {
	GroupID     string `json:"groupId" validate:"required,ident"`
	SenderID    string `json:"senderId" validate:"omitempty,ident"`
	Content     string `json:"content" validate:"max=65536"`
	MessageType string `json:"messageType" validate:"omitempty,max=32"`
	FileURL     string `json:"fileUrl" validate:"omitempty,url"`
	FileName    string `json:"fileName"`
	FileSize    int64  `json:"fileSize" validate:"gte=0"`
}

// OnlineStatus may also arrive as a bare user id string.
type OnlineStatus struct {
	UserID string `json:"userId" validate:"omitempty,ident"`
	Status string `json:"status" validate:"omitempty,oneof=online away busy"`
}

// Typing carries typing-start and typing-stop.
type Typing struct {
	Room   string `json:"room" validate:"required,ident"`
	UserID string `json:"userId" validate:"omitempty,ident"`

	event string
}

func (*JoinRoom) Event() string          { return EventJoinRoom }
func (*CallUser) Event() string          { return EventCallUser }
func (p *CallAction) Event() string      { return p.event }
func (*ICECandidate) Event() string      { return EventICECandidate }
func (*InitiateBroadcast) Event() string { return EventInitiateBroadcast }
func (p *BroadcastAction) Event() string { return p.event }
func (*PrivateMessage) Event() string    { return EventPrivateMessage }
func (*GroupMessage) Event() string      { return EventGroupMessage }
func (p *Typing) Event() string          { return p.event }
func (*OnlineStatus) Event() string      { return EventSetOnlineStatus }

// barePayload is implemented by payloads that accept a bare JSON string.
type barePayload interface {
	setBare(v string)
}

func (p *JoinRoom) setBare(v string)     { p.Room = v }
func (p *OnlineStatus) setBare(v string) { p.UserID = v }

var payloads = map[string]func() Payload{
	EventJoinRoom:          func() Payload { return &JoinRoom{} },
	EventCallUser:          func() Payload { return &CallUser{} },
	EventAcceptCall:        func() Payload { return &CallAction{event: EventAcceptCall} },
	EventRejectCall:        func() Payload { return &CallAction{event: EventRejectCall} },
	EventTerminateCall:     func() Payload { return &CallAction{event: EventTerminateCall} },
	EventICECandidate:      func() Payload { return &ICECandidate{} },
	EventInitiateBroadcast: func() Payload { return &InitiateBroadcast{} },
	EventRaiseHand:         func() Payload { return &BroadcastAction{event: EventRaiseHand} },
	EventGrantSpeaker:      func() Payload { return &BroadcastAction{event: EventGrantSpeaker} },
	EventRevokeSpeaker:     func() Payload { return &BroadcastAction{event: EventRevokeSpeaker} },
	EventLeaveBroadcast:    func() Payload { return &BroadcastAction{event: EventLeaveBroadcast} },
	EventPrivateMessage:    func() Payload { return &PrivateMessage{} },
	EventGroupMessage:      func() Payload { return &GroupMessage{} },
	EventTypingStart:       func() Payload { return &Typing{event: EventTypingStart} },
	EventTypingStop:        func() Payload { return &Typing{event: EventTypingStop} },
	EventSetOnlineStatus:   func() Payload { return &OnlineStatus{} },
}

// Decode turns raw event data into its typed payload and validates it.
// join-room and set-online-status also accept a bare string.
func Decode(event string, data json.RawMessage) (Payload, error) {
	factory, ok := payloads[event]
	if !ok {
		return nil, types.NewError(types.CodeValidation, "Unknown event: %s", event)
	}
	p := factory()

	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, types.NewError(types.CodeValidation, "Missing payload for %s", event)
	}

	if bp, ok := p.(barePayload); ok && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, types.NewError(types.CodeValidation, "Invalid payload for %s", event)
		}
		bp.setBare(v)
	} else if err := json.Unmarshal(data, p); err != nil {
		return nil, types.NewError(types.CodeValidation, "Invalid payload for %s", event)
	}

	if err := validatePayload(p); err != nil {
		return nil, err
	}
	return p, nil
}
