package signaling

import (
	"github.com/goccy/go-json"

	"cececho/pkg/types"
)

// Outbound payloads. Field names are the client contract.

type CallInitiated struct {
	CallID     string             `json:"callId"`
	To         string             `json:"to"`
	CallType   types.CallType     `json:"callType"`
	MeetingID  string             `json:"meetingId"`
	CalleeInfo *types.UserProfile `json:"calleeInfo"`
}

type IncomingCall struct {
	From       string             `json:"from"`
	CallID     string             `json:"callId"`
	CallType   types.CallType     `json:"callType"`
	Offer      json.RawMessage    `json:"offer,omitempty"`
	MeetingID  string             `json:"meetingId"`
	CallerInfo *types.UserProfile `json:"callerInfo"`
}

type CallAccepted struct {
	CallID string          `json:"callId"`
	Answer json.RawMessage `json:"answer,omitempty"`
}

// CallRef carries call-rejected, call-terminated and speaker permission notices.
type CallRef struct {
	CallID string `json:"callId"`
}

type ICERelay struct {
	Candidate json.RawMessage `json:"candidate"`
	From      string          `json:"from"`
}

type BroadcastInitiated struct {
	From       string             `json:"from"`
	CallID     string             `json:"callId"`
	CallType   types.CallType     `json:"callType"`
	MeetingID  string             `json:"meetingId"`
	CallerInfo *types.UserProfile `json:"callerInfo"`
}

type BroadcastStarted struct {
	CallID    string         `json:"callId"`
	GroupID   string         `json:"groupId"`
	CallType  types.CallType `json:"callType"`
	MeetingID string         `json:"meetingId"`
}

// UserRef carries participant notices. UserName is set where a display name is useful.
type UserRef struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName,omitempty"`
}

// Presence values carried by user-status-changed.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

type UserStatus struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}
