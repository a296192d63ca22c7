package types

import (
	"regexp"
	"strings"
)

var userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// MaxContentBytes bounds chat message bodies.
const MaxContentBytes = 65536

// IsValidUserID checks the identifier format shared by users, groups and calls.
func IsValidUserID(id string) bool {
	if len(id) < 1 || len(id) > 64 {
		return false
	}
	return userIDRegex.MatchString(id)
}

// ParseCallStatus accepts only the statuses a client may request.
// "initiated" is assigned at creation and is never requestable.
func ParseCallStatus(raw string) (CallStatus, error) {
	switch s := CallStatus(strings.ToLower(strings.TrimSpace(raw))); s {
	case CallStatusRinging, CallStatusOngoing, CallStatusCompleted, CallStatusMissed, CallStatusRejected:
		return s, nil
	default:
		return "", ErrInvalidCallStatus
	}
}

// ParseCallType defaults an empty value to audio.
func ParseCallType(raw string) (CallType, error) {
	switch t := CallType(strings.ToLower(strings.TrimSpace(raw))); t {
	case "":
		return CallTypeAudio, nil
	case CallTypeAudio, CallTypeVideo:
		return t, nil
	default:
		return "", ErrInvalidCallType
	}
}

// Validate checks recipient exclusivity and content bounds.
func (m *Message) Validate() error {
	if (m.ReceiverID == nil) == (m.GroupID == nil) {
		return ErrAmbiguousRecipient
	}
	if m.MessageType == "" {
		m.MessageType = "text"
	}
	if strings.TrimSpace(m.Content) == "" && m.FileURL == "" {
		return ErrEmptyContent
	}
	if len(m.Content) > MaxContentBytes {
		return ErrContentTooLarge
	}
	return nil
}
