package types

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Role is the platform-wide role of a user.
type Role string

const (
	RoleStudent Role = "student"
	RoleFaculty Role = "faculty"
	RoleAdmin   Role = "admin"
)

// Group member roles
const (
	MemberRoleAdmin  = "admin"
	MemberRoleMember = "member"
)

// CallType is the media kind negotiated for a call.
type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

// CallStatus is a state of the call lifecycle:
// initiated -> ringing -> ongoing -> {completed, missed, rejected}.
type CallStatus string

const (
	CallStatusInitiated CallStatus = "initiated"
	CallStatusRinging   CallStatus = "ringing"
	CallStatusOngoing   CallStatus = "ongoing"
	CallStatusCompleted CallStatus = "completed"
	CallStatusMissed    CallStatus = "missed"
	CallStatusRejected  CallStatus = "rejected"
)

// IsTerminal reports whether no transition may leave the status.
func (s CallStatus) IsTerminal() bool {
	switch s {
	case CallStatusCompleted, CallStatusMissed, CallStatusRejected:
		return true
	default:
		return false
	}
}

// rank orders the non-terminal states so backward moves can be detected.
func (s CallStatus) rank() int {
	switch s {
	case CallStatusInitiated:
		return 0
	case CallStatusRinging:
		return 1
	case CallStatusOngoing:
		return 2
	default:
		return 3
	}
}

// Precedes reports whether s comes strictly before other in the lifecycle.
func (s CallStatus) Precedes(other CallStatus) bool {
	return s.rank() < other.rank()
}

// User is the subset of the account record the communication core reads.
type User struct {
	ID                 string    `json:"id" db:"id"`
	Username           string    `json:"username" db:"username"`
	FirstName          string    `json:"firstName" db:"first_name"`
	LastName           string    `json:"lastName" db:"last_name"`
	Role               Role      `json:"role" db:"role"`
	Department         string    `json:"department" db:"department"`
	RegistrationNumber string    `json:"registrationNumber" db:"registration_number"`
	IsActive           bool      `json:"isActive" db:"is_active"`
	ProfilePicture     string    `json:"profilePicture" db:"profile_picture"`
	CreatedAt          time.Time `json:"createdAt" db:"created_at"`
}

// UserProfile is the public card attached to relayed events and enriched messages.
type UserProfile struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Username       string `json:"username,omitempty"`
	ProfilePicture string `json:"profilePicture,omitempty"`
}

// Profile builds the public card for the user.
func (u *User) Profile() *UserProfile {
	return &UserProfile{
		ID:             u.ID,
		Name:           strings.TrimSpace(u.FirstName + " " + u.LastName),
		Username:       u.Username,
		ProfilePicture: u.ProfilePicture,
	}
}

// UnknownProfile is used when a referenced user can no longer be resolved.
func UnknownProfile(userID string) *UserProfile {
	return &UserProfile{ID: userID, Name: "Unknown User"}
}

// Member is one entry of a group's ordered membership list.
type Member struct {
	UserID   string    `json:"user"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Members is stored as a JSON column.
type Members []Member

// Value implements driver.Valuer.
func (m Members) Value() (driver.Value, error) {
	if m == nil {
		m = Members{}
	}
	data, err := json.Marshal([]Member(m))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (m *Members) Scan(src interface{}) error {
	return scanJSON(src, m)
}

// StringList is stored as a JSON column.
type StringList []string

// Value implements driver.Valuer.
func (s StringList) Value() (driver.Value, error) {
	if s == nil {
		s = StringList{}
	}
	data, err := json.Marshal([]string(s))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (s *StringList) Scan(src interface{}) error {
	return scanJSON(src, s)
}

// Contains reports whether id is in the list.
func (s StringList) Contains(id string) bool {
	for _, v := range s {
		if v == id {
			return true
		}
	}
	return false
}

func scanJSON(src interface{}, dst interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case string:
		return json.Unmarshal([]byte(v), dst)
	case []byte:
		return json.Unmarshal(v, dst)
	default:
		return fmt.Errorf("unsupported JSON column type %T", src)
	}
}

// Group is a chat group. Members holds at most one entry per user id.
type Group struct {
	ID          string     `json:"id" db:"id"`
	Name        string     `json:"name" db:"name"`
	Description string     `json:"description" db:"description"`
	Creator     string     `json:"creator" db:"creator"`
	Members     Members    `json:"members" db:"members"`
	Admins      StringList `json:"admins" db:"admins"`
	IsPrivate   bool       `json:"isPrivate" db:"is_private"`
	Version     int64      `json:"-" db:"version"`
	CreatedAt   time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time  `json:"updatedAt" db:"updated_at"`
}

// HasMember reports whether userID appears in the membership list.
func (g *Group) HasMember(userID string) bool {
	for _, m := range g.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

// IsAdmin reports whether userID is listed as a group admin.
func (g *Group) IsAdmin(userID string) bool {
	return g.Admins.Contains(userID)
}

// MembersWithout returns a copy of the membership list with userID removed, preserving order.
func (g *Group) MembersWithout(userID string) Members {
	kept := make(Members, 0, len(g.Members))
	for _, m := range g.Members {
		if m.UserID != userID {
			kept = append(kept, m)
		}
	}
	return kept
}

// Call is a direct call or a group broadcast.
// Duration is set iff both StartTime and EndTime are set.
type Call struct {
	ID        string     `json:"id" db:"id"`
	CallerID  string     `json:"caller" db:"caller"`
	CalleeID  *string    `json:"callee" db:"callee"`
	GroupID   *string    `json:"groupId" db:"group_id"`
	CallType  CallType   `json:"callType" db:"call_type"`
	Status    CallStatus `json:"status" db:"status"`
	MeetingID string     `json:"meetingId,omitempty" db:"meeting_id"`
	StartTime *time.Time `json:"startTime" db:"start_time"`
	EndTime   *time.Time `json:"endTime" db:"end_time"`
	Duration  *int64     `json:"duration" db:"duration"`
	Version   int64      `json:"-" db:"version"`
	CreatedAt time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time  `json:"updatedAt" db:"updated_at"`
}

// IsBroadcast reports whether the call targets a group rather than a single callee.
func (c *Call) IsBroadcast() bool {
	return c.GroupID != nil && c.CalleeID == nil
}

// IsParticipant reports whether userID is the caller or callee of the call.
func (c *Call) IsParticipant(userID string) bool {
	if c.CallerID == userID {
		return true
	}
	return c.CalleeID != nil && *c.CalleeID == userID
}

// Message is a direct or group chat message. Exactly one of ReceiverID and GroupID is set.
type Message struct {
	ID          string    `json:"id" db:"id"`
	SenderID    string    `json:"sender" db:"sender"`
	ReceiverID  *string   `json:"receiver" db:"receiver"`
	GroupID     *string   `json:"groupId" db:"group_id"`
	Content     string    `json:"content" db:"content"`
	MessageType string    `json:"messageType" db:"message_type"`
	FileURL     string    `json:"fileUrl,omitempty" db:"file_url"`
	FileName    string    `json:"fileName,omitempty" db:"file_name"`
	FileSize    int64     `json:"fileSize,omitempty" db:"file_size"`
	IsRead      bool      `json:"isRead" db:"is_read"`
	IsDeleted   bool      `json:"isDeleted" db:"is_deleted"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
}

// EnrichedMessage is a message with its user references resolved to profiles.
type EnrichedMessage struct {
	Message
	Sender   *UserProfile `json:"sender"`
	Receiver *UserProfile `json:"receiver"`
}

// CleanupResult reports the outcome of an expired-member sweep.
type CleanupResult struct {
	GroupFound   bool `json:"groupFound"`
	RemovedCount int  `json:"removedCount"`
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
