package types

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestCallStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status CallStatus
		want   bool
	}{
		{CallStatusInitiated, false},
		{CallStatusRinging, false},
		{CallStatusOngoing, false},
		{CallStatusCompleted, true},
		{CallStatusMissed, true},
		{CallStatusRejected, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.want {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCallStatus_Precedes(t *testing.T) {
	if !CallStatusInitiated.Precedes(CallStatusRinging) {
		t.Error("initiated should precede ringing")
	}
	if !CallStatusRinging.Precedes(CallStatusOngoing) {
		t.Error("ringing should precede ongoing")
	}
	if CallStatusOngoing.Precedes(CallStatusRinging) {
		t.Error("ongoing should not precede ringing")
	}
	if CallStatusOngoing.Precedes(CallStatusOngoing) {
		t.Error("a status should not precede itself")
	}
}

func TestParseCallStatus(t *testing.T) {
	tests := []struct {
		raw     string
		want    CallStatus
		wantErr error
	}{
		{"ringing", CallStatusRinging, nil},
		{"ongoing", CallStatusOngoing, nil},
		{" Completed ", CallStatusCompleted, nil},
		{"missed", CallStatusMissed, nil},
		{"rejected", CallStatusRejected, nil},
		{"initiated", "", ErrInvalidCallStatus},
		{"paused", "", ErrInvalidCallStatus},
		{"", "", ErrInvalidCallStatus},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseCallStatus(tt.raw)
			if err != tt.wantErr {
				t.Fatalf("ParseCallStatus(%q) error = %v, want %v", tt.raw, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseCallStatus(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseCallType(t *testing.T) {
	if got, err := ParseCallType(""); err != nil || got != CallTypeAudio {
		t.Errorf("empty call type should default to audio, got %q, %v", got, err)
	}
	if got, err := ParseCallType("VIDEO"); err != nil || got != CallTypeVideo {
		t.Errorf("expected video, got %q, %v", got, err)
	}
	if _, err := ParseCallType("hologram"); err != ErrInvalidCallType {
		t.Errorf("expected ErrInvalidCallType, got %v", err)
	}
}

func TestIsValidUserID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"user_123", true},
		{"3f2b9c1e-8d1a-4a4e-9a7e-0c5c2f4b1d22", true},
		{"", false},
		{strings.Repeat("a", 65), false},
		{"bad id", false},
		{"semi;colon", false},
	}

	for _, tt := range tests {
		if got := IsValidUserID(tt.id); got != tt.want {
			t.Errorf("IsValidUserID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestGroup_MembershipHelpers(t *testing.T) {
	now := time.Now()
	g := &Group{
		Members: Members{
			{UserID: "a", Role: MemberRoleAdmin, JoinedAt: now},
			{UserID: "b", Role: MemberRoleMember, JoinedAt: now},
			{UserID: "c", Role: MemberRoleMember, JoinedAt: now},
		},
		Admins: StringList{"a"},
	}

	if !g.HasMember("b") || g.HasMember("z") {
		t.Error("HasMember returned wrong result")
	}
	if !g.IsAdmin("a") || g.IsAdmin("b") {
		t.Error("IsAdmin returned wrong result")
	}

	kept := g.MembersWithout("b")
	if len(kept) != 2 || kept[0].UserID != "a" || kept[1].UserID != "c" {
		t.Errorf("MembersWithout should preserve order, got %+v", kept)
	}
	if len(g.Members) != 3 {
		t.Error("MembersWithout must not mutate the group")
	}
}

func TestMembers_ValueScan(t *testing.T) {
	joined := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)
	in := Members{{UserID: "u1", Role: MemberRoleMember, JoinedAt: joined}}

	v, err := in.Value()
	if err != nil {
		t.Fatalf("Value() failed: %v", err)
	}

	var out Members
	if err := out.Scan(v); err != nil {
		t.Fatalf("Scan() failed: %v", err)
	}
	if len(out) != 1 || out[0].UserID != "u1" || !out[0].JoinedAt.Equal(joined) {
		t.Errorf("unexpected scanned members: %+v", out)
	}

	var nilMembers Members
	v, err = nilMembers.Value()
	if err != nil || v != "[]" {
		t.Errorf("nil members should store as [], got %v, %v", v, err)
	}
}

func TestCall_Helpers(t *testing.T) {
	callee := "callee"
	group := "group"

	direct := &Call{CallerID: "caller", CalleeID: &callee}
	if direct.IsBroadcast() {
		t.Error("direct call reported as broadcast")
	}
	if !direct.IsParticipant("caller") || !direct.IsParticipant("callee") || direct.IsParticipant("other") {
		t.Error("IsParticipant returned wrong result")
	}

	broadcast := &Call{CallerID: "caller", GroupID: &group}
	if !broadcast.IsBroadcast() {
		t.Error("group call should be a broadcast")
	}
	if broadcast.IsParticipant("other") {
		t.Error("broadcast has no callee participant")
	}
}

func TestMessage_Validate(t *testing.T) {
	receiver := "r"
	group := "g"

	tests := []struct {
		name    string
		msg     Message
		wantErr error
	}{
		{"direct", Message{ReceiverID: &receiver, Content: "hi"}, nil},
		{"group", Message{GroupID: &group, Content: "hi"}, nil},
		{"file only", Message{GroupID: &group, FileURL: "https://x/y.pdf"}, nil},
		{"both targets", Message{ReceiverID: &receiver, GroupID: &group, Content: "hi"}, ErrAmbiguousRecipient},
		{"no target", Message{Content: "hi"}, ErrAmbiguousRecipient},
		{"empty", Message{ReceiverID: &receiver, Content: "  "}, ErrEmptyContent},
		{"too large", Message{ReceiverID: &receiver, Content: strings.Repeat("a", MaxContentBytes+1)}, ErrContentTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.msg
			if err := msg.Validate(); err != tt.wantErr {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestError_Codes(t *testing.T) {
	err := fmt.Errorf("handler: %w", Forbidden("only %s may do that", "faculty"))
	if CodeOf(err) != CodeForbidden {
		t.Errorf("CodeOf = %s, want %s", CodeOf(err), CodeForbidden)
	}
	if MessageOf(err) != "only faculty may do that" {
		t.Errorf("MessageOf = %q", MessageOf(err))
	}

	plain := errors.New("disk I/O error")
	if CodeOf(plain) != CodeInternal {
		t.Errorf("uncoded errors should map to %s", CodeInternal)
	}
	if MessageOf(plain) != "disk I/O error" {
		t.Errorf("uncoded errors should keep their text")
	}

	wrapped := WrapError(CodeNotFound, "call not found", plain)
	if !errors.Is(wrapped, plain) {
		t.Error("WrapError should unwrap to the cause")
	}
	if !IsCode(ValidationError(ErrInvalidCallStatus), CodeValidation) {
		t.Error("ValidationError should carry the validation code")
	}
}

func TestUser_Profile(t *testing.T) {
	u := &User{ID: "u1", FirstName: "Asha", LastName: "Nair", Username: "asha"}
	p := u.Profile()
	if p.Name != "Asha Nair" || p.ID != "u1" || p.Username != "asha" {
		t.Errorf("unexpected profile %+v", p)
	}
	if UnknownProfile("x").Name != "Unknown User" {
		t.Error("unknown profile name mismatch")
	}
}
