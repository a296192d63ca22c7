package chat

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cececho/internal/authz"
	"cececho/internal/database/memstore"
	"cececho/pkg/types"
)

func setup(t *testing.T) (*Service, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	ctx := context.Background()
	for _, u := range []*types.User{
		{ID: "fac1", FirstName: "Ada", LastName: "Lovelace", Role: types.RoleFaculty, IsActive: true},
		{ID: "stu1", FirstName: "Alan", LastName: "Turing", Role: types.RoleStudent, IsActive: true},
		{ID: "stu2", FirstName: "Grace", LastName: "Hopper", Role: types.RoleStudent, IsActive: true},
	} {
		require.NoError(t, store.CreateUser(ctx, u))
	}
	require.NoError(t, store.CreateGroup(ctx, &types.Group{
		ID:      "g1",
		Name:    "Robotics",
		Creator: "fac1",
		Members: types.Members{{UserID: "fac1", Role: types.MemberRoleAdmin}, {UserID: "stu1", Role: types.MemberRoleMember}},
		Admins:  types.StringList{"fac1"},
	}))

	svc := NewService(store, 0)
	base := time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)
	tick := 0
	svc.SetClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	})
	return svc, store
}

func TestSend_Direct(t *testing.T) {
	svc, _ := setup(t)

	msg, err := svc.Send(context.Background(), Outgoing{SenderID: "fac1", ReceiverID: "stu1", Content: "office hours at 3"})
	require.NoError(t, err)

	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "text", msg.MessageType)
	assert.Nil(t, msg.GroupID)
	assert.Equal(t, "Ada Lovelace", msg.Sender.Name)
	require.NotNil(t, msg.Receiver)
	assert.Equal(t, "Alan Turing", msg.Receiver.Name)
}

func TestSend_Group(t *testing.T) {
	svc, _ := setup(t)

	msg, err := svc.Send(context.Background(), Outgoing{SenderID: "stu1", GroupID: "g1", Content: "hello", MessageType: "text"})
	require.NoError(t, err)
	require.NotNil(t, msg.GroupID)
	assert.Equal(t, "g1", *msg.GroupID)
	assert.Nil(t, msg.Receiver)
}

func TestSend_Errors(t *testing.T) {
	svc, _ := setup(t)

	tests := []struct {
		name string
		out  Outgoing
		code types.ErrorCode
		msg  string
	}{
		{"no recipient", Outgoing{SenderID: "fac1", Content: "x"}, types.CodeValidation, "Either receiver or groupId is required"},
		{"both recipients", Outgoing{SenderID: "fac1", ReceiverID: "stu1", GroupID: "g1", Content: "x"}, types.CodeValidation, "Cannot send message to both user and group at the same time"},
		{"unknown receiver", Outgoing{SenderID: "fac1", ReceiverID: "ghost", Content: "x"}, types.CodeNotFound, "Receiver not found"},
		{"bad receiver id", Outgoing{SenderID: "fac1", ReceiverID: "a b", Content: "x"}, types.CodeValidation, types.ErrInvalidUserID.Error()},
		{"not a member", Outgoing{SenderID: "stu2", GroupID: "g1", Content: "x"}, types.CodeForbidden, "You are not a member of this group"},
		{"unknown group", Outgoing{SenderID: "stu1", GroupID: "nope", Content: "x"}, types.CodeForbidden, "You are not a member of this group"},
		{"empty content", Outgoing{SenderID: "fac1", ReceiverID: "stu1", Content: "   "}, types.CodeValidation, types.ErrEmptyContent.Error()},
		{"oversized", Outgoing{SenderID: "fac1", ReceiverID: "stu1", Content: strings.Repeat("a", types.MaxContentBytes+1)}, types.CodeValidation, types.ErrContentTooLarge.Error()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Send(context.Background(), tt.out)
			require.Error(t, err)
			assert.Equal(t, tt.code, types.CodeOf(err))
			assert.Equal(t, tt.msg, types.MessageOf(err))
		})
	}
}

func TestSend_NonMemberWrapsAuthzSentinel(t *testing.T) {
	svc, _ := setup(t)
	_, err := svc.Send(context.Background(), Outgoing{SenderID: "stu2", GroupID: "g1", Content: "x"})
	assert.ErrorIs(t, err, authz.ErrNotGroupMember)
}

func TestSend_FileOnlyMessage(t *testing.T) {
	svc, _ := setup(t)
	msg, err := svc.Send(context.Background(), Outgoing{
		SenderID: "fac1", ReceiverID: "stu1", MessageType: "file",
		FileURL: "https://files.example/notes.pdf", FileName: "notes.pdf", FileSize: 1024,
	})
	require.NoError(t, err)
	assert.Equal(t, "file", msg.MessageType)
	assert.Equal(t, int64(1024), msg.FileSize)
}

func TestGroupHistory(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three"} {
		_, err := svc.Send(ctx, Outgoing{SenderID: "stu1", GroupID: "g1", Content: text})
		require.NoError(t, err)
	}

	history, err := svc.GroupHistory(ctx, "fac1", "g1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "one", history[0].Content)
	assert.Equal(t, "three", history[2].Content)
	assert.Equal(t, "Alan Turing", history[0].Sender.Name)

	_, err = svc.GroupHistory(ctx, "stu2", "g1")
	assert.Equal(t, types.CodeNotFound, types.CodeOf(err))
	assert.Equal(t, "Group not found or you are not a member", types.MessageOf(err))

	_, err = svc.GroupHistory(ctx, "stu1", "missing")
	assert.Equal(t, types.CodeNotFound, types.CodeOf(err))
}

func TestGroupHistory_Limit(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	require.NoError(t, store.CreateUser(ctx, &types.User{ID: "stu1", Role: types.RoleStudent, IsActive: true}))
	require.NoError(t, store.CreateGroup(ctx, &types.Group{ID: "g1", Name: "G", Members: types.Members{{UserID: "stu1"}}}))

	svc := NewService(store, 2)
	base := time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)
	for i, text := range []string{"a", "b", "c"} {
		svc.SetClock(func() time.Time { return base.Add(time.Duration(i) * time.Minute) })
		_, err := svc.Send(ctx, Outgoing{SenderID: "stu1", GroupID: "g1", Content: text})
		require.NoError(t, err)
	}

	history, err := svc.GroupHistory(ctx, "stu1", "g1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "b", history[0].Content)
	assert.Equal(t, "c", history[1].Content)
}

func TestDirectHistory_MarksRead(t *testing.T) {
	svc, store := setup(t)
	ctx := context.Background()

	_, err := svc.Send(ctx, Outgoing{SenderID: "fac1", ReceiverID: "stu1", Content: "ping"})
	require.NoError(t, err)
	_, err = svc.Send(ctx, Outgoing{SenderID: "stu1", ReceiverID: "fac1", Content: "pong"})
	require.NoError(t, err)
	_, err = svc.Send(ctx, Outgoing{SenderID: "fac1", ReceiverID: "stu2", Content: "elsewhere"})
	require.NoError(t, err)

	history, err := svc.DirectHistory(ctx, "stu1", "fac1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "ping", history[0].Content)
	assert.Equal(t, "pong", history[1].Content)

	// Only what fac1 sent to stu1 was unread for stu1
	remaining, err := store.MarkDirectMessagesRead(ctx, "stu1", "fac1")
	require.NoError(t, err)
	assert.Zero(t, remaining)
	stillUnread, err := store.MarkDirectMessagesRead(ctx, "fac1", "stu1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stillUnread)

	_, err = svc.DirectHistory(ctx, "stu1", "bad id")
	assert.Equal(t, types.CodeValidation, types.CodeOf(err))
}

func TestEnrich_UnknownUsers(t *testing.T) {
	svc, _ := setup(t)

	out, err := svc.Enrich(context.Background(), []*types.Message{
		{ID: "m1", SenderID: "deleted", ReceiverID: types.StringPtr("stu1"), Content: "x"},
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Unknown User", out[0].Sender.Name)
	assert.Equal(t, "Alan Turing", out[0].Receiver.Name)
}

func TestEnrich_Empty(t *testing.T) {
	svc, _ := setup(t)
	out, err := svc.Enrich(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}
