package calls

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cececho/internal/authz"
	"cececho/internal/database/memstore"
	"cececho/pkg/types"
)

var base = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *memstore.Store) {
	t.Helper()
	enforcer, err := authz.NewEnforcer()
	require.NoError(t, err)

	store := memstore.New()
	ctx := context.Background()
	for _, u := range []types.User{
		{ID: "fac1", FirstName: "Ada", LastName: "Lovelace", Username: "ada", Role: types.RoleFaculty},
		{ID: "adm1", FirstName: "Grace", LastName: "Hopper", Username: "grace", Role: types.RoleAdmin},
		{ID: "stu1", FirstName: "Alan", LastName: "Turing", Username: "alan", Role: types.RoleStudent, RegistrationNumber: "CEC22CS001"},
		{ID: "stu2", FirstName: "Edsger", LastName: "Dijkstra", Username: "edsger", Role: types.RoleStudent, RegistrationNumber: "CEC22CS002"},
	} {
		u := u
		require.NoError(t, store.CreateUser(ctx, &u))
	}
	require.NoError(t, store.CreateGroup(ctx, &types.Group{
		ID:      "grp1",
		Name:    "Compilers",
		Creator: "fac1",
		Members: types.Members{{UserID: "fac1", Role: types.MemberRoleAdmin}, {UserID: "stu1", Role: types.MemberRoleMember}},
		Admins:  types.StringList{"fac1"},
	}))

	svc := NewService(store, enforcer)
	svc.SetClock(func() time.Time { return base })
	return svc, store
}

func TestTransition_Table(t *testing.T) {
	start := base.Add(-time.Minute)
	tests := []struct {
		name    string
		from    types.CallStatus
		started bool
		to      types.CallStatus
		changed bool
		code    types.ErrorCode
	}{
		{"initiated to ringing", types.CallStatusInitiated, false, types.CallStatusRinging, true, ""},
		{"ringing to ongoing", types.CallStatusRinging, false, types.CallStatusOngoing, true, ""},
		{"initiated to ongoing", types.CallStatusInitiated, false, types.CallStatusOngoing, true, ""},
		{"ringing to missed", types.CallStatusRinging, false, types.CallStatusMissed, true, ""},
		{"ringing to rejected", types.CallStatusRinging, false, types.CallStatusRejected, true, ""},
		{"ongoing to completed", types.CallStatusOngoing, true, types.CallStatusCompleted, true, ""},
		{"ongoing repeat", types.CallStatusOngoing, true, types.CallStatusOngoing, false, ""},
		{"completed repeat", types.CallStatusCompleted, true, types.CallStatusCompleted, false, ""},
		{"completed to rejected", types.CallStatusCompleted, true, types.CallStatusRejected, false, types.CodeConflict},
		{"rejected to ongoing", types.CallStatusRejected, false, types.CallStatusOngoing, false, types.CodeConflict},
		{"ongoing to ringing", types.CallStatusOngoing, true, types.CallStatusRinging, false, types.CodeConflict},
		{"initiated not requestable", types.CallStatusRinging, false, types.CallStatusInitiated, false, types.CodeValidation},
		{"unknown status", types.CallStatusRinging, false, types.CallStatus("paused"), false, types.CodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call := &types.Call{ID: "c1", Status: tt.from}
			if tt.started {
				s := start
				call.StartTime = &s
			}
			before := *call

			changed, err := Transition(call, tt.to, base)
			assert.Equal(t, tt.changed, changed)
			if tt.code != "" {
				require.Error(t, err)
				assert.Equal(t, tt.code, types.CodeOf(err))
				assert.Equal(t, before, *call, "failed transition must not mutate")
				return
			}
			require.NoError(t, err)
			if changed {
				assert.Equal(t, tt.to, call.Status)
			} else {
				assert.Equal(t, before, *call)
			}
		})
	}
}

func TestTransition_OngoingStampsStartOnce(t *testing.T) {
	call := &types.Call{Status: types.CallStatusRinging}

	changed, err := Transition(call, types.CallStatusOngoing, base)
	require.NoError(t, err)
	require.True(t, changed)
	require.NotNil(t, call.StartTime)
	assert.Equal(t, base, *call.StartTime)

	changed, err = Transition(call, types.CallStatusOngoing, base.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, base, *call.StartTime)
	assert.Nil(t, call.EndTime)
}

func TestTransition_DurationFloorsToSeconds(t *testing.T) {
	call := &types.Call{Status: types.CallStatusRinging}
	_, err := Transition(call, types.CallStatusOngoing, base)
	require.NoError(t, err)

	_, err = Transition(call, types.CallStatusCompleted, base.Add(95*time.Second+900*time.Millisecond))
	require.NoError(t, err)
	require.NotNil(t, call.EndTime)
	require.NotNil(t, call.Duration)
	assert.Equal(t, int64(95), *call.Duration)
}

func TestTransition_TerminalWithoutStartHasNoDuration(t *testing.T) {
	call := &types.Call{Status: types.CallStatusRinging}
	changed, err := Transition(call, types.CallStatusMissed, base)
	require.NoError(t, err)
	assert.True(t, changed)
	require.NotNil(t, call.EndTime)
	assert.Nil(t, call.Duration)
}

func TestStartDirect(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	call, callee, err := svc.StartDirect(ctx, DirectCall{
		CallerID:   "fac1",
		CallerRole: types.RoleFaculty,
		CalleeID:   "stu1",
		CallType:   "video",
	})
	require.NoError(t, err)
	assert.Equal(t, "stu1", callee.ID)
	assert.Equal(t, types.CallStatusInitiated, call.Status)
	assert.Equal(t, types.CallTypeVideo, call.CallType)
	assert.NotEmpty(t, call.MeetingID, "meeting id is generated when absent")
	assert.Nil(t, call.StartTime)

	stored, err := store.GetCall(ctx, call.ID)
	require.NoError(t, err)
	assert.Equal(t, "fac1", stored.CallerID)
	require.NotNil(t, stored.CalleeID)
	assert.Equal(t, "stu1", *stored.CalleeID)
	assert.Nil(t, stored.GroupID)
}

func TestStartDirect_KeepsMeetingIDAndDefaultsAudio(t *testing.T) {
	svc, _ := newTestService(t)
	call, _, err := svc.StartDirect(context.Background(), DirectCall{
		CallerID:   "adm1",
		CallerRole: types.RoleAdmin,
		CalleeID:   "fac1",
		MeetingID:  "meet-42",
	})
	require.NoError(t, err)
	assert.Equal(t, "meet-42", call.MeetingID)
	assert.Equal(t, types.CallTypeAudio, call.CallType)
}

func TestStartDirect_StudentDenied(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, _, err := svc.StartDirect(ctx, DirectCall{
		CallerID:   "stu1",
		CallerRole: types.RoleStudent,
		CalleeID:   "fac1",
	})
	require.Error(t, err)
	assert.Equal(t, types.CodeForbidden, types.CodeOf(err))
	assert.True(t, errors.Is(err, authz.ErrRoleDenied))
	assert.Equal(t, "Only faculty and admin can initiate calls", types.MessageOf(err))
}

func TestStartDirect_Errors(t *testing.T) {
	svc, _ := newTestService(t)
	tests := []struct {
		name string
		req  DirectCall
		code types.ErrorCode
	}{
		{"unknown callee", DirectCall{CallerID: "fac1", CallerRole: types.RoleFaculty, CalleeID: "ghost"}, types.CodeNotFound},
		{"invalid callee id", DirectCall{CallerID: "fac1", CallerRole: types.RoleFaculty, CalleeID: "bad id"}, types.CodeValidation},
		{"bad call type", DirectCall{CallerID: "fac1", CallerRole: types.RoleFaculty, CalleeID: "stu1", CallType: "hologram"}, types.CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.StartDirect(context.Background(), tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.code, types.CodeOf(err))
		})
	}
}

func TestStartBroadcast(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	call, group, err := svc.StartBroadcast(ctx, Broadcast{CallerID: "stu1", GroupID: "grp1"})
	require.NoError(t, err)
	assert.Equal(t, "grp1", group.ID)
	assert.Equal(t, types.CallStatusOngoing, call.Status)
	require.NotNil(t, call.StartTime)
	assert.Equal(t, base, *call.StartTime)
	assert.Nil(t, call.CalleeID)
	assert.True(t, call.IsBroadcast())
}

func TestStartBroadcast_NonMemberDenied(t *testing.T) {
	svc, _ := newTestService(t)
	_, _, err := svc.StartBroadcast(context.Background(), Broadcast{CallerID: "stu2", GroupID: "grp1"})
	require.Error(t, err)
	assert.Equal(t, types.CodeForbidden, types.CodeOf(err))
	assert.True(t, errors.Is(err, authz.ErrNotGroupMember))

	_, _, err = svc.StartBroadcast(context.Background(), Broadcast{CallerID: "stu1", GroupID: "nogroup"})
	assert.Equal(t, types.CodeNotFound, types.CodeOf(err))
}

func TestUpdateStatus_Lifecycle(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	call, _, err := svc.StartDirect(ctx, DirectCall{CallerID: "fac1", CallerRole: types.RoleFaculty, CalleeID: "stu1"})
	require.NoError(t, err)

	_, changed, err := svc.UpdateStatus(ctx, "stu1", call.ID, types.CallStatusRinging)
	require.NoError(t, err)
	assert.True(t, changed)

	_, _, err = svc.UpdateStatus(ctx, "stu1", call.ID, types.CallStatusOngoing)
	require.NoError(t, err)

	svc.SetClock(func() time.Time { return base.Add(95 * time.Second) })
	updated, changed, err := svc.UpdateStatus(ctx, "fac1", call.ID, types.CallStatusCompleted)
	require.NoError(t, err)
	assert.True(t, changed)
	require.NotNil(t, updated.Duration)
	assert.Equal(t, int64(95), *updated.Duration)

	stored, err := store.GetCall(ctx, call.ID)
	require.NoError(t, err)
	assert.Equal(t, types.CallStatusCompleted, stored.Status)
	assert.Equal(t, int64(95), *stored.Duration)
}

func TestUpdateStatus_Guards(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	call, _, err := svc.StartDirect(ctx, DirectCall{CallerID: "fac1", CallerRole: types.RoleFaculty, CalleeID: "stu1"})
	require.NoError(t, err)

	_, _, err = svc.UpdateStatus(ctx, "stu2", call.ID, types.CallStatusOngoing)
	require.Error(t, err)
	assert.Equal(t, types.CodeForbidden, types.CodeOf(err))
	assert.True(t, errors.Is(err, authz.ErrNotParticipant))

	_, _, err = svc.UpdateStatus(ctx, "stu1", "missing", types.CallStatusOngoing)
	assert.Equal(t, types.CodeNotFound, types.CodeOf(err))

	_, _, err = svc.UpdateStatus(ctx, "stu1", call.ID, types.CallStatus("paused"))
	assert.Equal(t, types.CodeValidation, types.CodeOf(err))

	stored, err := svc.Get(ctx, call.ID)
	require.NoError(t, err)
	assert.Equal(t, types.CallStatusInitiated, stored.Status, "rejected requests leave the call untouched")
}

func TestUpdateStatus_BroadcastSkipsParticipantGuard(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	call, _, err := svc.StartBroadcast(ctx, Broadcast{CallerID: "fac1", GroupID: "grp1"})
	require.NoError(t, err)

	updated, changed, err := svc.UpdateStatus(ctx, "stu1", call.ID, types.CallStatusCompleted)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, int64(0), *updated.Duration)
}

func TestUpdateStatus_FirstTerminalWriteSticks(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	call, _, err := svc.StartDirect(ctx, DirectCall{CallerID: "fac1", CallerRole: types.RoleFaculty, CalleeID: "stu1"})
	require.NoError(t, err)

	_, _, err = svc.UpdateStatus(ctx, "stu1", call.ID, types.CallStatusRejected)
	require.NoError(t, err)

	_, _, err = svc.UpdateStatus(ctx, "fac1", call.ID, types.CallStatusOngoing)
	require.Error(t, err)
	assert.Equal(t, types.CodeConflict, types.CodeOf(err))
	assert.True(t, errors.Is(err, ErrCallEnded))

	again, changed, err := svc.UpdateStatus(ctx, "fac1", call.ID, types.CallStatusRejected)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, types.CallStatusRejected, again.Status)
}

func TestUpdateStatus_ConcurrentTerminate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	call, _, err := svc.StartDirect(ctx, DirectCall{CallerID: "fac1", CallerRole: types.RoleFaculty, CalleeID: "stu1"})
	require.NoError(t, err)
	_, _, err = svc.UpdateStatus(ctx, "stu1", call.ID, types.CallStatusOngoing)
	require.NoError(t, err)

	// Every clock read is a distinct instant so competing writes would disagree
	var tick int64
	svc.SetClock(func() time.Time {
		return base.Add(time.Duration(atomic.AddInt64(&tick, 1)) * time.Second)
	})

	type result struct {
		call    *types.Call
		changed bool
		err     error
	}
	results := make([]result, 2)
	var wg sync.WaitGroup
	for i, actor := range []string{"fac1", "stu1"} {
		wg.Add(1)
		go func(i int, actor string) {
			defer wg.Done()
			c, changed, err := svc.UpdateStatus(ctx, actor, call.ID, types.CallStatusCompleted)
			results[i] = result{c, changed, err}
		}(i, actor)
	}
	wg.Wait()

	writes := 0
	for _, r := range results {
		require.NoError(t, r.err)
		if r.changed {
			writes++
		}
	}
	assert.Equal(t, 1, writes, "exactly one terminate is written")

	final, err := svc.Get(ctx, call.ID)
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, *final.EndTime, *r.call.EndTime)
		assert.Equal(t, *final.Duration, *r.call.Duration)
	}
}

func TestUpdateStatus_GivesUpAfterRepeatedConflicts(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	call, _, err := svc.StartDirect(ctx, DirectCall{CallerID: "fac1", CallerRole: types.RoleFaculty, CalleeID: "stu1"})
	require.NoError(t, err)

	attempts := 0
	var interfere func(id string)
	interfere = func(id string) {
		attempts++
		c, err := store.GetCall(ctx, id)
		require.NoError(t, err)
		store.BeforeCallUpdate = nil
		require.NoError(t, store.UpdateCall(ctx, c, c.Version))
		store.BeforeCallUpdate = interfere
	}
	store.BeforeCallUpdate = interfere

	_, _, err = svc.UpdateStatus(ctx, "stu1", call.ID, types.CallStatusRinging)
	require.Error(t, err)
	assert.Equal(t, types.CodeConflict, types.CodeOf(err))
	assert.True(t, errors.Is(err, ErrTooManyConflicts))
	assert.Equal(t, maxUpdateAttempts, attempts)
}

func TestParticipant(t *testing.T) {
	svc, _ := newTestService(t)

	p := svc.Participant(context.Background(), "fac1")
	assert.Equal(t, "Ada Lovelace", p.Name)
	assert.Equal(t, "ada", p.Username)

	p = svc.Participant(context.Background(), "ghost")
	assert.Equal(t, "ghost", p.ID)
	assert.Equal(t, "Unknown User", p.Name)
}
