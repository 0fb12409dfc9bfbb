package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityVariants(t *testing.T) {
	var id Identity = Authenticated{ID: "u1", Name: "Alice"}
	assert.Equal(t, IdentityAuthenticated, id.Kind())
	assert.Equal(t, "u1", id.ParticipantID())
	assert.Equal(t, "Alice", id.DisplayName())

	id = Guest{VideoID: "v1", IsEditor: true}
	assert.Equal(t, IdentityGuest, id.Kind())
	assert.Equal(t, GuestHostID, id.ParticipantID())
	assert.Equal(t, GuestDisplayName, id.DisplayName())
}

func TestRoleOrdering(t *testing.T) {
	assert.False(t, RoleNone.CanView())
	assert.True(t, RoleViewer.CanView())
	assert.False(t, RoleViewer.CanEdit())
	assert.True(t, RoleEditor.CanEdit())
	assert.True(t, RoleOwner.CanEdit())
	assert.Equal(t, RoleNone, ParseRole("admin"))
	assert.Equal(t, RoleEditor, ParseRole("editor"))
}

func TestValidateIdleInvariant(t *testing.T) {
	s := DefaultRoomState()
	assert.NoError(t, s.Validate())

	s.HostID = "u1"
	assert.ErrorIs(t, s.Validate(), ErrInvalidState)

	s = DefaultRoomState()
	s.PendingHostRequest = &HostRequest{UserID: "u2"}
	assert.ErrorIs(t, s.Validate(), ErrInvalidState)

	s.IsLive = true
	s.HostID = "u1"
	assert.NoError(t, s.Validate())

	s.GoIdle()
	assert.NoError(t, s.Validate())
}

func TestActiveLockTreatsExpiredAsAbsent(t *testing.T) {
	now := time.UnixMilli(1_000_000)
	s := DefaultRoomState()
	assert.Nil(t, s.ActiveLock(now))

	s.MarkerLock = &MarkerLock{UserID: "u1", Username: "a", ExpiresAt: now.Add(time.Second).UnixMilli()}
	assert.NotNil(t, s.ActiveLock(now))
	assert.Nil(t, s.ActiveLock(now.Add(time.Second)))
}

func TestMarkerLockHeldBy(t *testing.T) {
	var none *MarkerLock
	assert.False(t, none.HeldBy(Authenticated{ID: "u1"}, "c1"))

	user := &MarkerLock{UserID: "u1", ConnectionID: "c1"}
	assert.True(t, user.HeldBy(Authenticated{ID: "u1"}, "c2"))
	assert.False(t, user.HeldBy(Authenticated{ID: "u2"}, "c1"))

	guest := &MarkerLock{UserID: GuestHostID, ConnectionID: "c1"}
	assert.True(t, guest.HeldBy(Guest{VideoID: "v"}, "c1"))
	assert.False(t, guest.HeldBy(Guest{VideoID: "v"}, "c2"))
}

func TestProjectedTime(t *testing.T) {
	base := time.UnixMilli(5_000_000)
	s := RoomState{IsLive: true, LastStatus: StatusPlaying, LastTimestamp: 10, LastHeartbeatAt: base.UnixMilli()}

	assert.InDelta(t, 12.5, s.ProjectedTime(base.Add(2500*time.Millisecond), 5*time.Second), 1e-9)
	assert.Equal(t, 10.0, s.ProjectedTime(base.Add(5*time.Second), 5*time.Second))
	assert.Equal(t, 10.0, s.ProjectedTime(base.Add(-time.Second), 5*time.Second))

	s.LastStatus = StatusPaused
	assert.Equal(t, 10.0, s.ProjectedTime(base.Add(time.Second), 5*time.Second))

	s.LastStatus = StatusPlaying
	s.IsLive = false
	assert.Equal(t, 10.0, s.ProjectedTime(base.Add(time.Second), 5*time.Second))
}

func TestProjectedTimeNeverBehindLastTimestamp(t *testing.T) {
	base := time.UnixMilli(9_000_000)
	s := RoomState{IsLive: true, LastStatus: StatusPlaying, LastTimestamp: 42, LastHeartbeatAt: base.UnixMilli()}
	for ms := 0; ms <= 5000; ms += 250 {
		got := s.ProjectedTime(base.Add(time.Duration(ms)*time.Millisecond), 5*time.Second)
		assert.GreaterOrEqual(t, got, s.LastTimestamp, "at +%dms", ms)
	}
}

func TestRoomStateMessageNullsWhenIdle(t *testing.T) {
	data, err := json.Marshal(NewRoomStateMessage("v1", DefaultRoomState(), 0))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type":"room_state","videoId":"v1","isLive":false,"hostId":null,"hostName":null,
		"lockedBy":null,"initialTime":0,"initialStatus":"paused"
	}`, string(data))

	live := RoomState{IsLive: true, HostID: "u1", HostName: "Alice", LastStatus: StatusPlaying, LastTimestamp: 3}
	msg := NewRoomStateMessage("v1", live, 4)
	require.NotNil(t, msg.HostID)
	assert.Equal(t, "u1", *msg.HostID)
	assert.Equal(t, 4.0, msg.InitialTime)
}

func TestRoleMax(t *testing.T) {
	assert.Equal(t, RoleEditor, RoleViewer.Max(RoleEditor))
	assert.Equal(t, RoleOwner, RoleOwner.Max(RoleViewer))
	assert.Equal(t, RoleViewer, RoleNone.Max(RoleViewer))
}
