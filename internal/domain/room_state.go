package domain

import (
	"fmt"
	"time"
)

// PlaybackStatus is the host's last reported player state.
type PlaybackStatus string

const (
	StatusPlaying PlaybackStatus = "playing"
	StatusPaused  PlaybackStatus = "paused"
)

// Valid reports whether s is one of the two known states.
func (s PlaybackStatus) Valid() bool {
	return s == StatusPlaying || s == StatusPaused
}

// MarkerLock is the time-boxed draw lock. ExpiresAt is epoch milliseconds.
type MarkerLock struct {
	UserID       string `json:"userId"`
	Username     string `json:"username"`
	ExpiresAt    int64  `json:"expiresAt"`
	ConnectionID string `json:"connectionId,omitempty"`
}

// HeldBy reports whether identity, connected as connID, owns the lock.
// Guests all share GuestHostID, so for them the connection must match.
func (l *MarkerLock) HeldBy(identity Identity, connID string) bool {
	if l == nil || l.UserID != identity.ParticipantID() {
		return false
	}
	if identity.Kind() == IdentityGuest {
		return l.ConnectionID == connID
	}
	return true
}

// Expired reports whether the lock has lapsed at now.
func (l *MarkerLock) Expired(now time.Time) bool {
	return l.ExpiresAt <= now.UnixMilli()
}

// HostRequest records an editor asking to take over from the current host.
// ConnectionID is a hint for re-binding the host connection on hand-off.
type HostRequest struct {
	UserID       string `json:"userId"`
	UserName     string `json:"userName"`
	ConnectionID string `json:"connectionId,omitempty"`
}

// RoomState is the shared per-video session state. An empty HostID means no
// host.
type RoomState struct {
	HostID             string         `json:"hostId"`
	HostName           string         `json:"hostName"`
	IsLive             bool           `json:"isLive"`
	LastTimestamp      float64        `json:"lastTimestamp"`
	LastStatus         PlaybackStatus `json:"lastStatus"`
	LastHeartbeatAt    int64          `json:"lastHeartbeatAt"`
	MarkerLock         *MarkerLock    `json:"markerLock"`
	PendingHostRequest *HostRequest   `json:"pendingHostRequest"`
}

// DefaultRoomState is the state of a room nobody has touched yet.
func DefaultRoomState() RoomState {
	return RoomState{LastStatus: StatusPaused}
}

// Validate checks the idle invariant: a room that is not live has neither a
// host nor a pending host request.
func (s RoomState) Validate() error {
	if s.IsLive {
		return nil
	}
	if s.HostID != "" {
		return fmt.Errorf("%w: idle room has host %q", ErrInvalidState, s.HostID)
	}
	if s.PendingHostRequest != nil {
		return fmt.Errorf("%w: idle room has pending host request", ErrInvalidState)
	}
	return nil
}

// GoIdle ends the live session, keeping the playback position.
func (s *RoomState) GoIdle() {
	s.IsLive = false
	s.HostID = ""
	s.HostName = ""
	s.PendingHostRequest = nil
}

// ActiveLock returns the draw lock if it is held and has not lapsed.
func (s RoomState) ActiveLock(now time.Time) *MarkerLock {
	if s.MarkerLock == nil || s.MarkerLock.Expired(now) {
		return nil
	}
	return s.MarkerLock
}

// ProjectedTime estimates the host's current position for a late joiner.
// While playing with a heartbeat younger than staleAfter the elapsed time
// is added; otherwise the last reported position is returned as is.
func (s RoomState) ProjectedTime(now time.Time, staleAfter time.Duration) float64 {
	if !s.IsLive || s.LastStatus != StatusPlaying {
		return s.LastTimestamp
	}
	elapsed := time.Duration(now.UnixMilli()-s.LastHeartbeatAt) * time.Millisecond
	if elapsed < 0 || elapsed >= staleAfter {
		return s.LastTimestamp
	}
	return s.LastTimestamp + elapsed.Seconds()
}
