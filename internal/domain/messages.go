package domain

import "encoding/json"

// WebSocket message types from client.
const (
	MsgTypeJoinRoom             = "join_room"
	MsgTypeLeaveRoom            = "leave_room"
	MsgTypeClaimHost            = "claim_host"
	MsgTypeSyncPulse            = "sync_pulse"
	MsgTypeRequestBecomeHost    = "request_become_host"
	MsgTypeReleaseHost          = "release_host"
	MsgTypeEndSession           = "end_session"
	MsgTypeRequestDrawLock      = "request_draw_lock"
	MsgTypeReleaseDrawLock      = "release_draw_lock"
	MsgTypeCursorMove           = "cursor_move"
	MsgTypeDrawingStroke        = "drawing_stroke"
	MsgTypeLiveAnnotationStroke = "live_annotation_stroke"
	MsgTypePing                 = "ping"
)

// WebSocket message types to client.
const (
	MsgTypeRoomState            = "room_state"
	MsgTypeHostChanged          = "host_changed"
	MsgTypeSyncUpdate           = "sync_update"
	MsgTypeHostRequested        = "host_requested"
	MsgTypeSessionEnded         = "session_ended"
	MsgTypeLockUpdate           = "lock_update"
	MsgTypeRemoteCursor         = "remote_cursor"
	MsgTypeRemoteStroke         = "remote_stroke"
	MsgTypeRemoteLiveAnnotation = "remote_live_annotation"
	MsgTypeNewComment           = "new_comment"
	MsgTypeDeleteComment        = "delete_comment"
	MsgTypeError                = "error_msg"
	MsgTypePong                 = "pong"
)

// DriftAllowance is the playback drift, in seconds, passengers tolerate
// before seeking to the host's position.
const DriftAllowance = 0.5

// BaseMessage is the base structure for all WebSocket messages.
type BaseMessage struct {
	Type string `json:"type"`
}

// Client -> Server messages

// VideoMessage carries only a target room. Used by join_room, leave_room,
// claim_host, request_become_host, release_host, end_session and the draw
// lock requests.
type VideoMessage struct {
	Type    string `json:"type"`
	VideoID string `json:"videoId"`
}

// SyncPulseMessage is the host heartbeat.
type SyncPulseMessage struct {
	Type      string         `json:"type"`
	VideoID   string         `json:"videoId"`
	Timestamp float64        `json:"timestamp"`
	State     PlaybackStatus `json:"state"`
	Frame     *int64         `json:"frame,omitempty"`
}

// EphemeralMessage is a cursor or stroke signal relayed without storage.
type EphemeralMessage struct {
	Type    string          `json:"type"`
	VideoID string          `json:"videoId"`
	Payload json.RawMessage `json:"payload"`
}

// Server -> Client messages

// RoomStateMessage is the caller-only snapshot returned by join_room.
type RoomStateMessage struct {
	Type          string         `json:"type"`
	VideoID       string         `json:"videoId"`
	IsLive        bool           `json:"isLive"`
	HostID        *string        `json:"hostId"`
	HostName      *string        `json:"hostName"`
	LockedBy      *MarkerLock    `json:"lockedBy"`
	InitialTime   float64        `json:"initialTime"`
	InitialStatus PlaybackStatus `json:"initialStatus"`
}

// HostChangedMessage announces a new host.
type HostChangedMessage struct {
	Type     string `json:"type"`
	VideoID  string `json:"videoId"`
	HostID   string `json:"hostId"`
	HostName string `json:"hostName"`
}

// SyncUpdateMessage drives passengers' players.
type SyncUpdateMessage struct {
	Type           string         `json:"type"`
	VideoID        string         `json:"videoId"`
	Timestamp      float64        `json:"timestamp"`
	Frame          *int64         `json:"frame,omitempty"`
	State          PlaybackStatus `json:"state"`
	DriftAllowance float64        `json:"driftAllowance"`
	Force          bool           `json:"force,omitempty"`
}

// HostRequestedMessage tells the room an editor asked for control.
type HostRequestedMessage struct {
	Type     string `json:"type"`
	VideoID  string `json:"videoId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// SessionEndedMessage tells the room it is idle again.
type SessionEndedMessage struct {
	Type    string `json:"type"`
	VideoID string `json:"videoId"`
}

// LockUpdateMessage publishes the draw lock holder, or null when released.
type LockUpdateMessage struct {
	Type     string      `json:"type"`
	VideoID  string      `json:"videoId"`
	LockedBy *MarkerLock `json:"lockedBy"`
}

// RemoteSignalMessage relays an ephemeral signal tagged with its sender.
type RemoteSignalMessage struct {
	Type         string          `json:"type"`
	VideoID      string          `json:"videoId"`
	UserID       string          `json:"userId"`
	UserName     string          `json:"userName"`
	ConnectionID string          `json:"connectionId"`
	Payload      json.RawMessage `json:"payload"`
}

// NewCommentMessage relays a comment persisted by the HTTP layer.
type NewCommentMessage struct {
	Type    string          `json:"type"`
	VideoID string          `json:"videoId"`
	Comment json.RawMessage `json:"comment"`
}

// DeleteCommentMessage relays a comment deletion.
type DeleteCommentMessage struct {
	Type      string `json:"type"`
	VideoID   string `json:"videoId"`
	CommentID string `json:"commentId"`
}

// ErrorMessage is the caller-only rejection notice.
type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeInvalidState  = "INVALID_STATE"
	ErrCodeLocked        = "LOCKED"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// NewErrorMessage creates a new error message.
func NewErrorMessage(code, message string) *ErrorMessage {
	return &ErrorMessage{
		Type:    MsgTypeError,
		Code:    code,
		Message: message,
	}
}

// NewRoomStateMessage builds the join snapshot from stored state.
func NewRoomStateMessage(videoID string, s RoomState, initialTime float64) *RoomStateMessage {
	msg := &RoomStateMessage{
		Type:          MsgTypeRoomState,
		VideoID:       videoID,
		IsLive:        s.IsLive,
		LockedBy:      s.MarkerLock,
		InitialTime:   initialTime,
		InitialStatus: s.LastStatus,
	}
	if s.HostID != "" {
		hostID, hostName := s.HostID, s.HostName
		msg.HostID = &hostID
		msg.HostName = &hostName
	}
	if !msg.InitialStatus.Valid() {
		msg.InitialStatus = StatusPaused
	}
	return msg
}
