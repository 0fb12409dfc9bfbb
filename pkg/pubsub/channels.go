package pubsub

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Redis channel layout, one channel per room:
//
//	session:room:{video_id}:fanout
const (
	ChannelRoomFanout = "session:room:%s:fanout"
	PatternRoomFanout = "session:room:*:fanout"
)

// Envelope kinds.
const (
	// KindRoomMessage wraps a client-facing message for local delivery.
	KindRoomMessage = "room_message"

	// KindAssignHost asks the process owning a connection to record it as
	// the room's host.
	KindAssignHost = "assign_host"
)

// RoomFanoutChannel returns the Redis channel for a video room.
func RoomFanoutChannel(videoID string) string {
	return fmt.Sprintf(ChannelRoomFanout, videoID)
}

// VideoIDFromChannel extracts the video id from a room channel name.
func VideoIDFromChannel(channel string) (string, bool) {
	rest, ok := strings.CutPrefix(channel, "session:room:")
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, ":fanout")
	if !ok || id == "" || strings.Contains(id, ":") {
		return "", false
	}
	return id, true
}

// RoomMessageBody is the body of KindRoomMessage.
type RoomMessageBody struct {
	// Exclude is the sender connection id that must not receive the message.
	Exclude string `json:"exclude,omitempty"`
	// Message is the already-encoded client-facing JSON message.
	Message json.RawMessage `json:"message"`
}

// AssignHostBody is the body of KindAssignHost. PreviousConnectionID is the
// releasing host, which must never be picked again.
type AssignHostBody struct {
	VideoID              string `json:"video_id"`
	UserID               string `json:"user_id"`
	ConnectionID         string `json:"connection_id,omitempty"`
	PreviousConnectionID string `json:"previous_connection_id,omitempty"`
}
