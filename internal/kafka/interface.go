package kafka

import "context"

// SessionEvent represents a live session lifecycle change.
type SessionEvent struct {
	Type      string `json:"type"` // "session_started" | "host_changed" | "session_ended"
	VideoID   string `json:"video_id"`
	HostID    string `json:"host_id,omitempty"`
	HostName  string `json:"host_name,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Event types
const (
	EventSessionStarted = "session_started"
	EventHostChanged    = "host_changed"
	EventSessionEnded   = "session_ended"
)

// End reasons
const (
	ReasonExplicit   = "explicit"
	ReasonReleased   = "released"
	ReasonDisconnect = "disconnect"
)

// SessionEventProducer publishes session lifecycle events for downstream
// consumers such as analytics or notification services.
type SessionEventProducer interface {
	ProduceSessionStarted(ctx context.Context, videoID, hostID, hostName string) error
	ProduceHostChanged(ctx context.Context, videoID, hostID, hostName string) error
	ProduceSessionEnded(ctx context.Context, videoID, hostID, reason string) error
	Close() error
}

// NopProducer drops every event. Used when no broker is configured.
type NopProducer struct{}

func (NopProducer) ProduceSessionStarted(context.Context, string, string, string) error { return nil }
func (NopProducer) ProduceHostChanged(context.Context, string, string, string) error    { return nil }
func (NopProducer) ProduceSessionEnded(context.Context, string, string, string) error   { return nil }
func (NopProducer) Close() error                                                        { return nil }
