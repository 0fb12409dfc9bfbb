package service

import (
	"context"
	"encoding/json"

	"github.com/weiawesome/wes-io-live/session-service/internal/domain"
	"github.com/weiawesome/wes-io-live/session-service/internal/hub"
	"github.com/weiawesome/wes-io-live/session-service/pkg/pubsub"
)

// RoomBroadcaster delivers a message to every member of a room on every
// process, except the excluded connection.
type RoomBroadcaster interface {
	Broadcast(ctx context.Context, videoID string, message interface{}, exclude string) error
	// AssignHost asks the process owning a connection to record it as host.
	// It reports whether the request could be sent at all.
	AssignHost(ctx context.Context, p pubsub.AssignHostBody) (bool, error)
}

// SessionService coordinates live playback sessions.
type SessionService interface {
	// HandleJoinRoom adds the client to the room and sends it a snapshot.
	HandleJoinRoom(ctx context.Context, client *hub.Client, videoID string) error

	// HandleLeaveRoom removes the client from the room. A leaving host ends
	// the session.
	HandleLeaveRoom(ctx context.Context, client *hub.Client, videoID string) error

	// HandleClaimHost makes the client host of an idle room.
	HandleClaimHost(ctx context.Context, client *hub.Client, videoID string) error

	// HandleSyncPulse records and relays a host heartbeat.
	HandleSyncPulse(ctx context.Context, client *hub.Client, msg *domain.SyncPulseMessage) error

	// HandleRequestBecomeHost records a take-over request.
	HandleRequestBecomeHost(ctx context.Context, client *hub.Client, videoID string) error

	// HandleReleaseHost hands control to the pending requester or ends the session.
	HandleReleaseHost(ctx context.Context, client *hub.Client, videoID string) error

	// HandleEndSession ends the live session.
	HandleEndSession(ctx context.Context, client *hub.Client, videoID string) error

	// HandleRequestDrawLock grants or renews the draw lock.
	HandleRequestDrawLock(ctx context.Context, client *hub.Client, videoID string) error

	// HandleReleaseDrawLock frees the draw lock held by the client.
	HandleReleaseDrawLock(ctx context.Context, client *hub.Client, videoID string) error

	// HandleEphemeral relays a cursor or stroke signal to the rest of the room.
	HandleEphemeral(ctx context.Context, client *hub.Client, msgType string, msg *domain.EphemeralMessage) error

	// HandleDisconnect cleans up after a closed connection.
	HandleDisconnect(ctx context.Context, client *hub.Client) error

	// AssignHost records a local connection as host on behalf of another
	// process. Returns false when no local connection matches.
	AssignHost(ctx context.Context, p pubsub.AssignHostBody) bool

	// Snapshot returns what join_room would report for the room.
	Snapshot(ctx context.Context, videoID string) (*domain.RoomStateMessage, error)

	// NotifyNewComment relays a comment persisted elsewhere.
	NotifyNewComment(ctx context.Context, videoID string, comment json.RawMessage) error

	// NotifyDeleteComment relays a comment deletion.
	NotifyDeleteComment(ctx context.Context, videoID, commentID string) error

	// NotifyLockUpdate relays a lock change made outside a socket.
	NotifyLockUpdate(ctx context.Context, videoID string, lock *domain.MarkerLock) error
}
