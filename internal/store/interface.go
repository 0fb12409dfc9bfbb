package store

import (
	"context"

	"github.com/weiawesome/wes-io-live/session-service/internal/domain"
)

// RoomStore is the shared room state store. Every access is a plain
// read-modify-write; there is no compare-and-swap, so concurrent writers
// to one room may lose updates.
type RoomStore interface {
	// Get returns the room's state, or domain.DefaultRoomState when the room
	// has never been written or has expired. Errors are transport failures
	// only and wrap domain.ErrStoreUnavailable.
	Get(ctx context.Context, videoID string) (domain.RoomState, error)

	// Set overwrites the room's state and refreshes its expiry.
	Set(ctx context.Context, videoID string, state domain.RoomState) error

	// Close closes the store connection.
	Close() error
}
