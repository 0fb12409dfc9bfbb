package domain

import "errors"

var (
	// ErrAuthentication means no identity could be established for a connection.
	ErrAuthentication = errors.New("authentication failed")

	// ErrPermissionDenied means the caller lacks the role an action needs.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInvalidState means the action does not apply to the room's current state.
	ErrInvalidState = errors.New("invalid room state")

	// ErrStoreUnavailable wraps transient failures of the room state store.
	ErrStoreUnavailable = errors.New("room state store unavailable")

	// ErrVideoNotFound is returned by the video registry.
	ErrVideoNotFound = errors.New("video not found")
)
