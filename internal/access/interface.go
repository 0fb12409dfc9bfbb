package access

import (
	"context"
	"errors"
	"time"

	"github.com/weiawesome/wes-io-live/session-service/internal/domain"
)

// PermissionResolver maps a video and identity onto a role.
type PermissionResolver interface {
	Resolve(ctx context.Context, videoID string, identity domain.Identity) (domain.Role, error)
}

// VideoRegistry looks up videos. Returns domain.ErrVideoNotFound for
// unknown ids.
type VideoRegistry interface {
	GetVideo(ctx context.Context, videoID string) (*domain.Video, error)
}

// Invalidator drops cached access data for a video once its shares or
// public settings change upstream.
type Invalidator interface {
	Invalidate(ctx context.Context, videoID string) error
}

// Invalidators fans one invalidation out to several caches.
type Invalidators []Invalidator

func (l Invalidators) Invalidate(ctx context.Context, videoID string) error {
	var errs []error
	for _, inv := range l {
		if err := inv.Invalidate(ctx, videoID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RevocationList holds credentials revoked before their natural expiry.
type RevocationList interface {
	IsRevoked(ctx context.Context, token string) (bool, error)
	Revoke(ctx context.Context, token string, ttl time.Duration) error
}
