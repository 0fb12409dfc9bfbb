package access

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/weiawesome/wes-io-live/session-service/internal/domain"
)

// CachedResolver memoises role lookups for a short TTL and collapses
// concurrent lookups for the same key into one call. Join storms on a
// popular video otherwise hit the database once per connection.
type CachedResolver struct {
	next  PermissionResolver
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu        sync.RWMutex
	cache     map[string]cachedRole
	nextSweep time.Time
}

type cachedRole struct {
	role      domain.Role
	expiresAt time.Time
}

// NewCachedResolver wraps next. A non-positive ttl disables memoisation
// but keeps request coalescing.
func NewCachedResolver(next PermissionResolver, ttl time.Duration) *CachedResolver {
	return &CachedResolver{
		next:  next,
		ttl:   ttl,
		now:   time.Now,
		cache: make(map[string]cachedRole),
	}
}

func (c *CachedResolver) Resolve(ctx context.Context, videoID string, identity domain.Identity) (domain.Role, error) {
	// Guest roles come straight from the identity; nothing to cache.
	if _, ok := identity.(domain.Guest); ok {
		return c.next.Resolve(ctx, videoID, identity)
	}

	key := videoID + "|" + string(identity.Kind()) + "|" + identity.ParticipantID()
	if role, ok := c.get(key); ok {
		return role, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		role, err := c.next.Resolve(ctx, videoID, identity)
		if err != nil {
			return domain.RoleNone, err
		}
		c.put(key, role)
		return role, nil
	})
	if err != nil {
		return domain.RoleNone, err
	}
	return v.(domain.Role), nil
}

// Invalidate drops every cached role for a video.
func (c *CachedResolver) Invalidate(_ context.Context, videoID string) error {
	prefix := videoID + "|"
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.cache {
		if strings.HasPrefix(key, prefix) {
			delete(c.cache, key)
		}
	}
	return nil
}

func (c *CachedResolver) get(key string) (domain.Role, bool) {
	if c.ttl <= 0 {
		return domain.RoleNone, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache[key]
	if !ok || !c.now().Before(entry.expiresAt) {
		return domain.RoleNone, false
	}
	return entry.role, true
}

func (c *CachedResolver) put(key string, role domain.Role) {
	if c.ttl <= 0 {
		return
	}
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	// Expired entries are dropped at most once per ttl.
	if !now.Before(c.nextSweep) {
		for k, entry := range c.cache {
			if !now.Before(entry.expiresAt) {
				delete(c.cache, k)
			}
		}
		c.nextSweep = now.Add(c.ttl)
	}
	c.cache[key] = cachedRole{role: role, expiresAt: now.Add(c.ttl)}
}

func (c *CachedResolver) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}
