package access

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/weiawesome/wes-io-live/session-service/internal/domain"
	"github.com/weiawesome/wes-io-live/session-service/pkg/log"
)

// DefaultVideoCacheTTL bounds how long a share-token change can go unseen.
const DefaultVideoCacheTTL = time.Minute

var errCacheMiss = errors.New("cache miss")

// RedisVideoCache is a read-through VideoRegistry cache. Guest connections
// look the video up on every upgrade; this keeps those off the database.
//
// Key pattern:
//
//	{prefix}:video:{video_id}   STRING<json Video>   EX ttl
type RedisVideoCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	next   VideoRegistry
}

// cachedVideo is the stored form of domain.Video.
type cachedVideo struct {
	ID          string      `json:"id"`
	OwnerID     string      `json:"owner_id"`
	Title       string      `json:"title"`
	IsPublic    bool        `json:"is_public"`
	PublicToken string      `json:"public_token"`
	PublicRole  domain.Role `json:"public_role"`
}

// NewRedisVideoCache wraps next with a Redis cache.
func NewRedisVideoCache(client *redis.Client, prefix string, ttl time.Duration, next VideoRegistry) *RedisVideoCache {
	if prefix == "" {
		prefix = "session"
	}
	if ttl <= 0 {
		ttl = DefaultVideoCacheTTL
	}
	return &RedisVideoCache{client: client, prefix: prefix, ttl: ttl, next: next}
}

// BuildKeyByID returns the cache key for a video.
func (c *RedisVideoCache) BuildKeyByID(videoID string) string {
	return fmt.Sprintf("%s:video:%s", c.prefix, videoID)
}

// GetVideo serves from the cache, falling back to the wrapped registry on a
// miss or when Redis is unreachable. Unknown videos are not cached.
func (c *RedisVideoCache) GetVideo(ctx context.Context, videoID string) (*domain.Video, error) {
	l := log.Ctx(ctx)
	key := c.BuildKeyByID(videoID)

	video, err := c.get(ctx, key)
	if err == nil {
		return video, nil
	}
	if !errors.Is(err, errCacheMiss) {
		l.Warn().Err(err).Str(log.FieldVideoID, videoID).Msg("video cache read failed")
	}

	video, err = c.next.GetVideo(ctx, videoID)
	if err != nil {
		return nil, err
	}

	if err := c.set(ctx, key, video); err != nil {
		l.Warn().Err(err).Str(log.FieldVideoID, videoID).Msg("video cache write failed")
	}
	return video, nil
}

// Invalidate drops a cached video, e.g. after its share token is rotated.
func (c *RedisVideoCache) Invalidate(ctx context.Context, videoID string) error {
	if err := c.client.Del(ctx, c.BuildKeyByID(videoID)).Err(); err != nil {
		return fmt.Errorf("failed to delete from redis: %w", err)
	}
	return nil
}

func (c *RedisVideoCache) get(ctx context.Context, key string) (*domain.Video, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errCacheMiss
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var v cachedVideo
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache data: %w", err)
	}
	return &domain.Video{
		ID:          v.ID,
		OwnerID:     v.OwnerID,
		Title:       v.Title,
		IsPublic:    v.IsPublic,
		PublicToken: v.PublicToken,
		PublicRole:  domain.ParseRole(string(v.PublicRole)),
	}, nil
}

func (c *RedisVideoCache) set(ctx context.Context, key string, video *domain.Video) error {
	data, err := json.Marshal(cachedVideo{
		ID:          video.ID,
		OwnerID:     video.OwnerID,
		Title:       video.Title,
		IsPublic:    video.IsPublic,
		PublicToken: video.PublicToken,
		PublicRole:  video.PublicRole,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal cache data: %w", err)
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set in redis: %w", err)
	}
	return nil
}
