package access

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRevocationList stores revoked credentials by digest so raw tokens
// never sit in Redis.
//
// Key pattern:
//
//	{prefix}:revoked:{sha256(token)}   STRING "1"   EX remaining token lifetime
type RedisRevocationList struct {
	client *redis.Client
	prefix string
}

// NewRedisRevocationList creates a revocation list on client.
func NewRedisRevocationList(client *redis.Client, prefix string) *RedisRevocationList {
	if prefix == "" {
		prefix = "auth"
	}
	return &RedisRevocationList{client: client, prefix: prefix}
}

func (r *RedisRevocationList) key(token string) string {
	sum := sha256.Sum256([]byte(token))
	return fmt.Sprintf("%s:revoked:%s", r.prefix, hex.EncodeToString(sum[:]))
}

// IsRevoked reports whether token has been revoked.
func (r *RedisRevocationList) IsRevoked(ctx context.Context, token string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(token)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check revocation: %w", err)
	}
	return n > 0, nil
}

// Revoke marks token revoked for ttl, which should cover its remaining lifetime.
func (r *RedisRevocationList) Revoke(ctx context.Context, token string, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.key(token), "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}
