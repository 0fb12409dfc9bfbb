package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/weiawesome/wes-io-live/session-service/internal/domain"
)

// DefaultStateTTL is how long an untouched room survives.
const DefaultStateTTL = 24 * time.Hour

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Address  string        `mapstructure:"address"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	StateTTL time.Duration `mapstructure:"state_ttl"`
}

// RedisRoomStore implements RoomStore with one JSON string per room.
//
// Key pattern:
//
//	{prefix}:room:{video_id}   STRING<json RoomState>   EX state_ttl
type RedisRoomStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisRoomStore connects to Redis and returns a store.
func NewRedisRoomStore(cfg RedisConfig) (*RedisRoomStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisRoomStoreFromClient(client, cfg.Prefix, cfg.StateTTL), nil
}

// NewRedisRoomStoreFromClient wraps an existing client.
func NewRedisRoomStoreFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisRoomStore {
	if prefix == "" {
		prefix = "session"
	}
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &RedisRoomStore{client: client, prefix: prefix, ttl: ttl}
}

// Client exposes the underlying connection for components sharing it.
func (s *RedisRoomStore) Client() *redis.Client {
	return s.client
}

// Key returns the Redis key holding a room's state.
func (s *RedisRoomStore) Key(videoID string) string {
	return fmt.Sprintf("%s:room:%s", s.prefix, videoID)
}

func (s *RedisRoomStore) Get(ctx context.Context, videoID string) (domain.RoomState, error) {
	data, err := s.client.Get(ctx, s.Key(videoID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.DefaultRoomState(), nil
		}
		return domain.DefaultRoomState(), fmt.Errorf("%w: get %s: %v", domain.ErrStoreUnavailable, videoID, err)
	}

	state := domain.DefaultRoomState()
	if err := json.Unmarshal(data, &state); err != nil {
		// A value we cannot read is as good as absent; the next write replaces it.
		return domain.DefaultRoomState(), nil
	}
	if !state.LastStatus.Valid() {
		state.LastStatus = domain.StatusPaused
	}
	return state, nil
}

func (s *RedisRoomStore) Set(ctx context.Context, videoID string, state domain.RoomState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal room state: %w", err)
	}

	if err := s.client.Set(ctx, s.Key(videoID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %v", domain.ErrStoreUnavailable, videoID, err)
	}
	return nil
}

func (s *RedisRoomStore) Close() error {
	return s.client.Close()
}
