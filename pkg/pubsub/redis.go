package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	pkglog "github.com/weiawesome/wes-io-live/session-service/pkg/log"
)

// RedisBus publishes each room on its own channel and listens with a single
// PSUBSCRIBE over all of them.
type RedisBus struct {
	client *redis.Client

	mu   sync.Mutex
	subs []*redis.PubSub
}

// NewRedisBus dials Redis and verifies the connection.
func NewRedisBus(cfg RedisConfig) (*RedisBus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisBusFromClient(client), nil
}

// NewRedisBusFromClient wraps an existing client. Close closes the client.
func NewRedisBusFromClient(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

// Publish sends env on the room's channel.
func (r *RedisBus) Publish(ctx context.Context, env *Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return r.client.Publish(ctx, RoomFanoutChannel(env.VideoID), data).Err()
}

// Listen pattern-subscribes to every room channel. It waits for the
// subscription to be confirmed so nothing published afterwards is lost.
func (r *RedisBus) Listen(ctx context.Context) (<-chan *Envelope, error) {
	ps := r.client.PSubscribe(ctx, PatternRoomFanout)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", PatternRoomFanout, err)
	}

	r.mu.Lock()
	r.subs = append(r.subs, ps)
	r.mu.Unlock()

	out := make(chan *Envelope, listenerBuffer)
	go r.forward(ctx, ps, out)
	return out, nil
}

func (r *RedisBus) forward(ctx context.Context, ps *redis.PubSub, out chan<- *Envelope) {
	defer close(out)
	l := pkglog.L()
	in := ps.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}

			videoID, ok := VideoIDFromChannel(msg.Channel)
			if !ok {
				continue
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				l.Warn().Err(err).Str("channel", msg.Channel).Msg("redis bus: dropping malformed envelope")
				continue
			}
			// The channel is authoritative for the room.
			env.VideoID = videoID

			select {
			case out <- &env:
			case <-ctx.Done():
				return
			default:
				l.Warn().Str(pkglog.FieldVideoID, videoID).Msg("redis bus: listener buffer full, envelope dropped")
			}
		}
	}
}

// Close ends every listener and closes the client.
func (r *RedisBus) Close() error {
	r.mu.Lock()
	for _, ps := range r.subs {
		ps.Close()
	}
	r.subs = nil
	r.mu.Unlock()

	return r.client.Close()
}
