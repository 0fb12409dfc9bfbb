package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/weiawesome/wes-io-live/session-service/internal/hub"
	"github.com/weiawesome/wes-io-live/session-service/internal/metrics"
	"github.com/weiawesome/wes-io-live/session-service/pkg/log"
	"github.com/weiawesome/wes-io-live/session-service/pkg/pubsub"
)

// AssignHostFunc records a local connection as a room's host. It reports
// whether a matching connection was found on this process.
type AssignHostFunc func(ctx context.Context, p pubsub.AssignHostBody) bool

// Fanout delivers room broadcasts to local members immediately and publishes
// them for every other process serving the same room. Events published by
// this instance are ignored when they come back on the subscription.
type Fanout struct {
	local      *hub.Hub
	bus        pubsub.Bus
	instanceID string
	metrics    *metrics.Metrics

	mu       sync.RWMutex
	onAssign AssignHostFunc
}

// New creates a fan-out over local. bus may be nil for a single-process
// deployment, in which case broadcasts stay local. m may be nil.
func New(local *hub.Hub, bus pubsub.Bus, instanceID string, m *metrics.Metrics) *Fanout {
	return &Fanout{local: local, bus: bus, instanceID: instanceID, metrics: m}
}

// OnAssignHost sets the callback run for assign_host events.
func (f *Fanout) OnAssignHost(fn AssignHostFunc) {
	f.mu.Lock()
	f.onAssign = fn
	f.mu.Unlock()
}

// Broadcast sends message to every member of the room except the exclude
// connection, on every process.
func (f *Fanout) Broadcast(ctx context.Context, videoID string, message interface{}, exclude string) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to encode room message: %w", err)
	}

	f.local.BroadcastRaw(videoID, data, exclude)

	if f.bus == nil {
		return nil
	}
	env, err := pubsub.Seal(pubsub.KindRoomMessage, videoID, f.instanceID, pubsub.RoomMessageBody{
		Exclude: exclude,
		Message: data,
	})
	if err != nil {
		return err
	}
	if err := f.bus.Publish(ctx, env); err != nil {
		f.metrics.Envelope(pubsub.KindRoomMessage, metrics.DirectionFailed)
		// Local members already have the message.
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldVideoID, videoID).Msg("failed to publish room message")
		return nil
	}
	f.metrics.Envelope(pubsub.KindRoomMessage, metrics.DirectionPublished)
	return nil
}

// AssignHost asks whichever process owns the connection to record it as
// host. Returns false when there is no bus to ask.
func (f *Fanout) AssignHost(ctx context.Context, p pubsub.AssignHostBody) (bool, error) {
	if f.bus == nil {
		return false, nil
	}
	env, err := pubsub.Seal(pubsub.KindAssignHost, p.VideoID, f.instanceID, p)
	if err != nil {
		return false, err
	}
	if err := f.bus.Publish(ctx, env); err != nil {
		f.metrics.Envelope(pubsub.KindAssignHost, metrics.DirectionFailed)
		return false, fmt.Errorf("failed to publish assign_host: %w", err)
	}
	f.metrics.Envelope(pubsub.KindAssignHost, metrics.DirectionPublished)
	return true, nil
}

// Start subscribes to every room's fan-out channel and delivers remote
// events in the background until ctx is done. The subscription is active
// when Start returns.
func (f *Fanout) Start(ctx context.Context) error {
	if f.bus == nil {
		return nil
	}

	envs, err := f.bus.Listen(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to room fan-out: %w", err)
	}

	l := log.Ctx(ctx)
	l.Info().Str("instance_id", f.instanceID).Msg("room fan-out subscriber started")

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case env, ok := <-envs:
				if !ok {
					return
				}
				f.handle(ctx, env)
			}
		}
	}()
	return nil
}

func (f *Fanout) handle(ctx context.Context, env *pubsub.Envelope) {
	if env.Origin != "" && env.Origin == f.instanceID {
		return
	}
	l := log.Ctx(ctx)

	switch env.Kind {
	case pubsub.KindRoomMessage:
		var body pubsub.RoomMessageBody
		if err := env.Open(&body); err != nil {
			l.Warn().Err(err).Str(log.FieldVideoID, env.VideoID).Msg("malformed room message")
			return
		}
		f.local.BroadcastRaw(env.VideoID, body.Message, body.Exclude)
		f.metrics.Envelope(env.Kind, metrics.DirectionReceived)

	case pubsub.KindAssignHost:
		var p pubsub.AssignHostBody
		if err := env.Open(&p); err != nil {
			l.Warn().Err(err).Str(log.FieldVideoID, env.VideoID).Msg("malformed assign_host")
			return
		}
		f.metrics.Envelope(env.Kind, metrics.DirectionReceived)
		f.mu.RLock()
		fn := f.onAssign
		f.mu.RUnlock()
		if fn != nil && fn(ctx, p) {
			l.Info().Str(log.FieldVideoID, p.VideoID).Str(log.FieldUserID, p.UserID).Msg("host assignment taken over from remote hand-off")
		}

	default:
		l.Debug().Str(log.FieldEvent, env.Kind).Msg("ignoring unknown fan-out envelope")
	}
}
