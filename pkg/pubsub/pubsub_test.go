package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan *Envelope) *Envelope {
	t.Helper()
	select {
	case env, ok := <-ch:
		require.True(t, ok, "listener closed")
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for envelope")
		return nil
	}
}

func TestRoomChannelNaming(t *testing.T) {
	ch := RoomFanoutChannel("video-42")
	assert.Equal(t, "session:room:video-42:fanout", ch)

	id, ok := VideoIDFromChannel(ch)
	assert.True(t, ok)
	assert.Equal(t, "video-42", id)

	for _, bad := range []string{"media:room:x:to_signal", "session:room::fanout", "session:room:a:b:fanout"} {
		_, ok = VideoIDFromChannel(bad)
		assert.False(t, ok, bad)
	}
}

func TestNATSSubject(t *testing.T) {
	assert.Equal(t, "session.room.v1.fanout", natsSubject("v1"))
	assert.Equal(t, "session.room.a_b_c.fanout", natsSubject("a.b*c"))
	assert.Equal(t, "session.room.*.fanout", natsWildcard)
}

func TestConsumerGroupPerInstance(t *testing.T) {
	assert.Equal(t, "session-service-pod-1", consumerGroupID("session-service", "pod-1"))
	assert.Equal(t, "session-service-a-b-c", consumerGroupID("session-service", "a:b/c"))
	assert.Equal(t, "session-service", consumerGroupID("session-service", ""))
}

func TestSealOpen(t *testing.T) {
	env, err := Seal(KindAssignHost, "v1", "node-a", AssignHostBody{VideoID: "v1", UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "node-a", env.Origin)
	assert.False(t, env.SentAt.IsZero())

	var body AssignHostBody
	require.NoError(t, env.Open(&body))
	assert.Equal(t, "u1", body.UserID)
}

func TestMemoryBusDeliversToEveryListener(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := NewMemoryBus()
	defer bus.Close()

	a, err := bus.Listen(ctx)
	require.NoError(t, err)
	b, err := bus.Listen(ctx)
	require.NoError(t, err)

	env, err := Seal(KindRoomMessage, "a", "", RoomMessageBody{Message: []byte(`{"type":"x"}`)})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, env))

	got := receive(t, a)
	assert.Equal(t, "a", got.VideoID)
	got = receive(t, b)
	assert.Equal(t, KindRoomMessage, got.Kind)

	var body RoomMessageBody
	require.NoError(t, got.Open(&body))
	assert.JSONEq(t, `{"type":"x"}`, string(body.Message))
}

func TestMemoryBusCloseEndsListeners(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus()

	ch, err := bus.Listen(ctx)
	require.NoError(t, err)
	require.NoError(t, bus.Close())

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("listener not closed")
	}

	_, err = bus.Listen(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, bus.Publish(ctx, &Envelope{VideoID: "v"}), ErrClosed)
}

func TestMemoryBusListenerStopsWithContext(t *testing.T) {
	bus := NewMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := bus.Listen(ctx)
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("listener not closed after cancel")
	}
	assert.Eventually(t, func() bool {
		bus.mu.Lock()
		defer bus.mu.Unlock()
		return len(bus.listeners) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestRedisBusRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	bus := NewRedisBusFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Listen(ctx)
	require.NoError(t, err)

	env, err := Seal(KindAssignHost, "v9", "instance-a", AssignHostBody{VideoID: "v9", UserID: "u1"})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, env))

	got := receive(t, ch)
	assert.Equal(t, KindAssignHost, got.Kind)
	assert.Equal(t, "instance-a", got.Origin)
	assert.Equal(t, "v9", got.VideoID)

	var body AssignHostBody
	require.NoError(t, got.Open(&body))
	assert.Equal(t, "u1", body.UserID)
}

func TestRedisBusIgnoresForeignChannels(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bus := NewRedisBusFromClient(client)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := bus.Listen(ctx)
	require.NoError(t, err)

	require.NoError(t, client.Publish(ctx, "session:room:v1:fanout", "not json").Err())
	env, err := Seal(KindRoomMessage, "v2", "", RoomMessageBody{Message: []byte(`{}`)})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, env))

	got := receive(t, ch)
	assert.Equal(t, "v2", got.VideoID)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "nats"}, "x")
	assert.Error(t, err)

	bus, err := Open(Config{Driver: "memory"}, "x")
	require.NoError(t, err)
	assert.NoError(t, bus.Close())
}
