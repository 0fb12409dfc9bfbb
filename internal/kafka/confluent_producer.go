package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/weiawesome/wes-io-live/session-service/pkg/kafkautil"
	"github.com/weiawesome/wes-io-live/session-service/pkg/log"
)

// ConfluentProducer publishes session lifecycle events to one topic, keyed
// by video id.
type ConfluentProducer struct {
	topic string
	send  func(topic, key string, value []byte) error
	close func()
	now   func() time.Time
}

// NewConfluentProducer creates the topic if needed and connects a producer.
func NewConfluentProducer(brokers, topic string, partitions int) (*ConfluentProducer, error) {
	if err := kafkautil.EnsureTopic(brokers, topic, partitions); err != nil {
		l := log.L()
		l.Warn().Err(err).Str("topic", topic).Msg("failed to ensure topic, may already exist")
	}

	p, err := kafkautil.NewProducer(brokers, "session-events")
	if err != nil {
		return nil, err
	}
	return &ConfluentProducer{topic: topic, send: p.Send, close: p.Close, now: time.Now}, nil
}

func (cp *ConfluentProducer) emit(ctx context.Context, event SessionEvent) error {
	event.Timestamp = cp.now().Unix()
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal session event: %w", err)
	}
	if err := cp.send(cp.topic, event.VideoID, value); err != nil {
		return err
	}

	l := log.Ctx(ctx)
	l.Debug().Str(log.FieldEvent, event.Type).Str(log.FieldVideoID, event.VideoID).Msg("session event queued")
	return nil
}

// ProduceSessionStarted records that a host went live.
func (cp *ConfluentProducer) ProduceSessionStarted(ctx context.Context, videoID, hostID, hostName string) error {
	return cp.emit(ctx, SessionEvent{Type: EventSessionStarted, VideoID: videoID, HostID: hostID, HostName: hostName})
}

// ProduceHostChanged records a hand-off to a new host.
func (cp *ConfluentProducer) ProduceHostChanged(ctx context.Context, videoID, hostID, hostName string) error {
	return cp.emit(ctx, SessionEvent{Type: EventHostChanged, VideoID: videoID, HostID: hostID, HostName: hostName})
}

// ProduceSessionEnded records the end of a session and why it ended.
func (cp *ConfluentProducer) ProduceSessionEnded(ctx context.Context, videoID, hostID, reason string) error {
	return cp.emit(ctx, SessionEvent{Type: EventSessionEnded, VideoID: videoID, HostID: hostID, Reason: reason})
}

// Close flushes pending events.
func (cp *ConfluentProducer) Close() error {
	if cp.close != nil {
		cp.close()
	}
	return nil
}
