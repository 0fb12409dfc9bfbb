package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/weiawesome/wes-io-live/session-service/pkg/kafkautil"
	pkglog "github.com/weiawesome/wes-io-live/session-service/pkg/log"
)

const (
	defaultKafkaTopic       = "session-fanout"
	defaultKafkaGroupPrefix = "session-service"
	defaultKafkaPartitions  = 4
	kafkaPollTimeoutMs      = 500
)

var groupIDRegexp = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// KafkaBus carries every room on one topic keyed by video id, so a room's
// envelopes keep their order within a partition.
type KafkaBus struct {
	producer *kafkautil.Producer
	cfg      KafkaConfig
	groupID  string

	mu        sync.Mutex
	consumers []*kafka.Consumer
	wg        sync.WaitGroup
	stop      chan struct{}
}

// NewKafkaBus creates the producer and makes sure the topic exists.
func NewKafkaBus(cfg KafkaConfig, instanceID string) (*KafkaBus, error) {
	if cfg.Topic == "" {
		cfg.Topic = defaultKafkaTopic
	}
	if cfg.GroupPrefix == "" {
		cfg.GroupPrefix = defaultKafkaGroupPrefix
	}
	if cfg.Partitions <= 0 {
		cfg.Partitions = defaultKafkaPartitions
	}

	if err := kafkautil.EnsureTopic(cfg.Brokers, cfg.Topic, cfg.Partitions); err != nil {
		l := pkglog.L()
		l.Warn().Err(err).Str("topic", cfg.Topic).Msg("failed to ensure kafka fan-out topic, may already exist")
	}

	p, err := kafkautil.NewProducer(cfg.Brokers, "fanout")
	if err != nil {
		return nil, err
	}

	return &KafkaBus{
		producer: p,
		cfg:      cfg,
		groupID:  consumerGroupID(cfg.GroupPrefix, instanceID),
		stop:     make(chan struct{}),
	}, nil
}

// consumerGroupID gives each process its own group. A shared group would
// split partitions and each process would miss other rooms' messages.
func consumerGroupID(prefix, instanceID string) string {
	if instanceID == "" {
		return prefix
	}
	return prefix + "-" + groupIDRegexp.ReplaceAllString(instanceID, "-")
}

// Publish produces env keyed by its video id.
func (b *KafkaBus) Publish(ctx context.Context, env *Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	return b.producer.Send(b.cfg.Topic, env.VideoID, data)
}

// Listen starts a consumer in this process's group reading from the latest
// offset. Envelopes are not replayed after a restart.
func (b *KafkaBus) Listen(ctx context.Context) (<-chan *Envelope, error) {
	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":       b.cfg.Brokers,
		"group.id":                b.groupID,
		"auto.offset.reset":       "latest",
		"enable.auto.commit":      true,
		"auto.commit.interval.ms": 5000,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	if err := c.Subscribe(b.cfg.Topic, nil); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to subscribe to topic %s: %w", b.cfg.Topic, err)
	}

	b.mu.Lock()
	b.consumers = append(b.consumers, c)
	b.wg.Add(1)
	b.mu.Unlock()

	out := make(chan *Envelope, listenerBuffer)
	go b.consume(ctx, c, out)
	return out, nil
}

func (b *KafkaBus) consume(ctx context.Context, c *kafka.Consumer, out chan<- *Envelope) {
	defer b.wg.Done()
	defer close(out)
	l := pkglog.L()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stop:
			return
		default:
		}

		switch e := c.Poll(kafkaPollTimeoutMs).(type) {
		case nil:
		case *kafka.Message:
			var env Envelope
			if err := json.Unmarshal(e.Value, &env); err != nil {
				l.Warn().Err(err).Msg("kafka bus: dropping malformed envelope")
				continue
			}
			if env.VideoID == "" {
				env.VideoID = string(e.Key)
			}
			select {
			case out <- &env:
			case <-ctx.Done():
				return
			default:
				l.Warn().Str(pkglog.FieldVideoID, env.VideoID).Msg("kafka bus: listener buffer full, envelope dropped")
			}
		case kafka.Error:
			l.Error().Err(e).Int("code", int(e.Code())).Bool("fatal", e.IsFatal()).Msg("kafka bus error")
			if e.IsFatal() {
				return
			}
		}
	}
}

// Close stops listeners, flushes pending envelopes and closes the producer.
func (b *KafkaBus) Close() error {
	close(b.stop)
	b.wg.Wait()

	b.mu.Lock()
	for _, c := range b.consumers {
		c.Close()
	}
	b.consumers = nil
	b.mu.Unlock()

	b.producer.Close()
	return nil
}
