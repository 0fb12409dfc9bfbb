// Package kafkautil holds the producer setup shared by the fan-out bus and
// the session event stream.
package kafkautil

import (
	"context"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	pkglog "github.com/weiawesome/wes-io-live/session-service/pkg/log"
)

const flushTimeoutMs = 5000

// EnsureTopic creates topic with the given partition count. An existing
// topic is not an error.
func EnsureTopic(brokers, topic string, partitions int) error {
	admin, err := kafka.NewAdminClient(&kafka.ConfigMap{"bootstrap.servers": brokers})
	if err != nil {
		return fmt.Errorf("failed to create admin client: %w", err)
	}
	defer admin.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results, err := admin.CreateTopics(ctx, []kafka.TopicSpecification{{
		Topic:             topic,
		NumPartitions:     partitions,
		ReplicationFactor: 1,
	}})
	if err != nil {
		return fmt.Errorf("failed to create topic: %w", err)
	}
	for _, r := range results {
		if r.Error.Code() != kafka.ErrNoError && r.Error.Code() != kafka.ErrTopicAlreadyExists {
			return fmt.Errorf("failed to create topic %s: %v", r.Topic, r.Error)
		}
	}
	return nil
}

// Producer sends keyed messages and logs failed deliveries.
type Producer struct {
	p      *kafka.Producer
	name   string
	doneCh chan struct{}
}

// NewProducer creates a producer. name tags its delivery failure logs.
func NewProducer(brokers, name string) (*Producer, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
		"acks":              "1",
		"linger.ms":         5,
		"compression.type":  "snappy",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	kp := &Producer{p: p, name: name, doneCh: make(chan struct{})}
	go kp.deliveryReports()
	return kp, nil
}

func (kp *Producer) deliveryReports() {
	defer close(kp.doneCh)
	l := pkglog.L()
	for e := range kp.p.Events() {
		if m, ok := e.(*kafka.Message); ok && m.TopicPartition.Error != nil {
			l.Error().Err(m.TopicPartition.Error).
				Str("producer", kp.name).
				Str(pkglog.FieldVideoID, string(m.Key)).
				Msg("kafka delivery failed")
		}
	}
}

// Send enqueues value on topic. Messages with the same key land on the
// same partition, which keeps one room's messages in order.
func (kp *Producer) Send(topic, key string, value []byte) error {
	err := kp.p.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(key),
		Value:          value,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}
	return nil
}

// Close flushes pending messages and waits for the delivery loop to end.
func (kp *Producer) Close() {
	kp.p.Flush(flushTimeoutMs)
	kp.p.Close()
	<-kp.doneCh
}
