package pubsub

import (
	"fmt"
	"time"
)

// Config selects and configures the fan-out bus driver.
type Config struct {
	Driver string      `mapstructure:"driver"` // redis, kafka, nats or memory
	Redis  RedisConfig `mapstructure:"redis"`
	Kafka  KafkaConfig `mapstructure:"kafka"`
	NATS   NATSConfig  `mapstructure:"nats"`
}

// RedisConfig configures the Redis pub/sub driver.
type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// KafkaConfig configures the Kafka driver. Every process joins its own
// consumer group, GroupPrefix-{instance}, so each one sees every room.
type KafkaConfig struct {
	Brokers     string `mapstructure:"brokers"`
	Topic       string `mapstructure:"topic"`
	GroupPrefix string `mapstructure:"group_prefix"`
	Partitions  int    `mapstructure:"partitions"`
}

// Open builds the bus named by cfg.Driver. instanceID identifies this
// process to drivers that need a per-process subscription.
func Open(cfg Config, instanceID string) (Bus, error) {
	switch cfg.Driver {
	case "redis", "":
		return NewRedisBus(cfg.Redis)
	case "kafka":
		return NewKafkaBus(cfg.Kafka, instanceID)
	case "nats":
		return NewNATSBus(cfg.NATS)
	case "memory":
		return NewMemoryBus(), nil
	default:
		return nil, fmt.Errorf("unsupported pubsub driver: %s", cfg.Driver)
	}
}
