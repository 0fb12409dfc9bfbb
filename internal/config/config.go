package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/weiawesome/wes-io-live/session-service/internal/store"
	pkgconfig "github.com/weiawesome/wes-io-live/session-service/pkg/config"
	"github.com/weiawesome/wes-io-live/session-service/pkg/database"
	"github.com/weiawesome/wes-io-live/session-service/pkg/jwt"
	"github.com/weiawesome/wes-io-live/session-service/pkg/log"
	"github.com/weiawesome/wes-io-live/session-service/pkg/pubsub"
)

type Config struct {
	Server    ServerConfig      `mapstructure:"server"`
	WebSocket WebSocketConfig   `mapstructure:"websocket"`
	Auth      AuthConfig        `mapstructure:"auth"`
	Redis     store.RedisConfig `mapstructure:"redis"`
	Database  database.Config   `mapstructure:"database"`
	PubSub    pubsub.Config     `mapstructure:"pubsub"`
	Kafka     KafkaConfig       `mapstructure:"kafka"`
	Session   SessionConfig     `mapstructure:"session"`
	Metrics   MetricsConfig     `mapstructure:"metrics"`
	Log       log.Config        `mapstructure:"log"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// InternalToken guards the /internal endpoints used by the comment layer.
	InternalToken string `mapstructure:"internal_token"`
	// AllowedOrigins applies to CORS on the HTTP API and to websocket origin
	// checks.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
}

type AuthConfig struct {
	JWT jwt.Config `mapstructure:"jwt"`
	// RevocationPrefix namespaces revoked-token keys in Redis.
	RevocationPrefix string        `mapstructure:"revocation_prefix"`
	RoleCacheTTL     time.Duration `mapstructure:"role_cache_ttl"`
	VideoCacheTTL    time.Duration `mapstructure:"video_cache_ttl"`
}

type KafkaConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Brokers    string `mapstructure:"brokers"`
	Topic      string `mapstructure:"topic"`
	Partitions int    `mapstructure:"partitions"`
}

type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
	Path      string `mapstructure:"path"`
}

// SessionConfig holds the coordinator's timing rules.
type SessionConfig struct {
	DrawLockTTL    time.Duration `mapstructure:"draw_lock_ttl"`
	StaleHeartbeat time.Duration `mapstructure:"stale_heartbeat"`
}

func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}

	setDefaults(v)

	if err := pkgconfig.BindEnvs(v, map[string]string{
		"server.port":             "PORT",
		"server.internal_token":   "INTERNAL_API_TOKEN",
		"auth.jwt.secret":         "JWT_SECRET",
		"auth.jwt.public_key_pem": "JWT_PUBLIC_KEY",
		"redis.address":           "REDIS_ADDRESS",
		"redis.password":          "REDIS_PASSWORD",
		"pubsub.redis.address":    "REDIS_ADDRESS",
		"pubsub.redis.password":   "REDIS_PASSWORD",
		"pubsub.kafka.brokers":    "KAFKA_BROKERS",
		"pubsub.nats.url":         "NATS_URL",
		"server.allowed_origins":  "ALLOWED_ORIGINS",
		"kafka.brokers":           "KAFKA_BROKERS",
		"kafka.topic":             "KAFKA_SESSION_TOPIC",
		"database.host":           "DB_HOST",
		"database.password":       "DB_PASSWORD",
		"log.instance_id":         "HOSTNAME",
	}); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	// Durations may arrive as plain strings from the environment.
	cfg.Server.ShutdownTimeout = pkgconfig.Duration(v, "server.shutdown_timeout", 10*time.Second)
	cfg.WebSocket.PingInterval = pkgconfig.Duration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = pkgconfig.Duration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = pkgconfig.Duration(v, "websocket.write_wait", 10*time.Second)
	cfg.Auth.JWT.AccessTTL = pkgconfig.Duration(v, "auth.jwt.access_ttl", 15*time.Minute)
	cfg.Auth.RoleCacheTTL = pkgconfig.Duration(v, "auth.role_cache_ttl", 5*time.Second)
	cfg.Auth.VideoCacheTTL = pkgconfig.Duration(v, "auth.video_cache_ttl", time.Minute)
	cfg.Redis.StateTTL = pkgconfig.Duration(v, "redis.state_ttl", store.DefaultStateTTL)
	cfg.Session.DrawLockTTL = pkgconfig.Duration(v, "session.draw_lock_ttl", 30*time.Second)
	cfg.Session.StaleHeartbeat = pkgconfig.Duration(v, "session.stale_heartbeat", 5*time.Second)
	cfg.PubSub.NATS.ReconnectWait = pkgconfig.Duration(v, "pubsub.nats.reconnect_wait", 2*time.Second)
	cfg.Server.AllowedOrigins = pkgconfig.StringList(v, "server.allowed_origins")

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.internal_token", "")
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 65536)
	v.SetDefault("websocket.send_buffer", 256)

	v.SetDefault("auth.jwt.secret", "")
	v.SetDefault("auth.jwt.public_key_pem", "")
	v.SetDefault("auth.jwt.issuer", "wes-io-live")
	v.SetDefault("auth.jwt.access_ttl", "15m")
	v.SetDefault("auth.revocation_prefix", "auth")
	v.SetDefault("auth.role_cache_ttl", "5s")
	v.SetDefault("auth.video_cache_ttl", "1m")

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "session")
	v.SetDefault("redis.state_ttl", "24h")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "videos")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", 30)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("pubsub.driver", "redis")
	v.SetDefault("pubsub.redis.address", "localhost:6379")
	v.SetDefault("pubsub.redis.password", "")
	v.SetDefault("pubsub.redis.db", 0)
	v.SetDefault("pubsub.kafka.brokers", "localhost:9092")
	v.SetDefault("pubsub.kafka.topic", "session-fanout")
	v.SetDefault("pubsub.kafka.group_prefix", "session-service")
	v.SetDefault("pubsub.kafka.partitions", 4)
	v.SetDefault("pubsub.nats.url", "nats://localhost:4222")
	v.SetDefault("pubsub.nats.max_reconnects", -1)
	v.SetDefault("pubsub.nats.reconnect_wait", "2s")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "session-events")
	v.SetDefault("kafka.partitions", 4)

	v.SetDefault("session.draw_lock_ttl", "30s")
	v.SetDefault("session.stale_heartbeat", "5s")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "session")
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.service_name", "session-service")
	v.SetDefault("log.instance_id", "")
}
