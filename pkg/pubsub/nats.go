package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	pkglog "github.com/weiawesome/wes-io-live/session-service/pkg/log"
)

// NATS subject layout, one subject per room:
//
//	session.room.{video_id}.fanout
const (
	natsSubjectPrefix = "session.room."
	natsSubjectSuffix = ".fanout"
	natsWildcard      = natsSubjectPrefix + "*" + natsSubjectSuffix
)

// NATSConfig configures the core NATS driver.
type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

// natsSubject maps a video id onto a single subject token. NATS separates
// tokens with '.', and '*' and '>' are wildcards, so those are replaced.
func natsSubject(videoID string) string {
	token := strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(videoID)
	return natsSubjectPrefix + token + natsSubjectSuffix
}

// NATSBus uses core NATS subjects. Delivery is at-most-once, which matches
// the Redis driver.
type NATSBus struct {
	nc *nats.Conn

	mu     sync.Mutex
	subs   []*nats.Subscription
	closed chan struct{}
	once   sync.Once
}

// NewNATSBus connects to cfg.URL.
func NewNATSBus(cfg NATSConfig) (*NATSBus, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	wait := cfg.ReconnectWait
	if wait <= 0 {
		wait = 2 * time.Second
	}

	l := pkglog.L()
	nc, err := nats.Connect(url,
		nats.Name("session-service"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(wait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			l.Warn().Err(err).Msg("nats bus disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			l.Info().Str("url", nc.ConnectedUrl()).Msg("nats bus reconnected")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			l.Error().Err(err).Msg("nats bus error")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return &NATSBus{nc: nc, closed: make(chan struct{})}, nil
}

// Publish sends env on the room's subject.
func (n *NATSBus) Publish(ctx context.Context, env *Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	if err := n.nc.Publish(natsSubject(env.VideoID), data); err != nil {
		return fmt.Errorf("failed to publish to nats: %w", err)
	}
	return nil
}

// Listen subscribes to every room subject. The subscription is flushed to
// the server before Listen returns.
func (n *NATSBus) Listen(ctx context.Context) (<-chan *Envelope, error) {
	in := make(chan *nats.Msg, listenerBuffer)
	sub, err := n.nc.ChanSubscribe(natsWildcard, in)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", natsWildcard, err)
	}
	if err := n.nc.Flush(); err != nil {
		sub.Unsubscribe()
		return nil, fmt.Errorf("failed to flush nats subscription: %w", err)
	}

	n.mu.Lock()
	n.subs = append(n.subs, sub)
	n.mu.Unlock()

	out := make(chan *Envelope, listenerBuffer)
	go func() {
		defer close(out)
		defer sub.Unsubscribe()
		l := pkglog.L()
		for {
			select {
			case <-ctx.Done():
				return
			case <-n.closed:
				return
			case msg := <-in:
				var env Envelope
				if err := json.Unmarshal(msg.Data, &env); err != nil {
					l.Warn().Err(err).Str("subject", msg.Subject).Msg("nats bus: dropping malformed envelope")
					continue
				}
				select {
				case out <- &env:
				case <-ctx.Done():
					return
				default:
					l.Warn().Str(pkglog.FieldVideoID, env.VideoID).Msg("nats bus: listener buffer full, envelope dropped")
				}
			}
		}
	}()
	return out, nil
}

// Close drains subscriptions and closes the connection.
func (n *NATSBus) Close() error {
	n.once.Do(func() { close(n.closed) })

	n.mu.Lock()
	for _, sub := range n.subs {
		sub.Unsubscribe()
	}
	n.subs = nil
	n.mu.Unlock()

	if err := n.nc.Drain(); err != nil {
		n.nc.Close()
		return err
	}
	return nil
}
