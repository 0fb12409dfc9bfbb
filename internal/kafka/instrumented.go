package kafka

import (
	"context"

	"github.com/weiawesome/wes-io-live/session-service/internal/metrics"
)

// instrumented counts each transition before handing it to the next producer.
// The count is taken even when the broker is unavailable or disabled.
type instrumented struct {
	next    SessionEventProducer
	metrics *metrics.Metrics
}

// Instrument wraps next so every session transition is counted in m.
func Instrument(next SessionEventProducer, m *metrics.Metrics) SessionEventProducer {
	if m == nil {
		return next
	}
	return &instrumented{next: next, metrics: m}
}

func (p *instrumented) ProduceSessionStarted(ctx context.Context, videoID, hostID, hostName string) error {
	p.metrics.SessionTransition(EventSessionStarted, "")
	return p.next.ProduceSessionStarted(ctx, videoID, hostID, hostName)
}

func (p *instrumented) ProduceHostChanged(ctx context.Context, videoID, hostID, hostName string) error {
	p.metrics.SessionTransition(EventHostChanged, "")
	return p.next.ProduceHostChanged(ctx, videoID, hostID, hostName)
}

func (p *instrumented) ProduceSessionEnded(ctx context.Context, videoID, hostID, reason string) error {
	p.metrics.SessionTransition(EventSessionEnded, reason)
	return p.next.ProduceSessionEnded(ctx, videoID, hostID, reason)
}

func (p *instrumented) Close() error {
	return p.next.Close()
}
