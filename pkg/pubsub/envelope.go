package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrClosed is returned by Listen after Close.
var ErrClosed = errors.New("pubsub: bus closed")

// Envelope is one record on the room fan-out bus.
type Envelope struct {
	Kind    string          `json:"kind"`
	VideoID string          `json:"video_id"`
	Origin  string          `json:"origin,omitempty"`
	Body    json.RawMessage `json:"body"`
	SentAt  time.Time       `json:"sent_at"`
}

// Seal encodes body into a new envelope for videoID.
func Seal(kind, videoID, origin string, body any) (*Envelope, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Kind:    kind,
		VideoID: videoID,
		Origin:  origin,
		Body:    data,
		SentAt:  time.Now(),
	}, nil
}

// Open decodes the envelope body into v.
func (e *Envelope) Open(v any) error {
	return json.Unmarshal(e.Body, v)
}

// Bus carries envelopes between every process serving rooms. Each driver
// maps an envelope's VideoID onto its own channel, topic or key.
type Bus interface {
	// Publish sends env to every listener on every process.
	Publish(ctx context.Context, env *Envelope) error
	// Listen receives envelopes for all rooms until ctx is done or the bus
	// is closed. The subscription is active when Listen returns.
	Listen(ctx context.Context) (<-chan *Envelope, error)
	Close() error
}
