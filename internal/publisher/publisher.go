package publisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/Checker-Finance/instrument-provider/internal/metrics"
	"github.com/Checker-Finance/instrument-provider/pkg/logger"
	"github.com/Checker-Finance/instrument-provider/pkg/model"
)

const (
	EventInstrumentsLoaded = "instruments.loaded"
	eventVersion           = "1.0.0"
)

// JetStream is the publishing surface of nats.JetStreamContext.
type JetStream interface {
	PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Publisher wraps a NATS connection and provides helpers for publishing canonical events.
type Publisher struct {
	nc      *nats.Conn
	js      JetStream
	subject string
	service string
}

// New creates a Publisher on the connection's JetStream context.
func New(nc *nats.Conn, subject, service string) (*Publisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	p := NewWithJetStream(js, subject, service)
	p.nc = nc
	return p, nil
}

// NewWithJetStream creates a Publisher over an existing JetStream surface.
func NewWithJetStream(js JetStream, subject, service string) *Publisher {
	return &Publisher{js: js, subject: subject, service: service}
}

// Connected reports whether the underlying NATS connection is up.
func (p *Publisher) Connected() bool {
	return p.nc != nil && p.nc.IsConnected()
}

// PublishEnvelope serializes and publishes a canonical event envelope. An
// empty subject falls back to the publisher's default subject.
func (p *Publisher) PublishEnvelope(ctx context.Context, subject string, env *model.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		logger.S().Errorw("publisher.marshal_failed",
			"subject", subject,
			"event_type", env.EventType,
			"error", err,
		)
		metrics.IncError("publisher", "marshal_failed")
		return err
	}

	if subject == "" {
		subject = p.subject
	}

	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"event_type":     []string{env.EventType},
			"correlation_id": []string{env.CorrelationID.String()},
			"service":        []string{p.service},
			"content_type":   []string{"application/json"},
			"venue":          []string{env.Venue},
		},
	}

	start := time.Now()
	_, err = p.js.PublishMsg(msg, nats.Context(ctx))
	metrics.ObserveDuration(metrics.NATSMessageLatency, start, subject)

	if err != nil {
		logger.S().Errorw("publisher.publish_failed",
			"subject", subject,
			"event_type", env.EventType,
			"venue", env.Venue,
			"error", err,
		)
		metrics.IncNATSMessage(subject, "error")
		return err
	}

	logger.S().Infow("publisher.publish_success",
		"subject", subject,
		"event_type", env.EventType,
		"venue", env.Venue,
	)
	metrics.IncNATSMessage(subject, "ok")
	return nil
}

// PublishInstrumentsLoaded emits canonical instruments.loaded events.
func (p *Publisher) PublishInstrumentsLoaded(ctx context.Context, evt model.InstrumentsLoadedEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		metrics.IncError("publisher", "marshal_failed")
		return err
	}

	env := &model.Envelope{
		ID:            uuid.New(),
		CorrelationID: uuid.New(),
		Venue:         evt.Venue,
		Topic:         p.subject,
		EventType:     EventInstrumentsLoaded,
		Version:       eventVersion,
		Timestamp:     time.Now().UTC(),
		Payload:       data,
	}
	return p.PublishEnvelope(ctx, p.subject, env)
}

// Close drains the NATS connection, flushing pending publishes.
func (p *Publisher) Close() error {
	if p.nc == nil || p.nc.IsClosed() {
		return nil
	}
	return p.nc.Drain()
}
