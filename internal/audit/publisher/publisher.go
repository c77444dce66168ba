// Package publisher turns domain changes into broker messages. It is
// the library the transactional services embed: Publish is synchronous
// from the caller's perspective and returns once the broker has
// accepted the message for routing, not after consumer persistence.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"workforce/pkg/audit"
)

// Broker is the slice of the producer the publisher needs. The real
// implementation is platform/kafka.Producer; tests use fakes.
type Broker interface {
	Publish(ctx context.Context, routingKey string, partitionKey, value []byte) error
}

// Publisher wraps caller-supplied changes into envelopes and sends
// them. It holds no buffer and performs no retry: a broker outage is
// surfaced to the caller, whose policy decides whether the triggering
// business operation fails (callers needing transactional durability
// use the outbox instead).
type Publisher struct {
	broker  Broker
	logger  *slog.Logger
	metrics *Metrics
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithLogger sets a logger for error reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) { p.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) { p.metrics = m }
}

// New creates a publisher over an established broker connection.
func New(broker Broker, opts ...Option) *Publisher {
	p := &Publisher{broker: broker}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish stamps the change with a fresh event ID and capture time,
// resolves its routing key, and sends it to the exchange. An event
// type without a routing projection fails fast with
// ErrUnknownEventType before anything reaches the wire.
func (p *Publisher) Publish(ctx context.Context, eventType audit.EventType, data audit.Change) error {
	route, err := eventType.Route()
	if err != nil {
		// Programming error at the call site, never emitted.
		return err
	}

	env := audit.NewEnvelope(eventType, data)
	body, err := env.MarshalWire()
	if err != nil {
		return err
	}

	start := time.Now()
	if err := p.broker.Publish(ctx, route.Key, []byte(data.EntityID), body); err != nil {
		if p.metrics != nil {
			p.metrics.IncFailed()
		}
		if p.logger != nil {
			p.logger.ErrorContext(ctx, "audit publish failed",
				"event_type", eventType,
				"routing_key", route.Key,
				"entity_id", data.EntityID,
				"error", err,
			)
		}
		return fmt.Errorf("%w: %v", audit.ErrBrokerUnavailable, err)
	}

	if p.metrics != nil {
		p.metrics.ObservePublishDuration(time.Since(start).Seconds())
		p.metrics.IncPublished(route.Key)
	}
	return nil
}

// IsBrokerUnavailable reports whether a publish failure was a broker
// connectivity problem, for callers that retry only on that class.
func IsBrokerUnavailable(err error) bool {
	return errors.Is(err, audit.ErrBrokerUnavailable)
}
