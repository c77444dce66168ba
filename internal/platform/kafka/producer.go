// Package kafka owns the broker connections for the event pipeline.
// Each process holds exactly one client: the transactional service a
// Producer, the audit worker a Consumer. The kgo client is safe for
// concurrent use and reconnects internally, so callers never observe
// the underlying transport swap.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"workforce/internal/platform/config"
)

// HeaderRoutingKey carries the entity.action routing key on each record.
const HeaderRoutingKey = "routing-key"

// Producer publishes envelopes to the durable exchange topic. It owns
// one long-lived client for the process lifetime.
type Producer struct {
	client   *kgo.Client
	exchange string
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewProducer connects to the broker and idempotently declares the
// exchange topic. A connection failure here surfaces to the caller
// rather than being deferred to the first publish.
func NewProducer(ctx context.Context, cfg config.Broker, logger *slog.Logger) (*Producer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Seeds...),
	)
	if err != nil {
		return nil, fmt.Errorf("new broker client: %w", err)
	}
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping broker: %w", err)
	}
	if err := declareExchange(ctx, client, cfg); err != nil {
		client.Close()
		return nil, err
	}
	return &Producer{
		client:   client,
		exchange: cfg.Exchange,
		logger:   logger,
		tracer:   otel.Tracer("workforce/platform/kafka"),
	}, nil
}

// declareExchange creates the exchange topic if it does not exist yet.
// Re-declaring an existing topic is a no-op.
func declareExchange(ctx context.Context, client *kgo.Client, cfg config.Broker) error {
	adm := kadm.NewClient(client)
	resp, err := adm.CreateTopics(ctx, cfg.Partitions, -1, nil, cfg.Exchange)
	if err != nil {
		return fmt.Errorf("declare exchange %q: %w", cfg.Exchange, err)
	}
	for _, t := range resp {
		if t.Err != nil && !errors.Is(t.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("declare exchange %q: %w", t.Topic, t.Err)
		}
	}
	return nil
}

// Publish sends one message to the exchange and blocks until the broker
// acknowledges it. The partition key keeps all events for one entity on
// one partition, preserving per-entity order; the routing key travels
// as a record header.
func (p *Producer) Publish(ctx context.Context, routingKey string, partitionKey, value []byte) error {
	ctx, span := p.tracer.Start(ctx, "kafka.publish", trace.WithSpanKind(trace.SpanKindProducer))
	span.SetAttributes(
		attribute.String("messaging.destination", p.exchange),
		attribute.String("messaging.routing_key", routingKey),
	)
	defer span.End()

	rec := &kgo.Record{
		Topic: p.exchange,
		Key:   partitionKey,
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: HeaderRoutingKey, Value: []byte(routingKey)},
		},
	}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("produce to %q: %w", p.exchange, err)
	}
	return nil
}

// Ping reports whether the broker currently answers.
func (p *Producer) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

// Close flushes buffered records and releases the connection.
func (p *Producer) Close() {
	p.client.Close()
}
