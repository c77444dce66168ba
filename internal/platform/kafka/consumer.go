package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"workforce/internal/platform/config"
)

// Message is one delivery handed to a Handler.
type Message struct {
	Topic      string
	Partition  int32
	Offset     int64
	Key        []byte
	Value      []byte
	RoutingKey string
}

// Handler processes one delivery. Returning nil acknowledges the
// message (the offset is committed). Returning an error leaves it
// unacknowledged: the consumer retries the same message with backoff,
// so a store outage delays the stream instead of losing events.
// Handlers that want to skip a poison message log it and return nil.
type Handler func(ctx context.Context, msg *Message) error

// Consumer binds the durable audit group to the exchange topic and
// feeds deliveries to a handler one at a time. Offsets are committed
// manually, only after the handler succeeds (at-least-once).
type Consumer struct {
	client  *kgo.Client
	logger  *slog.Logger
	tracer  trace.Tracer
	backoff time.Duration
}

// retryBackoffCap bounds the per-message retry delay after handler
// failures; commitGrace bounds an offset commit finishing after the
// poll context is cancelled.
const (
	retryBackoffCap = 30 * time.Second
	commitGrace     = 5 * time.Second
)

// NewConsumer builds the group client. Construction validates
// configuration only; the broker is first contacted by Ping or Run, so
// the worker lifecycle can own connect-time retry policy.
func NewConsumer(cfg config.Broker, logger *slog.Logger) (*Consumer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Seeds...),
		kgo.ConsumeTopics(cfg.Exchange),
		kgo.ConsumerGroup(cfg.Group),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("new consumer client: %w", err)
	}
	return &Consumer{
		client:  client,
		logger:  logger,
		tracer:  otel.Tracer("workforce/platform/kafka"),
		backoff: time.Second,
	}, nil
}

// Ping reports whether the broker currently answers.
func (c *Consumer) Ping(ctx context.Context) error {
	return c.client.Ping(ctx)
}

// Run consumes until ctx is cancelled. In-flight handler work is
// allowed to finish before Run returns. Offsets are committed strictly
// per acknowledged record, so records polled but not yet handled at
// shutdown are redelivered, never silently acked.
func (c *Consumer) Run(ctx context.Context, handler Handler) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			// Transient fetch errors: the client reconnects and
			// refetches on its own, we only surface them.
			c.logger.Warn("fetch error",
				"topic", topic,
				"partition", partition,
				"error", err,
			)
		})

		iter := fetches.RecordIter()
		for !iter.Done() {
			rec := iter.Next()
			if err := c.process(ctx, rec, handler); err != nil {
				return err
			}
		}
	}
}

// process drives one record through the handler, retrying with capped
// backoff until it is acknowledged or the context is cancelled.
func (c *Consumer) process(ctx context.Context, rec *kgo.Record, handler Handler) error {
	msg := &Message{
		Topic:      rec.Topic,
		Partition:  rec.Partition,
		Offset:     rec.Offset,
		Key:        rec.Key,
		Value:      rec.Value,
		RoutingKey: headerValue(rec, HeaderRoutingKey),
	}

	backoff := c.backoff
	for {
		hctx, span := c.tracer.Start(ctx, "kafka.consume", trace.WithSpanKind(trace.SpanKindConsumer))
		span.SetAttributes(
			attribute.String("messaging.source", msg.Topic),
			attribute.String("messaging.routing_key", msg.RoutingKey),
			attribute.Int64("messaging.offset", msg.Offset),
		)
		err := handler(hctx, msg)
		if err != nil {
			span.RecordError(err)
		}
		span.End()

		if err == nil {
			// The handler has persisted the record; commit its offset
			// even when shutdown has cancelled the poll context, or
			// every clean stop would force a redelivery.
			commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitGrace)
			cerr := c.client.CommitRecords(commitCtx, rec)
			cancel()
			if cerr != nil {
				c.logger.Warn("commit failed, delivery may repeat",
					"topic", msg.Topic,
					"offset", msg.Offset,
					"error", cerr,
				)
			}
			return nil
		}

		c.logger.Error("message handling failed, retrying",
			"topic", msg.Topic,
			"offset", msg.Offset,
			"backoff", backoff,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > retryBackoffCap {
			backoff = retryBackoffCap
		}
	}
}

// Close leaves the group and releases the connection.
func (c *Consumer) Close() {
	c.client.Close()
}

func headerValue(rec *kgo.Record, key string) string {
	for _, h := range rec.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
