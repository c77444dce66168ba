package outbox

import (
	"context"
	"log/slog"
	"time"

	"workforce/internal/audit/publisher"
)

// Relay drains pending outbox rows to the broker. It runs inside the
// transactional-service process and survives broker outages: rows stay
// pending until acknowledged, and the sweep backs off while the broker
// is down.
type Relay struct {
	outbox   *Outbox
	broker   publisher.Broker
	logger   *slog.Logger
	interval time.Duration
	batch    int
}

// NewRelay builds a relay polling at interval, publishing at most
// batch rows per sweep.
func NewRelay(outbox *Outbox, broker publisher.Broker, logger *slog.Logger, interval time.Duration, batch int) *Relay {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if batch <= 0 {
		batch = 100
	}
	return &Relay{
		outbox:   outbox,
		broker:   broker,
		logger:   logger,
		interval: interval,
		batch:    batch,
	}
}

// relayBackoffCap bounds the sweep delay after broker failures.
const relayBackoffCap = time.Minute

// Run sweeps until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	backoff := r.interval
	for {
		n, err := r.sweep(ctx)
		switch {
		case err != nil:
			r.logger.Warn("outbox sweep failed", "error", err, "backoff", backoff)
			if backoff *= 2; backoff > relayBackoffCap {
				backoff = relayBackoffCap
			}
		case n > 0:
			// Keep draining while there is work.
			backoff = 0
		default:
			backoff = r.interval
		}

		if backoff == 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// sweep publishes one batch of pending rows in insertion order. A
// publish failure stops the sweep so ordering within the batch holds;
// already-acknowledged rows are marked and not resent.
func (r *Relay) sweep(ctx context.Context) (int, error) {
	entries, err := r.outbox.pending(ctx, r.batch)
	if err != nil {
		return 0, err
	}
	for i, e := range entries {
		if err := r.broker.Publish(ctx, e.routingKey, []byte(e.partitionKey), e.payload); err != nil {
			return i, err
		}
		if err := r.outbox.markPublished(ctx, e.id); err != nil {
			// The broker has the message; if marking fails the row is
			// resent next sweep and the consumer dedups on event ID.
			return i, err
		}
	}
	return len(entries), nil
}
