// Package worker is the audit consumer: a standalone process that
// subscribes to the exchange, persists envelopes into the audit log,
// and acknowledges deliveries only after persistence succeeds.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"workforce/internal/audit/store"
	"workforce/internal/platform/kafka"
	"workforce/pkg/audit"
)

// State is the worker lifecycle position. Transitions:
// Stopped → Starting → Consuming → Stopping → Stopped, with Faulted
// terminal from Starting or Consuming on unrecoverable errors.
type State string

const (
	StateStopped   State = "stopped"
	StateStarting  State = "starting"
	StateConsuming State = "consuming"
	StateStopping  State = "stopping"
	StateFaulted   State = "faulted"
)

// persistGrace bounds a store write that outlives its delivery
// context, so shutdown waits for the write instead of aborting it.
const persistGrace = 30 * time.Second

// Consumer is the slice of the broker subscription the worker drives.
type Consumer interface {
	Ping(ctx context.Context) error
	Run(ctx context.Context, handler kafka.Handler) error
}

// Deduper short-circuits redeliveries already known to be persisted.
type Deduper interface {
	Seen(ctx context.Context, eventID uuid.UUID) bool
	Mark(ctx context.Context, eventID uuid.UUID)
}

// Worker consumes deliveries one at a time and persists them.
type Worker struct {
	consumer Consumer
	store    store.Store
	dedup    Deduper
	logger   *slog.Logger
	metrics  *Metrics

	startBackoffMax time.Duration
	state           atomic.Value // State
}

// Option configures the Worker.
type Option func(*Worker)

// WithDedup installs a duplicate short-circuit cache.
func WithDedup(d Deduper) Option {
	return func(w *Worker) { w.dedup = d }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// WithStartBackoffMax caps the reconnect backoff while the broker is
// unreachable during startup.
func WithStartBackoffMax(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.startBackoffMax = d
		}
	}
}

// New builds a worker over an existing subscription and store.
func New(consumer Consumer, st store.Store, logger *slog.Logger, opts ...Option) *Worker {
	w := &Worker{
		consumer:        consumer,
		store:           st,
		logger:          logger,
		startBackoffMax: 30 * time.Second,
	}
	w.state.Store(StateStopped)
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	return w.state.Load().(State)
}

// Healthy reports whether the worker entered Consuming and has not
// since faulted. The HTTP health surface exposes this as the
// worker_health check.
func (w *Worker) Healthy() bool {
	return w.State() == StateConsuming
}

func (w *Worker) setState(s State) {
	w.state.Store(s)
	w.logger.Info("worker state changed", "state", string(s))
	if w.metrics != nil {
		w.metrics.SetState(s)
	}
}

// Run drives the lifecycle until ctx is cancelled. While the broker is
// unreachable at startup the worker stays unhealthy and retries with
// capped exponential backoff rather than crash-looping; once the
// broker answers it transitions to Consuming without operator help.
// A non-broker failure of the consuming loop is unrecoverable and
// leaves the worker Faulted.
func (w *Worker) Run(ctx context.Context) error {
	w.setState(StateStarting)

	if err := w.awaitBroker(ctx); err != nil {
		// Only context cancellation exits awaitBroker.
		w.setState(StateStopped)
		return err
	}

	w.setState(StateConsuming)
	err := w.consumer.Run(ctx, w.handle)

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		w.setState(StateFaulted)
		return fmt.Errorf("consume loop: %w", err)
	}

	w.setState(StateStopping)
	// Any write started before the stop signal has finished by now:
	// handle runs the persist on a context detached from delivery
	// cancellation, and Consumer.Run returns only after the handler.
	w.setState(StateStopped)
	return err
}

// awaitBroker pings until the broker answers or ctx is cancelled.
func (w *Worker) awaitBroker(ctx context.Context) error {
	backoff := time.Second
	if backoff > w.startBackoffMax {
		backoff = w.startBackoffMax
	}
	for {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := w.consumer.Ping(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		w.logger.Warn("broker unreachable, retrying",
			"backoff", backoff,
			"error", fmt.Errorf("%w: %v", audit.ErrBrokerUnavailable, err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > w.startBackoffMax {
			backoff = w.startBackoffMax
		}
	}
}

// handle processes one delivery. Returning nil acknowledges the
// message; returning an error leaves it unacknowledged for redelivery.
// Malformed messages are logged and acknowledged so a poison message
// never wedges the queue; persistence failures are returned so the
// event is retried and never silently lost.
func (w *Worker) handle(ctx context.Context, msg *kafka.Message) error {
	if w.metrics != nil {
		w.metrics.IncConsumed()
	}
	start := time.Now()

	env, err := audit.UnmarshalWire(msg.Value)
	if err != nil {
		w.logMalformed(ctx, msg, err)
		return nil
	}

	rec, err := env.ToRecord()
	if err != nil {
		// An event type this build cannot map is indistinguishable
		// from a malformed message at this end: skip, keep consuming.
		w.logMalformed(ctx, msg, err)
		return nil
	}

	if w.dedup != nil && w.dedup.Seen(ctx, env.EventID) {
		if w.metrics != nil {
			w.metrics.IncDuplicates()
		}
		w.logger.DebugContext(ctx, "duplicate delivery skipped",
			"event_id", env.EventID,
			"routing_key", msg.RoutingKey,
		)
		return nil
	}

	// A stop signal must not abort a write already on the wire: the
	// persist runs detached from delivery cancellation, bounded by a
	// grace window instead.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistGrace)
	defer cancel()

	if err := w.store.Insert(persistCtx, rec); err != nil {
		if w.metrics != nil {
			w.metrics.IncPersistFailures()
		}
		w.logger.ErrorContext(ctx, "audit persistence failed",
			"event_id", env.EventID,
			"entity_type", rec.EntityType,
			"entity_id", rec.EntityID,
			"error", err,
		)
		return fmt.Errorf("persist event %s: %w", env.EventID, err)
	}

	if w.dedup != nil {
		w.dedup.Mark(persistCtx, env.EventID)
	}
	if w.metrics != nil {
		w.metrics.IncPersisted()
		w.metrics.ObserveProcessDuration(time.Since(start).Seconds())
	}
	w.logger.DebugContext(ctx, "audit record persisted",
		"event_id", env.EventID,
		"event_type", env.EventType,
		"entity_type", rec.EntityType,
		"entity_id", rec.EntityID,
	)
	return nil
}

func (w *Worker) logMalformed(ctx context.Context, msg *kafka.Message, err error) {
	if w.metrics != nil {
		w.metrics.IncMalformed()
	}
	w.logger.ErrorContext(ctx, "malformed audit message skipped",
		"topic", msg.Topic,
		"partition", msg.Partition,
		"offset", msg.Offset,
		"routing_key", msg.RoutingKey,
		"error", err,
	)
}
