//go:build integration

// End-to-end pipeline tests against real infrastructure: publish to a
// Redpanda broker, consume with the worker, persist into Postgres,
// query back.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workforce/internal/audit/dedup"
	"workforce/internal/audit/publisher"
	auditpg "workforce/internal/audit/store/postgres"
	"workforce/internal/audit/worker"
	"workforce/internal/platform/config"
	"workforce/internal/platform/kafka"
	"workforce/pkg/audit"
	"workforce/pkg/testutil/containers"
)

type pipeline struct {
	store *auditpg.Store
	pub   *publisher.Publisher
}

func startPipeline(t *testing.T) *pipeline {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	pg := containers.NewPostgresContainer(t)
	broker := containers.NewRedpandaContainer(t)

	cfg := config.Broker{
		Seeds:      []string{broker.Seed},
		Exchange:   "workforce.events",
		Group:      "workforce.audit",
		Partitions: 3,
	}

	st := auditpg.New(pg.DB)
	require.NoError(t, st.EnsureSchema(ctx))

	producer, err := kafka.NewProducer(ctx, cfg, logger)
	require.NoError(t, err)
	t.Cleanup(producer.Close)

	consumer, err := kafka.NewConsumer(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(consumer.Close)

	w := worker.New(consumer, st, logger)
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- w.Run(runCtx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(30 * time.Second):
			t.Log("worker did not stop in time")
		}
	})

	require.Eventually(t, w.Healthy, 30*time.Second, 100*time.Millisecond,
		"worker must reach the consuming state")

	return &pipeline{
		store: st,
		pub:   publisher.New(producer, publisher.WithLogger(logger)),
	}
}

func (p *pipeline) waitForRecords(t *testing.T, entityType, entityID string, n int) []audit.Record {
	t.Helper()
	var records []audit.Record
	require.Eventually(t, func() bool {
		var err error
		records, err = p.store.QueryByEntity(context.Background(), entityType, entityID)
		return err == nil && len(records) >= n
	}, 30*time.Second, 100*time.Millisecond)
	return records
}

func TestRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	p := startPipeline(t)
	ctx := context.Background()

	err := p.pub.Publish(ctx, audit.EventEmployeeUpdated, audit.Change{
		EntityID: "E42",
		Actor:    "admin@acme.test",
		Before:   json.RawMessage(`{"salary":50000}`),
		After:    json.RawMessage(`{"salary":55000}`),
	})
	require.NoError(t, err)

	records := p.waitForRecords(t, audit.EntityEmployee, "E42", 1)
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, audit.EventEmployeeUpdated, rec.EventType)
	assert.Equal(t, audit.EntityEmployee, rec.EntityType)
	assert.Equal(t, "E42", rec.EntityID)
	assert.Equal(t, "admin@acme.test", rec.Actor)
	assert.JSONEq(t, `{"salary":50000}`, string(rec.Before))
	assert.JSONEq(t, `{"salary":55000}`, string(rec.After))
}

func TestPerEntityOrdering(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	p := startPipeline(t)
	ctx := context.Background()

	const n = 20
	for i := 0; i < n; i++ {
		err := p.pub.Publish(ctx, audit.EventTaskUpdated, audit.Change{
			EntityID: "T1",
			After:    json.RawMessage(fmt.Sprintf(`{"rev":%d}`, i)),
		})
		require.NoError(t, err)
	}

	records := p.waitForRecords(t, audit.EntityTask, "T1", n)
	require.Len(t, records, n)
	for i, rec := range records {
		assert.JSONEq(t, fmt.Sprintf(`{"rev":%d}`, i), string(rec.After),
			"publish order must be preserved per entity")
	}
}

func TestDuplicateDeliveryWithDedupCache(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	pg := containers.NewPostgresContainer(t)
	broker := containers.NewRedpandaContainer(t)
	rds := containers.NewRedisContainer(t)

	cfg := config.Broker{
		Seeds:      []string{broker.Seed},
		Exchange:   "workforce.events",
		Group:      "workforce.audit",
		Partitions: 3,
	}

	st := auditpg.New(pg.DB)
	require.NoError(t, st.EnsureSchema(ctx))

	cache := dedup.New(rds.Client, time.Hour)

	producer, err := kafka.NewProducer(ctx, cfg, logger)
	require.NoError(t, err)
	t.Cleanup(producer.Close)

	consumer, err := kafka.NewConsumer(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(consumer.Close)

	w := worker.New(consumer, st, logger, worker.WithDedup(cache))
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- w.Run(runCtx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(30 * time.Second):
			t.Log("worker did not stop in time")
		}
	})
	require.Eventually(t, w.Healthy, 30*time.Second, 100*time.Millisecond)

	// Publish the same pre-stamped envelope twice, as the outbox relay
	// does when a mark-published write is lost after broker ack.
	env := audit.NewEnvelope(audit.EventDepartmentUpdated, audit.Change{EntityID: "D5"})
	body, err := env.MarshalWire()
	require.NoError(t, err)
	route, err := env.EventType.Route()
	require.NoError(t, err)
	require.NoError(t, producer.Publish(ctx, route.Key, []byte("D5"), body))
	require.NoError(t, producer.Publish(ctx, route.Key, []byte("D5"), body))

	var records []audit.Record
	require.Eventually(t, func() bool {
		var qerr error
		records, qerr = st.QueryByEntity(ctx, audit.EntityDepartment, "D5")
		return qerr == nil && len(records) >= 1
	}, 30*time.Second, 100*time.Millisecond)

	require.Eventually(t, func() bool {
		return cache.Seen(ctx, env.EventID)
	}, 10*time.Second, 100*time.Millisecond, "persisted event is marked in the cache")

	records, err = st.QueryByEntity(ctx, audit.EntityDepartment, "D5")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestIdempotentRedelivery(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	p := startPipeline(t)
	ctx := context.Background()

	// Simulate redelivery by inserting the same record twice at the
	// store level, then confirm the query side stays duplicate-free.
	env := audit.NewEnvelope(audit.EventLeaveApproved, audit.Change{EntityID: "L3"})
	rec, err := env.ToRecord()
	require.NoError(t, err)
	require.NoError(t, p.store.Insert(ctx, rec))
	require.NoError(t, p.store.Insert(ctx, rec))

	records, err := p.store.QueryByEntity(ctx, audit.EntityLeaveRequest, "L3")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}
