// Package outbox is the transactional publish path. Callers that must
// not lose an audit event during a broker outage append the envelope to
// the audit_outbox table inside their own business transaction; the
// Relay drains pending rows to the broker afterwards. This trades the
// direct publisher's immediacy for durability: the business operation
// and its audit intent commit or roll back together.
package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"workforce/pkg/audit"
	txcontext "workforce/pkg/platform/tx"
)

// Outbox appends envelopes to the pending table. If the caller's
// context carries a *sql.Tx (pkg/platform/tx), the append joins that
// transaction.
type Outbox struct {
	db *sql.DB
}

// New wraps an open database handle.
func New(db *sql.DB) *Outbox {
	return &Outbox{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (o *Outbox) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return o.db
}

// EnsureSchema creates the outbox table when absent.
func (o *Outbox) EnsureSchema(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS audit_outbox (
			id            BIGSERIAL PRIMARY KEY,
			routing_key   TEXT NOT NULL,
			partition_key TEXT NOT NULL,
			payload       BYTEA NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
			published_at  TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS audit_outbox_pending_idx
			ON audit_outbox (id) WHERE published_at IS NULL;
	`
	if _, err := o.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure outbox schema: %w", err)
	}
	return nil
}

// Append stamps and stores an envelope for later relay. Like the
// direct publisher, it fails fast on an unmapped event type.
func (o *Outbox) Append(ctx context.Context, eventType audit.EventType, data audit.Change) error {
	route, err := eventType.Route()
	if err != nil {
		return err
	}
	env := audit.NewEnvelope(eventType, data)
	body, err := env.MarshalWire()
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO audit_outbox (routing_key, partition_key, payload)
		VALUES ($1, $2, $3)
	`
	if _, err := o.execer(ctx).ExecContext(ctx, query, route.Key, data.EntityID, body); err != nil {
		return fmt.Errorf("append outbox entry: %w", err)
	}
	return nil
}

// entry is one pending outbox row.
type entry struct {
	id           int64
	routingKey   string
	partitionKey string
	payload      []byte
}

// pending loads up to limit unpublished rows, oldest first. Insertion
// order is the only ordering the relay preserves.
func (o *Outbox) pending(ctx context.Context, limit int) ([]entry, error) {
	const query = `
		SELECT id, routing_key, partition_key, payload
		FROM audit_outbox
		WHERE published_at IS NULL
		ORDER BY id ASC
		LIMIT $1
	`
	rows, err := o.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("load pending outbox entries: %w", err)
	}
	defer rows.Close()

	var entries []entry
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.id, &e.routingKey, &e.partitionKey, &e.payload); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox entries: %w", err)
	}
	return entries, nil
}

// markPublished stamps a row once the broker has acknowledged it.
func (o *Outbox) markPublished(ctx context.Context, id int64) error {
	const query = `UPDATE audit_outbox SET published_at = $1 WHERE id = $2`
	if _, err := o.db.ExecContext(ctx, query, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("mark outbox entry published: %w", err)
	}
	return nil
}
