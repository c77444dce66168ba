// Package postgres implements the audit log store on PostgreSQL.
// Before/after snapshots stay opaque JSONB blobs: the pipeline assumes
// no schema for business-entity state beyond JSON round-tripping.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"workforce/pkg/audit"
)

// Store persists audit records in the audit_logs table.
type Store struct {
	db *sql.DB
}

// New wraps an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the audit_logs table when absent. Full
// migration tooling for the audit store is deliberately out of scope;
// this keeps the worker runnable against an empty dev database.
func (s *Store) EnsureSchema(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS audit_logs (
			seq         BIGSERIAL PRIMARY KEY,
			event_id    UUID NOT NULL UNIQUE,
			event_type  TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id   TEXT NOT NULL,
			actor       TEXT,
			timestamp   TIMESTAMPTZ NOT NULL,
			before      JSONB,
			after       JSONB
		);
		CREATE INDEX IF NOT EXISTS audit_logs_entity_idx
			ON audit_logs (entity_type, entity_id, timestamp);
	`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure audit schema: %w", err)
	}
	return nil
}

// Insert appends one audit record. Duplicate event IDs are ignored via
// ON CONFLICT DO NOTHING so broker redelivery never produces duplicate
// rows.
func (s *Store) Insert(ctx context.Context, rec audit.Record) error {
	const query = `
		INSERT INTO audit_logs (
			event_id, event_type, entity_type, entity_id,
			actor, timestamp, before, after
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (event_id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.EventID,
		string(rec.EventType),
		rec.EntityType,
		rec.EntityID,
		nullable(rec.Actor),
		rec.Timestamp,
		rawOrNil(rec.Before),
		rawOrNil(rec.After),
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

// QueryByEntity returns the audit trail for one entity, oldest first.
func (s *Store) QueryByEntity(ctx context.Context, entityType, entityID string) ([]audit.Record, error) {
	const query = `
		SELECT seq, event_id, event_type, entity_type, entity_id,
		       actor, timestamp, before, after
		FROM audit_logs
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY timestamp ASC, seq ASC
	`
	rows, err := s.db.QueryContext(ctx, query, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// CountByEntityType aggregates record counts per entity label.
func (s *Store) CountByEntityType(ctx context.Context) (map[string]int64, error) {
	const query = `
		SELECT entity_type, COUNT(*)
		FROM audit_logs
		GROUP BY entity_type
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("count audit records: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var entityType string
		var n int64
		if err := rows.Scan(&entityType, &n); err != nil {
			return nil, fmt.Errorf("scan audit count: %w", err)
		}
		counts[entityType] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit counts: %w", err)
	}
	return counts, nil
}

func scanRecords(rows *sql.Rows) ([]audit.Record, error) {
	records := []audit.Record{}
	for rows.Next() {
		var (
			rec     audit.Record
			eventID uuid.UUID
			actor   sql.NullString
			before  []byte
			after   []byte
		)
		err := rows.Scan(
			&rec.Seq,
			&eventID,
			&rec.EventType,
			&rec.EntityType,
			&rec.EntityID,
			&actor,
			&rec.Timestamp,
			&before,
			&after,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		rec.EventID = eventID
		rec.Actor = actor.String
		rec.Before = before
		rec.After = after
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}
	return records, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func rawOrNil(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}
