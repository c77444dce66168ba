// Package store defines the audit log persistence contract. The audit
// trail is append-only: there are no update or delete operations, and
// inserts are idempotent on event ID to absorb at-least-once
// redelivery from the broker.
package store

import (
	"context"

	"workforce/pkg/audit"
)

//go:generate mockgen -destination=mocks/store_mock.go -package=mocks workforce/internal/audit/store Store

// Store persists and queries audit records.
type Store interface {
	// Insert appends a record. A second insert with the same EventID
	// is a no-op, not an error.
	Insert(ctx context.Context, rec audit.Record) error

	// QueryByEntity returns the full audit trail for one business
	// object, ordered by timestamp ascending (insertion sequence
	// breaks ties). An entity with no history yields an empty slice.
	QueryByEntity(ctx context.Context, entityType, entityID string) ([]audit.Record, error)

	// CountByEntityType returns record counts grouped by entity
	// label. Read-only aggregation behind the summary endpoint.
	CountByEntityType(ctx context.Context) (map[string]int64, error)
}
