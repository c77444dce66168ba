package memory

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workforce/pkg/audit"
)

func record(entityID string, ts time.Time) audit.Record {
	return audit.Record{
		EventID:    uuid.New(),
		EventType:  audit.EventEmployeeUpdated,
		EntityType: audit.EntityEmployee,
		EntityID:   entityID,
		Timestamp:  ts,
		After:      json.RawMessage(`{"salary":55000}`),
	}
}

func TestInsertIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New()

	rec := record("E42", time.Now().UTC())
	require.NoError(t, s.Insert(ctx, rec))
	require.NoError(t, s.Insert(ctx, rec))

	got, err := s.QueryByEntity(ctx, audit.EntityEmployee, "E42")
	require.NoError(t, err)
	assert.Len(t, got, 1, "duplicate event ID must not add a second record")
}

func TestQueryByEntityOrdering(t *testing.T) {
	ctx := context.Background()
	s := New()

	base := time.Now().UTC()
	second := record("E42", base.Add(time.Second))
	first := record("E42", base)
	other := record("E99", base)

	// Insert out of order; query must sort by timestamp.
	require.NoError(t, s.Insert(ctx, second))
	require.NoError(t, s.Insert(ctx, first))
	require.NoError(t, s.Insert(ctx, other))

	got, err := s.QueryByEntity(ctx, audit.EntityEmployee, "E42")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, first.EventID, got[0].EventID)
	assert.Equal(t, second.EventID, got[1].EventID)
}

func TestQueryByEntityEmpty(t *testing.T) {
	s := New()
	got, err := s.QueryByEntity(context.Background(), audit.EntityProject, "P1")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestCountByEntityType(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.Insert(ctx, record("E1", time.Now())))
	require.NoError(t, s.Insert(ctx, record("E2", time.Now())))

	task := audit.Record{
		EventID:    uuid.New(),
		EventType:  audit.EventTaskCompleted,
		EntityType: audit.EntityTask,
		EntityID:   "T1",
		Timestamp:  time.Now().UTC(),
	}
	require.NoError(t, s.Insert(ctx, task))

	counts, err := s.CountByEntityType(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[audit.EntityEmployee])
	assert.Equal(t, int64(1), counts[audit.EntityTask])
}
