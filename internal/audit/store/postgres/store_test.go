package postgres

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workforce/pkg/audit"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func TestInsertUsesConflictClause(t *testing.T) {
	s, mock := newMock(t)

	rec := audit.Record{
		EventID:    uuid.New(),
		EventType:  audit.EventEmployeeUpdated,
		EntityType: audit.EntityEmployee,
		EntityID:   "E42",
		Actor:      "admin",
		Timestamp:  time.Now().UTC(),
		Before:     json.RawMessage(`{"salary":50000}`),
		After:      json.RawMessage(`{"salary":55000}`),
	}

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (event_id) DO NOTHING")).
		WithArgs(
			rec.EventID,
			string(rec.EventType),
			rec.EntityType,
			rec.EntityID,
			rec.Actor,
			rec.Timestamp,
			[]byte(rec.Before),
			[]byte(rec.After),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Insert(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertDuplicateIsNoop(t *testing.T) {
	s, mock := newMock(t)

	rec := audit.Record{
		EventID:    uuid.New(),
		EventType:  audit.EventTaskCreated,
		EntityType: audit.EntityTask,
		EntityID:   "T7",
		Timestamp:  time.Now().UTC(),
	}

	// Zero rows affected (conflict) still succeeds.
	mock.ExpectExec("INSERT INTO audit_logs").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.Insert(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryByEntityOrdersAscending(t *testing.T) {
	s, mock := newMock(t)

	first := uuid.New()
	second := uuid.New()
	base := time.Now().UTC()

	rows := sqlmock.NewRows([]string{
		"seq", "event_id", "event_type", "entity_type", "entity_id",
		"actor", "timestamp", "before", "after",
	}).
		AddRow(int64(1), first, "EmployeeCreated", "Employee", "E42", nil, base, nil, []byte(`{"name":"Ada"}`)).
		AddRow(int64(2), second, "EmployeeUpdated", "Employee", "E42", "admin", base.Add(time.Second), []byte(`{"salary":50000}`), []byte(`{"salary":55000}`))

	mock.ExpectQuery("ORDER BY timestamp ASC, seq ASC").
		WithArgs("Employee", "E42").
		WillReturnRows(rows)

	got, err := s.QueryByEntity(context.Background(), "Employee", "E42")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, first, got[0].EventID)
	assert.Equal(t, second, got[1].EventID)
	assert.Equal(t, "admin", got[1].Actor)
	assert.JSONEq(t, `{"salary":55000}`, string(got[1].After))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryByEntityEmptyResult(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery("FROM audit_logs").
		WithArgs("Project", "P1").
		WillReturnRows(sqlmock.NewRows([]string{
			"seq", "event_id", "event_type", "entity_type", "entity_id",
			"actor", "timestamp", "before", "after",
		}))

	got, err := s.QueryByEntity(context.Background(), "Project", "P1")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestCountByEntityType(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery("GROUP BY entity_type").
		WillReturnRows(sqlmock.NewRows([]string{"entity_type", "count"}).
			AddRow("Employee", int64(12)).
			AddRow("LeaveRequest", int64(3)))

	counts, err := s.CountByEntityType(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(12), counts["Employee"])
	assert.Equal(t, int64(3), counts["LeaveRequest"])
}
