// Package memory holds an in-memory audit store for unit tests and
// local experiments. Semantics mirror the Postgres store: idempotent
// insert on event ID, per-entity queries ordered oldest first.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"workforce/pkg/audit"
)

type Store struct {
	mu      sync.RWMutex
	seq     int64
	records []audit.Record
	seen    map[uuid.UUID]struct{}
}

func New() *Store {
	return &Store{seen: make(map[uuid.UUID]struct{})}
}

func (s *Store) Insert(_ context.Context, rec audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.seen[rec.EventID]; dup {
		return nil
	}
	s.seq++
	rec.Seq = s.seq
	s.seen[rec.EventID] = struct{}{}
	s.records = append(s.records, rec)
	return nil
}

func (s *Store) QueryByEntity(_ context.Context, entityType, entityID string) ([]audit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []audit.Record{}
	for _, rec := range s.records {
		if rec.EntityType == entityType && rec.EntityID == entityID {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Seq < out[j].Seq
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

func (s *Store) CountByEntityType(_ context.Context) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int64)
	for _, rec := range s.records {
		counts[rec.EntityType]++
	}
	return counts, nil
}

// Len reports the total number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
