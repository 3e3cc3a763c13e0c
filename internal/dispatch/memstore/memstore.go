// Package memstore provides an in-memory implementation of dispatch.AuditStore.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/linnemanlabs/payslipd/internal/dispatch"
)

// Store holds audit records in memory. Suitable for dev/testing.
type Store struct {
	mu      sync.RWMutex
	records []dispatch.Record // insertion order
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{}
}

// RecordSend stores a copy of rec.
func (s *Store) RecordSend(_ context.Context, rec *dispatch.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, *rec)
	return nil
}

// List returns records newest first, filtered by unit when q.Unit is set.
func (s *Store) List(_ context.Context, q dispatch.HistoryQuery) ([]dispatch.Record, int, error) {
	q = q.Normalize()

	s.mu.RLock()
	matched := make([]dispatch.Record, 0, len(s.records))
	for i := len(s.records) - 1; i >= 0; i-- {
		if q.Unit == "" || s.records[i].Unit == q.Unit {
			matched = append(matched, s.records[i])
		}
	}
	s.mu.RUnlock()

	// newest first; equal timestamps keep reverse insertion order
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	lo := min(q.Offset(), total)
	hi := min(lo+q.Limit, total)
	return matched[lo:hi], total, nil
}
