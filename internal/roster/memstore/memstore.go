// Package memstore provides an in-memory implementation of roster.Store.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/linnemanlabs/payslipd/internal/identity"
	"github.com/linnemanlabs/payslipd/internal/roster"
)

// Store holds roster entries in memory, grouped by unit in insertion order.
type Store struct {
	mu     sync.RWMutex
	byUnit map[string][]roster.Entry
}

// New initializes a Store seeded with entries.
func New(entries ...roster.Entry) *Store {
	s := &Store{byUnit: make(map[string][]roster.Entry)}
	s.Load(entries)
	return s
}

// Load replaces the roster with entries, filling in NormalizedName.
func (s *Store) Load(entries []roster.Entry) {
	byUnit := make(map[string][]roster.Entry)
	for _, e := range entries {
		if e.NormalizedName == "" {
			e.NormalizedName = identity.Normalize(e.FullName)
		}
		byUnit[e.Unit] = append(byUnit[e.Unit], e)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byUnit = byUnit
}

// FindByUnit returns a copy of the unit's entries.
func (s *Store) FindByUnit(_ context.Context, unit string) ([]roster.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.byUnit[unit]
	if len(src) == 0 {
		return nil, nil
	}
	out := make([]roster.Entry, len(src))
	copy(out, src)
	return out, nil
}

// Units lists every unit with its entry count, sorted by name.
func (s *Store) Units(_ context.Context) ([]roster.UnitCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]roster.UnitCount, 0, len(s.byUnit))
	for u, es := range s.byUnit {
		out = append(out, roster.UnitCount{Unit: u, Employees: len(es)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Unit < out[j].Unit })
	return out, nil
}
