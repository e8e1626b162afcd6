// Package memstore provides an in-memory implementation of archive.Store.
package memstore

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/linnemanlabs/feedforward/internal/archive"
)

// DefaultRetain is how many batches New keeps.
const DefaultRetain = 1000

// Store holds the newest batches in memory. Suitable for dev/testing.
type Store struct {
	mu      sync.RWMutex
	batches map[string]*archive.Batch
	retain  int
}

// New initializes a new in-memory Store keeping DefaultRetain batches.
func New() *Store {
	return NewWithRetain(DefaultRetain)
}

// NewWithRetain keeps at most n batches, evicting the oldest. n <= 0 means
// DefaultRetain.
func NewWithRetain(n int) *Store {
	if n <= 0 {
		n = DefaultRetain
	}
	return &Store{batches: make(map[string]*archive.Batch), retain: n}
}

// Get retrieves a batch by its ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*archive.Batch, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.batches[id]
	if !ok {
		return nil, false, nil
	}
	return clone(b), true, nil
}

// Put stores a copy of the batch.
func (s *Store) Put(_ context.Context, b *archive.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[b.ID] = clone(b)
	for len(s.batches) > s.retain {
		delete(s.batches, s.oldestLocked())
	}
	return nil
}

func (s *Store) oldestLocked() string {
	var oldest *archive.Batch
	for _, b := range s.batches {
		if oldest == nil || newer(oldest, b) < 0 {
			oldest = b
		}
	}
	return oldest.ID
}

// newer orders a before b when a is the more recent batch. ULIDs sort by
// creation time, so the ID breaks timestamp ties.
func newer(a, b *archive.Batch) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(b.ID, a.ID)
}

// Recent returns up to n batches, newest first.
func (s *Store) Recent(_ context.Context, n int) ([]*archive.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*archive.Batch, 0, len(s.batches))
	for _, b := range s.batches {
		out = append(out, clone(b))
	}
	slices.SortFunc(out, newer)
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func clone(b *archive.Batch) *archive.Batch {
	cp := *b
	cp.Results = slices.Clone(b.Results)
	return &cp
}
