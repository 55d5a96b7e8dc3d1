package correlate

import (
	"context"
	"sync"
	"time"

	"github.com/solventry/paysdk/internal/rail"
)

// MemoryStore is the default Store. Entries do not survive a process
// restart; an external round trip in flight when the process dies is lost.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[rail.Rail]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[rail.Rail]Entry),
	}
}

func (s *MemoryStore) Put(ctx context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.Rail] = e
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, r rail.Rail) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[r]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (s *MemoryStore) Delete(ctx context.Context, r rail.Rail) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, r)
	return nil
}

func (s *MemoryStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int
	for r, e := range s.entries {
		if e.IssuedAt.Before(cutoff) {
			delete(s.entries, r)
			removed++
		}
	}
	return removed, nil
}
