package checkpoint

import (
	"context"
	"sync"
	"time"
)

// MemStore is an in-process Store with TTL-based sweeping and an LRU count
// cap. Suitable for tests and single-process deployments that do not need
// durability.
type MemStore struct {
	mu      sync.Mutex
	records map[string]Checkpoint
	metrics map[string]Metrics

	// order tracks recency for LRU eviction; most recent last.
	order []string

	maxCount int
	now      func() time.Time
}

// NewMemStore creates a MemStore capped at maxCount records (0 means
// unbounded).
func NewMemStore(maxCount int) *MemStore {
	return &MemStore{
		records:  make(map[string]Checkpoint),
		metrics:  make(map[string]Metrics),
		maxCount: maxCount,
		now:      time.Now,
	}
}

// Save implements Store.
func (s *MemStore) Save(_ context.Context, cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[cp.ID]; exists {
		s.touch(cp.ID)
	} else {
		s.order = append(s.order, cp.ID)
	}
	s.records[cp.ID] = cp

	if s.maxCount > 0 {
		for len(s.records) > s.maxCount {
			oldest := s.order[0]
			s.order = s.order[1:]
			delete(s.records, oldest)
			delete(s.metrics, oldest)
		}
	}
	return nil
}

// SaveMetrics implements Store.
func (s *MemStore) SaveMetrics(_ context.Context, m Metrics) error {
	s.mu.Lock()
	s.metrics[m.CheckpointID] = m
	s.mu.Unlock()
	return nil
}

// Get implements Store.
func (s *MemStore) Get(_ context.Context, id string) (Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, ok := s.records[id]
	if !ok {
		return Checkpoint{}, ErrNotFound
	}
	s.touch(id)
	return cp, nil
}

// GetMetrics returns the metrics row for a checkpoint, if recorded.
func (s *MemStore) GetMetrics(_ context.Context, id string) (Metrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.metrics[id]
	if !ok {
		return Metrics{}, ErrNotFound
	}
	return m, nil
}

// List implements Store: newest first.
func (s *MemStore) List(_ context.Context, limit int) ([]Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Checkpoint, 0, len(s.records))
	for i := len(s.order) - 1; i >= 0; i-- {
		if cp, ok := s.records[s.order[i]]; ok {
			out = append(out, cp)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// Sweep implements Store.
func (s *MemStore) Sweep(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	kept := s.order[:0]
	for _, id := range s.order {
		cp, ok := s.records[id]
		if !ok {
			continue
		}
		if cp.CreatedAt.Before(cutoff) {
			delete(s.records, id)
			delete(s.metrics, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return removed, nil
}

// Close implements Store.
func (s *MemStore) Close() error { return nil }

// touch moves id to the most-recent position. Caller holds the lock.
func (s *MemStore) touch(id string) {
	for i, existing := range s.order {
		if existing == id {
			s.order = append(append(s.order[:i:i], s.order[i+1:]...), id)
			return
		}
	}
}
