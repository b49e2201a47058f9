package memory

import (
	"context"
	"sync"
)

// InMemoryStore is a Store for tests and single-process runs.
type InMemoryStore struct {
	mu      sync.Mutex
	depth   int
	records map[string][]Record
}

func NewInMemoryStore(depth int) *InMemoryStore {
	if depth <= 0 {
		depth = DefaultHistoryDepth
	}
	return &InMemoryStore{
		depth:   depth,
		records: make(map[string][]Record),
	}
}

func (s *InMemoryStore) Append(_ context.Context, conversationID string, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := append(s.records[conversationID], rec)
	if len(records) > s.depth {
		records = records[len(records)-s.depth:]
	}
	s.records[conversationID] = records
	return nil
}

func (s *InMemoryStore) Recent(_ context.Context, conversationID string, k int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.records[conversationID]
	if k > 0 && len(records) > k {
		records = records[len(records)-k:]
	}
	out := make([]Record, len(records))
	copy(out, records)
	return out, nil
}
