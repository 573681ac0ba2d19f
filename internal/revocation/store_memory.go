package revocation

import (
	"context"
	"sync"

	id "unum/pkg/domain"
)

// InMemoryRecordStore keeps ledger records in memory for tests/dev.
type InMemoryRecordStore struct {
	mu      sync.RWMutex
	records []Record
	byDID   map[id.DID][]int
}

func NewInMemoryRecordStore() *InMemoryRecordStore {
	return &InMemoryRecordStore{byDID: make(map[id.DID][]int)}
}

func (s *InMemoryRecordStore) Append(_ context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	s.byDID[record.DID] = append(s.byDID[record.DID], len(s.records)-1)
	return nil
}

func (s *InMemoryRecordStore) ListByDID(_ context.Context, did id.DID) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.byDID[did]))
	for _, i := range s.byDID[did] {
		out = append(out, s.records[i])
	}
	return out, nil
}

// Clear resets the store between tests.
func (s *InMemoryRecordStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
	s.byDID = make(map[id.DID][]int)
}
