package memory

import (
	"context"
	"sync"

	audit "unum/pkg/platform/audit"
)

// InMemoryStore holds audit events in memory for tests/dev.
type InMemoryStore struct {
	mu     sync.RWMutex
	events []audit.Event
	byDID  map[string][]int
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byDID: make(map[string][]int)}
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	if !event.DID.IsZero() {
		k := event.DID.String()
		s.byDID[k] = append(s.byDID[k], len(s.events)-1)
	}
	return nil
}

func (s *InMemoryStore) ListByDID(_ context.Context, did string) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]audit.Event, 0, len(s.byDID[did]))
	for _, i := range s.byDID[did] {
		out = append(out, s.events[i])
	}
	return out, nil
}

// ListAll returns every recorded event in append order.
func (s *InMemoryStore) ListAll(_ context.Context) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Event{}, s.events...), nil
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
	s.byDID = make(map[string][]int)
}
