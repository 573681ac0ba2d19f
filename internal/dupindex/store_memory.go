package dupindex

import (
	"context"
	"fmt"
	"sync"
	"time"

	id "unum/pkg/domain"
	"unum/pkg/platform/sentinel"
	"unum/pkg/requestcontext"
)

// InMemory is the index implementation for tests and single-node dev.
// All invariant checks happen under one mutex, which is the in-process
// equivalent of the unique constraints the Postgres store relies on.
type InMemory struct {
	mu      sync.Mutex
	byKey   map[id.CommitmentKey]*Entry
	byDID   map[id.DID]*Entry
	byToken map[id.ReservationToken]*Entry
}

func NewInMemory() *InMemory {
	return &InMemory{
		byKey:   make(map[id.CommitmentKey]*Entry),
		byDID:   make(map[id.DID]*Entry),
		byToken: make(map[id.ReservationToken]*Entry),
	}
}

func (s *InMemory) Reserve(ctx context.Context, did id.DID, key id.CommitmentKey) (Reservation, error) {
	if did.IsZero() || key.IsZero() {
		return Reservation{}, fmt.Errorf("did and commitment key are required: %w", sentinel.ErrInvalidState)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.byKey[key]; ok && e.State != StateReleased {
		return Reservation{}, ErrDuplicateCommitment
	}
	// Defense in depth: the same check keyed by DID. A hit here without a
	// hit above means two distinct commitments derived one DID.
	if e, ok := s.byDID[did]; ok && e.State != StateReleased {
		return Reservation{}, ErrDIDCollision
	}

	now := requestcontext.Now(ctx)
	entry := &Entry{
		Key:        key,
		DID:        did,
		State:      StatePending,
		Token:      id.NewReservationToken(),
		ReservedAt: now,
		UpdatedAt:  now,
	}
	s.byKey[key] = entry
	s.byDID[did] = entry
	s.byToken[entry.Token] = entry

	return Reservation{Token: entry.Token, Key: key, DID: did}, nil
}

func (s *InMemory) Commit(ctx context.Context, token id.ReservationToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.byToken[token]
	if !ok || entry.State == StateReleased {
		return ErrUnknownReservation
	}
	if entry.State == StateCommitted {
		return nil // idempotent retry after crash
	}
	entry.State = StateCommitted
	entry.UpdatedAt = requestcontext.Now(ctx)
	return nil
}

func (s *InMemory) Release(ctx context.Context, token id.ReservationToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.byToken[token]
	if !ok {
		return nil // idempotent: token already reaped or never existed
	}
	switch entry.State {
	case StateCommitted:
		return errCommittedRelease
	case StateReleased:
		return nil
	}
	s.release(entry)
	return nil
}

func (s *InMemory) LookupDID(_ context.Context, did id.DID) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.byDID[did]
	if !ok || entry.State != StateCommitted {
		return nil, fmt.Errorf("did %s: %w", did, sentinel.ErrNotFound)
	}
	out := *entry
	return &out, nil
}

func (s *InMemory) ReleaseStale(ctx context.Context, maxAge time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := requestcontext.Now(ctx).Add(-maxAge)
	released := 0
	for _, entry := range s.byToken {
		if entry.State == StatePending && entry.ReservedAt.Before(cutoff) {
			s.release(entry)
			released++
		}
	}
	return released, nil
}

// release frees the key and DID slots while keeping the token entry so a
// late Release call on the same token stays idempotent.
func (s *InMemory) release(entry *Entry) {
	entry.State = StateReleased
	delete(s.byKey, entry.Key)
	delete(s.byDID, entry.DID)
}
