package registry

import (
	"context"
	"fmt"
	"sync"

	id "unum/pkg/domain"
	"unum/pkg/platform/sentinel"
)

// InMemory stores identity records in memory for tests/dev.
type InMemory struct {
	mu         sync.RWMutex
	identities map[id.DID]*Identity
	// controller -> DID of the active identity it backs
	controllers map[id.ControllerID]id.DID
}

func NewInMemory() *InMemory {
	return &InMemory{
		identities:  make(map[id.DID]*Identity),
		controllers: make(map[id.ControllerID]id.DID),
	}
}

func (s *InMemory) Create(_ context.Context, identity *Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.identities[identity.DID]; exists {
		return fmt.Errorf("identity %s already exists: %w", identity.DID, sentinel.ErrConflict)
	}
	for _, c := range identity.Controllers {
		if other, bound := s.controllers[c]; bound {
			return fmt.Errorf("controller %s already backs %s: %w", c, other, sentinel.ErrConflict)
		}
	}

	stored := cloneIdentity(identity)
	s.identities[identity.DID] = stored
	if identity.State == StateActive {
		for _, c := range identity.Controllers {
			s.controllers[c] = identity.DID
		}
	}
	return nil
}

func (s *InMemory) FindByDID(_ context.Context, did id.DID) (*Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	identity, ok := s.identities[did]
	if !ok {
		return nil, fmt.Errorf("identity %s: %w", did, sentinel.ErrNotFound)
	}
	return cloneIdentity(identity), nil
}

func (s *InMemory) FindActiveByController(_ context.Context, ctrl id.ControllerID) (*Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	did, ok := s.controllers[ctrl]
	if !ok {
		return nil, fmt.Errorf("controller %s: %w", ctrl, sentinel.ErrNotFound)
	}
	return cloneIdentity(s.identities[did]), nil
}

func (s *InMemory) Update(_ context.Context, identity *Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.identities[identity.DID]
	if !ok {
		return fmt.Errorf("identity %s: %w", identity.DID, sentinel.ErrNotFound)
	}

	// Controller exclusivity against every other active identity.
	if identity.State == StateActive {
		for _, c := range identity.Controllers {
			if other, bound := s.controllers[c]; bound && other != identity.DID {
				return fmt.Errorf("controller %s already backs %s: %w", c, other, sentinel.ErrConflict)
			}
		}
	}

	// Rebind: old controllers released, new set bound (or none when revoked).
	for _, c := range current.Controllers {
		delete(s.controllers, c)
	}
	if identity.State == StateActive {
		for _, c := range identity.Controllers {
			s.controllers[c] = identity.DID
		}
	}
	s.identities[identity.DID] = cloneIdentity(identity)
	return nil
}

func cloneIdentity(in *Identity) *Identity {
	out := *in
	out.Controllers = append([]id.ControllerID(nil), in.Controllers...)
	if in.RevokedAt != nil {
		t := *in.RevokedAt
		out.RevokedAt = &t
	}
	return &out
}
