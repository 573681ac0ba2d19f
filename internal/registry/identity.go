// Package registry keeps the engine-side record of every issued identity:
// its controller set, lifecycle state and current document sequence.
//
// Uniqueness of commitments and DIDs is owned by the duplicate index; the
// registry owns the one remaining exclusivity rule, that a controller may
// back at most one active identity at a time.
package registry

import (
	"context"
	"time"

	"unum/internal/metadata"
	id "unum/pkg/domain"
)

// LifecycleState of an identity. Revocation is terminal.
type LifecycleState string

const (
	StateActive  LifecycleState = "active"
	StateRevoked LifecycleState = "revoked"
)

// Identity is the logical record behind a DID. Created once per unique
// commitment; mutated only by controller rotation or revocation; never
// deleted (revocation is logical, the audit trail stays).
type Identity struct {
	DID           id.DID
	Controllers   []id.ControllerID
	State         LifecycleState
	SchemaVersion metadata.SchemaVersion
	EnrolledAt    time.Time
	RevokedAt     *time.Time
	DocSequence   int
}

// HasController reports membership of ctrl in the identity's controller set.
func (i *Identity) HasController(ctrl id.ControllerID) bool {
	for _, c := range i.Controllers {
		if c == ctrl {
			return true
		}
	}
	return false
}

// Store persists identity records.
//
// Error contract (teacher-wide store convention): sentinel.ErrNotFound for
// missing identities, sentinel.ErrConflict when a controller is already
// bound to another active identity, wrapped infrastructure errors
// otherwise.
type Store interface {
	// Create inserts a new active identity. Fails with sentinel.ErrConflict
	// if the DID exists or any controller is bound to another active identity.
	Create(ctx context.Context, identity *Identity) error

	// FindByDID loads an identity record.
	FindByDID(ctx context.Context, did id.DID) (*Identity, error)

	// FindActiveByController resolves the active identity a controller
	// currently backs, if any.
	FindActiveByController(ctx context.Context, ctrl id.ControllerID) (*Identity, error)

	// Update persists a changed controller set, state or sequence.
	Update(ctx context.Context, identity *Identity) error
}
