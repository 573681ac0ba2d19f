// Package dupindex is the single source of truth for identity uniqueness.
//
// Enrollment claims a commitment key with an explicit reserve / commit /
// release protocol: Reserve atomically claims the key (and, independently,
// the DID), Commit finalizes once the metadata document is durably
// anchored, Release rolls back a failed attempt. Ownership of an in-flight
// enrollment is always explicit and always revocable.
package dupindex

import (
	"context"
	"errors"
	"fmt"
	"time"

	id "unum/pkg/domain"
	"unum/pkg/platform/sentinel"
)

// EntryState is the reservation lifecycle of an index entry.
type EntryState string

const (
	StatePending   EntryState = "pending"
	StateCommitted EntryState = "committed"
	StateReleased  EntryState = "released"
)

// Errors returned by index implementations. Services translate these into
// coded domain errors.
var (
	// ErrDuplicateCommitment: the commitment key already has a pending or
	// committed entry. This is the Sybil-resistance gate firing; final for
	// the given input.
	ErrDuplicateCommitment = errors.New("commitment already enrolled")

	// ErrDIDCollision: the DID is claimed by a different commitment key.
	// Derivation makes this impossible unless the hash is broken, so it is
	// an integrity fault to investigate, never ordinary Sybil behavior.
	ErrDIDCollision = errors.New("did claimed by a different commitment")

	// ErrUnknownReservation: the token is stale, already finalized, or
	// already released.
	ErrUnknownReservation = errors.New("unknown reservation")

	// errCommittedRelease rejects Release on a finalized entry. It keeps
	// ErrUnknownReservation in the chain so callers handle it like any
	// other dead token, and carries sentinel.ErrAlreadyUsed as the cause.
	errCommittedRelease = fmt.Errorf("%w: entry committed: %w",
		ErrUnknownReservation, sentinel.ErrAlreadyUsed)
)

// Entry is a stored index row.
type Entry struct {
	Key        id.CommitmentKey
	DID        id.DID
	State      EntryState
	Token      id.ReservationToken
	ReservedAt time.Time
	UpdatedAt  time.Time
}

// Reservation is the caller's claim on an in-flight enrollment.
type Reservation struct {
	Token id.ReservationToken
	Key   id.CommitmentKey
	DID   id.DID
}

// Index enforces the uniqueness invariants:
// at most one non-released entry per commitment key, and at most one per
// DID. When two reservations race for the same key, exactly one wins.
type Index interface {
	// Reserve atomically claims the did/key pair in Pending state.
	Reserve(ctx context.Context, did id.DID, key id.CommitmentKey) (Reservation, error)

	// Commit finalizes a pending reservation. Idempotent: committing an
	// already-committed token succeeds so crash recovery can retry.
	Commit(ctx context.Context, token id.ReservationToken) error

	// Release rolls back a reservation, freeing the key for retry.
	// Idempotent; releasing a committed entry is a no-op failure
	// (ErrUnknownReservation) because committed entries are permanent.
	Release(ctx context.Context, token id.ReservationToken) error

	// LookupDID returns the committed entry for a DID, if any.
	LookupDID(ctx context.Context, did id.DID) (*Entry, error)

	// ReleaseStale garbage-collects pending reservations older than
	// maxAge, returning how many were released. Protects commitment keys
	// from workers that crashed between reserve and anchor.
	ReleaseStale(ctx context.Context, maxAge time.Duration) (int, error)
}
