// Package domain defines the typed identifiers shared across the engine.
//
// Keeping these as distinct types (instead of bare strings) prevents a
// commitment key from being passed where a DID is expected and keeps
// store signatures honest.
package domain

import (
	"strings"

	"github.com/google/uuid"
)

// DID is a decentralized identifier of the form
// did:<method>:<network>:<multibase-digest>. Immutable once issued.
type DID string

func (d DID) String() string { return string(d) }

// IsZero reports whether the DID is unset.
func (d DID) IsZero() bool { return d == "" }

// Network returns the network segment of the DID, or "" if malformed.
func (d DID) Network() string {
	parts := strings.Split(string(d), ":")
	if len(parts) != 4 {
		return ""
	}
	return parts[2]
}

// CommitmentKey is the index key derived from a biometric commitment.
// It is a hex digest of the commitment, never the commitment itself,
// so it is safe to persist and index.
type CommitmentKey string

func (k CommitmentKey) String() string { return string(k) }

func (k CommitmentKey) IsZero() bool { return k == "" }

// ControllerID references a wallet or public key authorized to act for an
// identity. Opaque to the engine; ordering inside a controller set matters.
type ControllerID string

func (c ControllerID) String() string { return string(c) }

func (c ControllerID) IsZero() bool { return c == "" }

// ReservationToken identifies an in-flight duplicate-index reservation.
type ReservationToken uuid.UUID

// NewReservationToken mints a fresh reservation token.
func NewReservationToken() ReservationToken {
	return ReservationToken(uuid.New())
}

func (t ReservationToken) String() string { return uuid.UUID(t).String() }

// IsNil reports whether the token is the zero value.
func (t ReservationToken) IsNil() bool { return uuid.UUID(t) == uuid.Nil }

// ParseReservationToken parses the string form produced by String.
func ParseReservationToken(s string) (ReservationToken, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ReservationToken{}, err
	}
	return ReservationToken(u), nil
}
