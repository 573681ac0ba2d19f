// Package revocation manages the terminal half of an identity's lifecycle:
// revoking it, rotating its controller set, and keeping an append-only
// ledger of both. Records are never edited or deleted; right-to-erasure is
// satisfied by the logical Revoked state plus off-ledger PII removal.
package revocation

import (
	"context"
	"time"

	"github.com/google/uuid"

	id "unum/pkg/domain"
)

// RecordType distinguishes ledger entries.
type RecordType string

const (
	RecordRevoked RecordType = "revoked"
	RecordRotated RecordType = "controllers_rotated"
)

// Record is one append-only ledger entry. PriorControllers and
// NewControllers capture the controller set around the change so the
// ledger alone can reconstruct the authorization history of a DID.
type Record struct {
	ID               uuid.UUID
	DID              id.DID
	Type             RecordType
	Reason           string
	ActorID          id.ControllerID
	PriorControllers []id.ControllerID
	NewControllers   []id.ControllerID
	// DocSequence is the sequence of the successor metadata document
	// anchored for this change.
	DocSequence int
	OccurredAt  time.Time
	// AnchorTxID references the anchoring transaction, when known.
	AnchorTxID string
}

// RecordStore persists ledger records. Append-only by contract; there is
// deliberately no update or delete operation.
type RecordStore interface {
	Append(ctx context.Context, record Record) error

	// ListByDID returns records for a DID in append order.
	ListByDID(ctx context.Context, did id.DID) ([]Record, error)
}
