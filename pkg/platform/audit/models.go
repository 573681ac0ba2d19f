// Package audit records enrollment lifecycle events for compliance.
//
// Revocation implements the right to erasure as a permanent logical state
// change, so the audit trail is the system of record for "what happened
// to this identity and when". Events carry the DID and the commitment
// fingerprint, never the commitment itself.
package audit

import (
	"time"

	id "unum/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers events with legal/regulatory significance:
	// enrollment, revocation, controller changes. Long retention.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events that feed monitoring and alerting:
	// duplicate attempts, integrity faults.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine visibility; can be sampled.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	DID       id.DID
	Action    string
	// CommitmentFingerprint is the loggable short form of the commitment
	// key. The raw commitment never enters the audit trail.
	CommitmentFingerprint string
	// ActorID is the controller (or operator) that performed the action.
	ActorID string
	Reason  string
	// RequestID correlates the event with the HTTP request that caused it.
	RequestID string
}

// Action names. The category map below is the source of truth for routing.
type Action string

const (
	EventIdentityEnrolled    Action = "identity_enrolled"
	EventIdentityRevoked     Action = "identity_revoked"
	EventControllersRotated  Action = "controllers_rotated"
	EventDuplicateRejected   Action = "duplicate_enrollment_rejected"
	EventIntegrityFault      Action = "derivation_integrity_fault"
	EventAnchorFailed        Action = "anchor_failed"
	EventReservationReleased Action = "reservation_released"
)

var eventCategories = map[Action]EventCategory{
	EventIdentityEnrolled:   CategoryCompliance,
	EventIdentityRevoked:    CategoryCompliance,
	EventControllersRotated: CategoryCompliance,

	EventDuplicateRejected: CategorySecurity,
	EventIntegrityFault:    CategorySecurity,

	EventAnchorFailed:        CategoryOperations,
	EventReservationReleased: CategoryOperations,
}

// Category routes an action; unmapped actions default to operations.
func (a Action) Category() EventCategory {
	if c, ok := eventCategories[a]; ok {
		return c
	}
	return CategoryOperations
}
