// Package metadata assembles and parses the versioned identity documents
// that get anchored on the ledger.
//
// Schema versions form a closed, ordered set. Version-specific rules live
// in the builder (a branch on the version value, not a type hierarchy) so
// every constraint is auditable in one place. Anchored documents are
// append-only: an update is a new document with a higher sequence for the
// same DID, never a rewrite.
package metadata

import (
	"errors"
	"fmt"
	"time"

	id "unum/pkg/domain"
	dErrors "unum/pkg/domain-errors"
)

// SchemaVersion identifies a wire shape for the metadata document.
type SchemaVersion string

const (
	// V1_0 is the legacy wallet-era schema: a single controller and no
	// enrollment or revocation slots. Still parsed forever; never written
	// for new enrollments.
	V1_0 SchemaVersion = "1.0"

	// V1_1 is the current deterministic schema: ordered controller set,
	// explicit enrollment timestamp, optional revocation timestamp.
	V1_1 SchemaVersion = "1.1"
)

// CurrentVersion is the schema used for new documents.
const CurrentVersion = V1_1

// ErrVersionMismatch marks a field combination invalid for the requested
// schema version.
var ErrVersionMismatch = errors.New("metadata version mismatch")

// Document is a versioned identity payload. Once anchored it is immutable;
// successor documents reference the same DID with a higher sequence.
type Document struct {
	Version     SchemaVersion
	DID         id.DID
	Controllers []id.ControllerID
	EnrolledAt  time.Time
	RevokedAt   *time.Time
	Sequence    int
}

// Revoked reports whether the document carries a revocation timestamp.
func (d Document) Revoked() bool { return d.RevokedAt != nil }

// HasController reports whether ctrl is in the document's controller set.
func (d Document) HasController(ctrl id.ControllerID) bool {
	for _, c := range d.Controllers {
		if c == ctrl {
			return true
		}
	}
	return false
}

// Build assembles a first-sequence document and enforces the field rules of
// the requested version. Pure assembly; the duplicate index is never
// consulted here.
func Build(did id.DID, controllers []id.ControllerID, enrolledAt time.Time, version SchemaVersion) (Document, error) {
	if did.IsZero() {
		return Document{}, dErrors.New(dErrors.CodeValidation, "did is required")
	}
	controllers, err := normalizeControllers(controllers)
	if err != nil {
		return Document{}, err
	}

	switch version {
	case V1_0:
		if len(controllers) != 1 {
			return Document{}, versionMismatch("schema 1.0 supports exactly one controller, got %d", len(controllers))
		}
	case V1_1:
		if enrolledAt.IsZero() {
			return Document{}, versionMismatch("schema 1.1 requires an enrollment timestamp")
		}
	default:
		return Document{}, versionMismatch("unknown schema version %q", version)
	}

	return Document{
		Version:     version,
		DID:         did,
		Controllers: controllers,
		EnrolledAt:  enrolledAt.UTC(),
		Sequence:    1,
	}, nil
}

// Rotated produces the successor document after a controller-set change.
// Successors are always written at the current schema so legacy documents
// migrate forward on their first update.
func Rotated(prev Document, controllers []id.ControllerID, at time.Time) (Document, error) {
	if prev.Revoked() {
		return Document{}, dErrors.New(dErrors.CodeConflict, "cannot rotate controllers of a revoked identity")
	}
	controllers, err := normalizeControllers(controllers)
	if err != nil {
		return Document{}, err
	}
	enrolledAt := prev.EnrolledAt
	if enrolledAt.IsZero() {
		// 1.0 documents carried no enrollment slot; the migration stamps
		// the rotation time as the best available value.
		enrolledAt = at
	}
	return Document{
		Version:     CurrentVersion,
		DID:         prev.DID,
		Controllers: controllers,
		EnrolledAt:  enrolledAt.UTC(),
		Sequence:    prev.Sequence + 1,
	}, nil
}

// Revoke produces the terminal successor document. The revocation slot
// only exists from schema 1.1 on, so the successor is always current.
func Revoke(prev Document, at time.Time) (Document, error) {
	if prev.Revoked() {
		return Document{}, dErrors.New(dErrors.CodeConflict, "identity already revoked")
	}
	if at.IsZero() {
		return Document{}, dErrors.New(dErrors.CodeValidation, "revocation timestamp is required")
	}
	enrolledAt := prev.EnrolledAt
	if enrolledAt.IsZero() {
		enrolledAt = at
	}
	revokedAt := at.UTC()
	return Document{
		Version:     CurrentVersion,
		DID:         prev.DID,
		Controllers: prev.Controllers,
		EnrolledAt:  enrolledAt.UTC(),
		RevokedAt:   &revokedAt,
		Sequence:    prev.Sequence + 1,
	}, nil
}

// normalizeControllers deduplicates while preserving first-seen order.
// The controller set is ordered; membership checks stay a simple scan.
func normalizeControllers(controllers []id.ControllerID) ([]id.ControllerID, error) {
	if len(controllers) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "at least one controller is required")
	}
	seen := make(map[id.ControllerID]struct{}, len(controllers))
	out := make([]id.ControllerID, 0, len(controllers))
	for _, c := range controllers {
		if c.IsZero() {
			return nil, dErrors.New(dErrors.CodeValidation, "controller reference must not be empty")
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out, nil
}

func versionMismatch(format string, args ...any) error {
	return dErrors.Wrap(ErrVersionMismatch, dErrors.CodeValidation, fmt.Sprintf(format, args...))
}
