package revocation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"unum/internal/anchor"
	"unum/internal/dupindex"
	"unum/internal/metadata"
	"unum/internal/registry"
	id "unum/pkg/domain"
	dErrors "unum/pkg/domain-errors"
	"unum/pkg/platform/audit"
	"unum/pkg/platform/audit/publisher"
	"unum/pkg/platform/sentinel"
	"unum/pkg/requestcontext"
)

// Anchorer anchors successor metadata documents. Satisfied by
// anchor.Gateway.
type Anchorer interface {
	Submit(ctx context.Context, doc metadata.Document) (anchor.Confirmation, error)
}

// Service applies revocations and controller rotations. Both produce a
// successor metadata document at the current schema version, anchor it,
// update the registry record, and append a ledger entry.
type Service struct {
	identities registry.Store
	index      dupindex.Index
	anchorer   Anchorer
	records    RecordStore
	auditor    *publisher.Publisher
	logger     *slog.Logger
}

func NewService(
	identities registry.Store,
	index dupindex.Index,
	anchorer Anchorer,
	records RecordStore,
	auditor *publisher.Publisher,
	logger *slog.Logger,
) *Service {
	return &Service{
		identities: identities,
		index:      index,
		anchorer:   anchorer,
		records:    records,
		auditor:    auditor,
		logger:     logger,
	}
}

// Revoke permanently deactivates an identity. The DID, its document
// history and the ledger entry all remain; only the controllers are
// freed for re-use. Revocation is terminal.
func (s *Service) Revoke(ctx context.Context, did id.DID, actingController id.ControllerID, reason string) error {
	identity, err := s.loadAuthorized(ctx, did, actingController)
	if err != nil {
		return err
	}
	if identity.State == registry.StateRevoked {
		return dErrors.New(dErrors.CodeConflict, "identity already revoked")
	}

	now := requestcontext.Now(ctx)
	successor, err := metadata.Revoke(currentDocument(identity), now)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "building revocation document")
	}

	conf, err := s.anchorer.Submit(ctx, successor)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "anchoring revocation")
	}

	prior := identity.Controllers
	identity.State = registry.StateRevoked
	identity.RevokedAt = &now
	identity.SchemaVersion = successor.Version
	identity.DocSequence = successor.Sequence
	if err := s.identities.Update(ctx, identity); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "recording revocation")
	}

	s.appendRecord(ctx, Record{
		DID:              did,
		Type:             RecordRevoked,
		Reason:           reason,
		ActorID:          actingController,
		PriorControllers: prior,
		DocSequence:      successor.Sequence,
		OccurredAt:       now,
		AnchorTxID:       conf.TxID,
	})
	s.emit(ctx, audit.Event{
		DID:     did,
		Action:  string(audit.EventIdentityRevoked),
		ActorID: actingController.String(),
		Reason:  reason,
	})
	s.logger.InfoContext(ctx, "identity revoked",
		"did", did.String(),
		"actor", actingController.String(),
		"sequence", successor.Sequence,
	)
	return nil
}

// RotateControllers replaces the controller set of an active identity.
// The acting controller must belong to the current set; the new set is
// anchored as a successor document at the current schema version.
func (s *Service) RotateControllers(ctx context.Context, did id.DID, actingController id.ControllerID, newControllers []id.ControllerID) error {
	identity, err := s.loadAuthorized(ctx, did, actingController)
	if err != nil {
		return err
	}
	if identity.State == registry.StateRevoked {
		return dErrors.New(dErrors.CodeConflict, "identity is revoked")
	}

	now := requestcontext.Now(ctx)
	successor, err := metadata.Rotated(currentDocument(identity), newControllers, now)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "invalid controller set")
	}

	conf, err := s.anchorer.Submit(ctx, successor)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "anchoring rotation")
	}

	prior := identity.Controllers
	identity.Controllers = successor.Controllers
	identity.SchemaVersion = successor.Version
	identity.DocSequence = successor.Sequence
	if err := s.identities.Update(ctx, identity); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return dErrors.Wrap(err, dErrors.CodeConflict, "controller already backs another identity")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "recording rotation")
	}

	s.appendRecord(ctx, Record{
		DID:              did,
		Type:             RecordRotated,
		ActorID:          actingController,
		PriorControllers: prior,
		NewControllers:   successor.Controllers,
		DocSequence:      successor.Sequence,
		OccurredAt:       now,
		AnchorTxID:       conf.TxID,
	})
	s.emit(ctx, audit.Event{
		DID:     did,
		Action:  string(audit.EventControllersRotated),
		ActorID: actingController.String(),
	})
	s.logger.InfoContext(ctx, "controllers rotated",
		"did", did.String(),
		"actor", actingController.String(),
		"controllers", len(successor.Controllers),
		"sequence", successor.Sequence,
	)
	return nil
}

// History returns the ledger entries for a DID in append order.
func (s *Service) History(ctx context.Context, did id.DID) ([]Record, error) {
	records, err := s.records.ListByDID(ctx, did)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "loading revocation history")
	}
	return records, nil
}

// loadAuthorized resolves the identity behind a DID and checks the
// acting controller belongs to it. The duplicate index answers "does
// this DID exist at all"; a committed index entry without a registry
// record is an integrity fault, not a not-found.
func (s *Service) loadAuthorized(ctx context.Context, did id.DID, actingController id.ControllerID) (*registry.Identity, error) {
	if actingController.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "acting controller is required")
	}

	if _, err := s.index.LookupDID(ctx, did); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "unknown identity")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "looking up identity")
	}

	identity, err := s.identities.FindByDID(ctx, did)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeInvariantViolation,
				fmt.Sprintf("did %s committed in index but missing from registry", did))
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "loading identity")
	}

	if !identity.HasController(actingController) {
		return nil, dErrors.New(dErrors.CodeForbidden, "controller not authorized for identity")
	}
	return identity, nil
}

// currentDocument rebuilds the live document from the registry record.
func currentDocument(identity *registry.Identity) metadata.Document {
	return metadata.Document{
		Version:     identity.SchemaVersion,
		DID:         identity.DID,
		Controllers: identity.Controllers,
		EnrolledAt:  identity.EnrolledAt,
		RevokedAt:   identity.RevokedAt,
		Sequence:    identity.DocSequence,
	}
}

func (s *Service) appendRecord(ctx context.Context, record Record) {
	if err := s.records.Append(ctx, record); err != nil {
		// The registry state change already happened; the ledger gap is
		// logged for reconciliation rather than failing the operation.
		s.logger.ErrorContext(ctx, "failed to append ledger record",
			"did", record.DID.String(),
			"type", string(record.Type),
			"error", err,
		)
	}
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "audit emit failed", "action", event.Action, "error", err)
	}
}
