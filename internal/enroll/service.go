// Package enroll orchestrates the full enrollment pipeline: validate the
// commitment, derive the DID, claim the duplicate index, anchor the
// metadata document and record the identity. It is the only package that
// sees the raw commitment; everything downstream works with the derived
// key and fingerprint.
package enroll

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"unum/internal/anchor"
	"unum/internal/commitment"
	"unum/internal/derive"
	"unum/internal/dupindex"
	"unum/internal/enroll/metrics"
	"unum/internal/metadata"
	"unum/internal/registry"
	id "unum/pkg/domain"
	dErrors "unum/pkg/domain-errors"
	"unum/pkg/platform/audit"
	"unum/pkg/platform/sentinel"
	"unum/pkg/requestcontext"
)

// Anchorer anchors documents on the external ledger. Satisfied by
// anchor.Gateway.
type Anchorer interface {
	Anchor(ctx context.Context, doc metadata.Document, res dupindex.Reservation) (anchor.Confirmation, error)
}

// Revoker handles the post-enrollment lifecycle. Satisfied by
// revocation.Service.
type Revoker interface {
	Revoke(ctx context.Context, did id.DID, actingController id.ControllerID, reason string) error
	RotateControllers(ctx context.Context, did id.DID, actingController id.ControllerID, newControllers []id.ControllerID) error
}

// AuditPublisher receives lifecycle events.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service runs enrollments end to end.
type Service struct {
	index      dupindex.Index
	identities registry.Store
	anchorer   Anchorer
	revoker    Revoker
	auditor    AuditPublisher
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) { s.auditor = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New constructs a Service.
func New(index dupindex.Index, identities registry.Store, anchorer Anchorer, revoker Revoker, opts ...Option) *Service {
	s := &Service{
		index:      index,
		identities: identities,
		anchorer:   anchorer,
		revoker:    revoker,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnrollRequest carries one enrollment attempt. SchemaVersion is optional
// and defaults to the current version; passing an older version applies
// that version's constraints (a 1.0 document cannot hold two controllers).
type EnrollRequest struct {
	Commitment    []byte
	Network       string
	Controllers   []id.ControllerID
	SchemaVersion metadata.SchemaVersion
}

// Enroll derives the DID for a commitment and registers it, rejecting the
// attempt when the same commitment is already enrolled on any network.
// The same commitment always yields the same DID; nothing about the
// caller or the wall clock enters the derivation.
func (s *Service) Enroll(ctx context.Context, req EnrollRequest) (id.DID, error) {
	start := time.Now()
	ctx, span := otel.Tracer("unum/enroll").Start(ctx, "enroll.Enroll")
	defer span.End()
	span.SetAttributes(attribute.String("network", req.Network))

	network, err := commitment.ParseNetwork(req.Network)
	if err != nil {
		s.recordOutcome("invalid", req.Network)
		return "", err
	}
	c, err := commitment.Validate(req.Commitment, network)
	if err != nil {
		s.recordOutcome("invalid", req.Network)
		return "", err
	}
	if len(req.Controllers) == 0 {
		s.recordOutcome("invalid", req.Network)
		return "", dErrors.New(dErrors.CodeValidation, "at least one controller is required")
	}
	version := req.SchemaVersion
	if version == "" {
		version = metadata.CurrentVersion
	}

	// Controller exclusivity is rechecked by the registry insert; the
	// precheck keeps the common conflict from reaching the ledger at all.
	for _, ctrl := range req.Controllers {
		if other, err := s.identities.FindActiveByController(ctx, ctrl); err == nil {
			s.recordOutcome("controller_conflict", req.Network)
			s.logger.InfoContext(ctx, "enrollment rejected, controller already bound",
				"controller", ctrl.String(),
				"bound_did", other.DID.String(),
			)
			return "", dErrors.New(dErrors.CodeConflict, "controller already backs an active identity")
		} else if !errors.Is(err, sentinel.ErrNotFound) {
			return "", dErrors.Wrap(err, dErrors.CodeUnavailable, "checking controller")
		}
	}

	did := derive.DID(c, network)
	span.SetAttributes(attribute.String("did", did.String()))

	res, err := s.index.Reserve(ctx, did, c.Key())
	if err != nil {
		return "", s.reserveError(ctx, err, c, did, req)
	}

	now := requestcontext.Now(ctx)
	doc, err := metadata.Build(did, req.Controllers, now, version)
	if err != nil {
		s.releaseAfterFailure(ctx, res)
		s.recordOutcome("invalid", req.Network)
		return "", err
	}

	anchorStart := time.Now()
	conf, err := s.anchorer.Anchor(ctx, doc, res)
	if s.metrics != nil {
		s.metrics.ObserveAnchor(anchorStart)
	}
	if err != nil {
		// The gateway already released the reservation; the commitment is
		// immediately re-enrollable.
		if s.metrics != nil {
			s.metrics.ReservationsReleased.Inc()
		}
		s.recordOutcome("anchor_failed", req.Network)
		s.emit(ctx, audit.Event{
			DID:                   did,
			Action:                string(audit.EventAnchorFailed),
			CommitmentFingerprint: c.Fingerprint(),
		})
		return "", dErrors.Wrap(err, dErrors.CodeUnavailable, "anchoring enrollment")
	}

	identity := &registry.Identity{
		DID:           did,
		Controllers:   doc.Controllers,
		State:         registry.StateActive,
		SchemaVersion: doc.Version,
		EnrolledAt:    doc.EnrolledAt,
		DocSequence:   doc.Sequence,
	}
	if err := s.identities.Create(ctx, identity); err != nil {
		// The document is anchored and the index committed; an insert
		// failure here is a split-brain to reconcile, not a rollback.
		s.logger.ErrorContext(ctx, "anchored enrollment but registry insert failed",
			"did", did.String(),
			"error", err,
		)
		if errors.Is(err, sentinel.ErrConflict) {
			return "", dErrors.Wrap(err, dErrors.CodeConflict, "identity registration conflict")
		}
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "registering identity")
	}

	s.recordOutcome("enrolled", req.Network)
	if s.metrics != nil {
		s.metrics.ObserveEnroll(start)
	}
	s.emit(ctx, audit.Event{
		DID:                   did,
		Action:                string(audit.EventIdentityEnrolled),
		CommitmentFingerprint: c.Fingerprint(),
		ActorID:               string(req.Controllers[0]),
	})
	s.logger.InfoContext(ctx, "identity enrolled",
		"did", did.String(),
		"network", req.Network,
		"commitment", c.Fingerprint(),
		"tx_id", conf.TxID,
	)
	return did, nil
}

// RevokeIdentity permanently deactivates an identity.
func (s *Service) RevokeIdentity(ctx context.Context, did id.DID, controller id.ControllerID, reason string) error {
	if err := s.revoker.Revoke(ctx, did, controller, reason); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.Revocations.Inc()
	}
	return nil
}

// RotateControllers replaces the controller set of an active identity.
func (s *Service) RotateControllers(ctx context.Context, did id.DID, controller id.ControllerID, newControllers []id.ControllerID) error {
	if err := s.revoker.RotateControllers(ctx, did, controller, newControllers); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.ControllerRotations.Inc()
	}
	return nil
}

// Resolve loads the identity record behind a DID.
func (s *Service) Resolve(ctx context.Context, did id.DID) (*registry.Identity, error) {
	identity, err := s.identities.FindByDID(ctx, did)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "unknown identity")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "loading identity")
	}
	return identity, nil
}

func (s *Service) reserveError(ctx context.Context, err error, c commitment.Commitment, did id.DID, req EnrollRequest) error {
	switch {
	case errors.Is(err, dupindex.ErrDuplicateCommitment):
		if s.metrics != nil {
			s.metrics.DuplicatesRejected.Inc()
		}
		s.recordOutcome("duplicate", req.Network)
		s.emit(ctx, audit.Event{
			DID:                   did,
			Action:                string(audit.EventDuplicateRejected),
			CommitmentFingerprint: c.Fingerprint(),
		})
		s.logger.InfoContext(ctx, "duplicate enrollment rejected",
			"commitment", c.Fingerprint(),
			"network", req.Network,
		)
		return dErrors.Wrap(err, dErrors.CodeConflict, "commitment already enrolled")

	case errors.Is(err, dupindex.ErrDIDCollision):
		// Two distinct commitments deriving one DID breaks the injectivity
		// assumption of the derivation itself. Never report as a duplicate.
		if s.metrics != nil {
			s.metrics.IntegrityFaults.Inc()
		}
		s.recordOutcome("integrity_fault", req.Network)
		s.emit(ctx, audit.Event{
			DID:                   did,
			Action:                string(audit.EventIntegrityFault),
			CommitmentFingerprint: c.Fingerprint(),
		})
		s.logger.ErrorContext(ctx, "derivation integrity fault",
			"did", did.String(),
			"commitment", c.Fingerprint(),
		)
		return dErrors.Wrap(err, dErrors.CodeInvariantViolation, "did collision across distinct commitments")

	default:
		s.recordOutcome("unavailable", req.Network)
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "reserving enrollment")
	}
}

func (s *Service) releaseAfterFailure(ctx context.Context, res dupindex.Reservation) {
	if err := s.index.Release(ctx, res.Token); err != nil {
		s.logger.ErrorContext(ctx, "failed to release reservation",
			"token", res.Token.String(),
			"error", err,
		)
	}
	if s.metrics != nil {
		s.metrics.ReservationsReleased.Inc()
	}
}

func (s *Service) recordOutcome(outcome, network string) {
	if s.metrics != nil {
		s.metrics.RecordEnrollment(outcome, network)
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
