package enroll

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"unum/internal/anchor"
	"unum/internal/commitment"
	"unum/internal/dupindex"
	"unum/internal/enroll/metrics"
	"unum/internal/metadata"
	"unum/internal/registry"
	"unum/internal/revocation"
	id "unum/pkg/domain"
	dErrors "unum/pkg/domain-errors"
	"unum/pkg/platform/audit"
	"unum/pkg/platform/audit/publisher"
	auditmem "unum/pkg/platform/audit/store/memory"
)

// Created once: promauto registers on the default registerer.
var testMetrics = metrics.New()

// fakeSubmitter fails with the queued errors before succeeding.
type fakeSubmitter struct {
	errs  []error
	calls int
}

func (f *fakeSubmitter) Submit(_ context.Context, doc metadata.Document) (anchor.Confirmation, error) {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return anchor.Confirmation{}, err
		}
	}
	return anchor.Confirmation{TxID: "tx-ok", AnchoredAt: time.Now()}, nil
}

type ServiceSuite struct {
	suite.Suite

	index      *dupindex.InMemory
	identities *registry.InMemory
	submitter  *fakeSubmitter
	auditStore *auditmem.InMemoryStore
	svc        *Service

	ctx context.Context
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.index = dupindex.NewInMemory()
	s.identities = registry.NewInMemory()
	s.submitter = &fakeSubmitter{}
	s.auditStore = auditmem.NewInMemoryStore()
	s.ctx = context.Background()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	auditor := publisher.NewPublisher(s.auditStore)
	gateway := anchor.New(s.submitter, s.index, logger, anchor.WithBaseBackoff(time.Millisecond))
	records := revocation.NewInMemoryRecordStore()
	revoker := revocation.NewService(s.identities, s.index, gateway, records, auditor, logger)

	s.svc = New(s.index, s.identities, gateway, revoker,
		WithLogger(logger),
		WithAuditPublisher(auditor),
		WithMetrics(testMetrics),
	)
}

// testCommitment builds a valid commitment payload seeded by tag.
func testCommitment(tag byte) []byte {
	raw := make([]byte, commitment.Size)
	for i := range raw {
		raw[i] = tag ^ byte(i*7)
	}
	return raw
}

func (s *ServiceSuite) TestEnroll() {
	did, err := s.svc.Enroll(s.ctx, EnrollRequest{
		Commitment:  testCommitment(0xC1),
		Network:     "mainnet",
		Controllers: []id.ControllerID{"ctrl-a"},
	})
	s.Require().NoError(err)
	s.True(strings.HasPrefix(did.String(), "did:cardano:mainnet:z"), "got %s", did)

	s.Run("registry holds the active identity", func() {
		identity, err := s.svc.Resolve(s.ctx, did)
		s.Require().NoError(err)
		s.Equal(registry.StateActive, identity.State)
		s.Equal([]id.ControllerID{"ctrl-a"}, identity.Controllers)
		s.Equal(metadata.CurrentVersion, identity.SchemaVersion)
	})

	s.Run("index entry is committed", func() {
		entry, err := s.index.LookupDID(s.ctx, did)
		s.Require().NoError(err)
		s.Equal(dupindex.StateCommitted, entry.State)
	})

	s.Run("audit trail records the enrollment", func() {
		events, err := s.auditStore.ListByDID(s.ctx, did.String())
		s.Require().NoError(err)
		s.Require().Len(events, 1)
		s.Equal(string(audit.EventIdentityEnrolled), events[0].Action)
		s.NotEmpty(events[0].CommitmentFingerprint)
	})
}

func (s *ServiceSuite) TestEnrollIsDeterministic() {
	did1, err := s.svc.Enroll(s.ctx, EnrollRequest{
		Commitment:  testCommitment(0xD0),
		Network:     "preprod",
		Controllers: []id.ControllerID{"ctrl-a"},
	})
	s.Require().NoError(err)

	// Same commitment on a fresh engine, different controller, later time:
	// the DID must come out identical.
	s.SetupTest()
	did2, err := s.svc.Enroll(s.ctx, EnrollRequest{
		Commitment:  testCommitment(0xD0),
		Network:     "preprod",
		Controllers: []id.ControllerID{"ctrl-other"},
	})
	s.Require().NoError(err)
	s.Equal(did1, did2)
}

func (s *ServiceSuite) TestDuplicateCommitmentRejected() {
	raw := testCommitment(0xA5)
	_, err := s.svc.Enroll(s.ctx, EnrollRequest{
		Commitment:  raw,
		Network:     "mainnet",
		Controllers: []id.ControllerID{"ctrl-a"},
	})
	s.Require().NoError(err)

	did, err := s.svc.Enroll(s.ctx, EnrollRequest{
		Commitment:  raw,
		Network:     "mainnet",
		Controllers: []id.ControllerID{"ctrl-b"},
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	s.True(did.IsZero())

	s.Run("duplicate attempt is audited", func() {
		events, err := s.auditStore.ListAll(s.ctx)
		s.Require().NoError(err)
		var actions []string
		for _, e := range events {
			actions = append(actions, e.Action)
		}
		s.Contains(actions, string(audit.EventDuplicateRejected))
	})
}

func (s *ServiceSuite) TestDuplicateAcrossNetworks() {
	// The duplicate key is derived from the commitment alone, so the same
	// person cannot enroll a second time by switching networks.
	raw := testCommitment(0x3C)
	_, err := s.svc.Enroll(s.ctx, EnrollRequest{
		Commitment:  raw,
		Network:     "mainnet",
		Controllers: []id.ControllerID{"ctrl-a"},
	})
	s.Require().NoError(err)

	_, err = s.svc.Enroll(s.ctx, EnrollRequest{
		Commitment:  raw,
		Network:     "preview",
		Controllers: []id.ControllerID{"ctrl-b"},
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *ServiceSuite) TestInvalidCommitment() {
	cases := []struct {
		name string
		req  EnrollRequest
	}{
		{"short commitment", EnrollRequest{Commitment: []byte{1, 2, 3}, Network: "mainnet", Controllers: []id.ControllerID{"c"}}},
		{"all zero commitment", EnrollRequest{Commitment: make([]byte, commitment.Size), Network: "mainnet", Controllers: []id.ControllerID{"c"}}},
		{"unknown network", EnrollRequest{Commitment: testCommitment(1), Network: "devnet", Controllers: []id.ControllerID{"c"}}},
		{"no controllers", EnrollRequest{Commitment: testCommitment(1), Network: "mainnet"}},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			_, err := s.svc.Enroll(s.ctx, tc.req)
			s.Require().Error(err)
			s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		})
	}
	s.Zero(s.submitter.calls, "invalid requests never reach the ledger")
}

func (s *ServiceSuite) TestLegacyVersionSingleControllerOnly() {
	_, err := s.svc.Enroll(s.ctx, EnrollRequest{
		Commitment:    testCommitment(0x10),
		Network:       "mainnet",
		Controllers:   []id.ControllerID{"ctrl-a", "ctrl-b"},
		SchemaVersion: metadata.V1_0,
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	s.Run("commitment stays re-enrollable", func() {
		_, err := s.svc.Enroll(s.ctx, EnrollRequest{
			Commitment:  testCommitment(0x10),
			Network:     "mainnet",
			Controllers: []id.ControllerID{"ctrl-a"},
		})
		s.Require().NoError(err)
	})
}

func (s *ServiceSuite) TestControllerExclusivity() {
	_, err := s.svc.Enroll(s.ctx, EnrollRequest{
		Commitment:  testCommitment(0x77),
		Network:     "mainnet",
		Controllers: []id.ControllerID{"ctrl-a"},
	})
	s.Require().NoError(err)

	_, err = s.svc.Enroll(s.ctx, EnrollRequest{
		Commitment:  testCommitment(0x78),
		Network:     "mainnet",
		Controllers: []id.ControllerID{"ctrl-a"},
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *ServiceSuite) TestAnchorExhaustionReleasesReservation() {
	s.submitter.errs = []error{
		anchor.ErrSubmissionTimeout,
		anchor.ErrSubmissionTimeout,
		anchor.ErrSubmissionTimeout,
	}

	raw := testCommitment(0x42)
	_, err := s.svc.Enroll(s.ctx, EnrollRequest{
		Commitment:  raw,
		Network:     "mainnet",
		Controllers: []id.ControllerID{"ctrl-a"},
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	s.True(dErrors.Retryable(err))
	s.Equal(3, s.submitter.calls)

	s.Run("commitment is re-enrollable after release", func() {
		did, err := s.svc.Enroll(s.ctx, EnrollRequest{
			Commitment:  raw,
			Network:     "mainnet",
			Controllers: []id.ControllerID{"ctrl-a"},
		})
		s.Require().NoError(err)
		s.False(did.IsZero())
	})
}

func (s *ServiceSuite) TestRevokeAndReenrollStillBlocked() {
	raw := testCommitment(0x55)
	did, err := s.svc.Enroll(s.ctx, EnrollRequest{
		Commitment:  raw,
		Network:     "mainnet",
		Controllers: []id.ControllerID{"ctrl-a"},
	})
	s.Require().NoError(err)

	s.Require().NoError(s.svc.RevokeIdentity(s.ctx, did, "ctrl-a", "erasure request"))

	// Revocation is terminal for the person, not just the record: the
	// commitment stays committed in the index.
	_, err = s.svc.Enroll(s.ctx, EnrollRequest{
		Commitment:  raw,
		Network:     "mainnet",
		Controllers: []id.ControllerID{"ctrl-b"},
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *ServiceSuite) TestRevokeUnauthorized() {
	did, err := s.svc.Enroll(s.ctx, EnrollRequest{
		Commitment:  testCommitment(0x99),
		Network:     "mainnet",
		Controllers: []id.ControllerID{"ctrl-a"},
	})
	s.Require().NoError(err)

	err = s.svc.RevokeIdentity(s.ctx, did, "ctrl-intruder", "")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

func (s *ServiceSuite) TestRotateThenRevokeByNewController() {
	did, err := s.svc.Enroll(s.ctx, EnrollRequest{
		Commitment:  testCommitment(0xB7),
		Network:     "preprod",
		Controllers: []id.ControllerID{"ctrl-a"},
	})
	s.Require().NoError(err)

	s.Require().NoError(s.svc.RotateControllers(s.ctx, did, "ctrl-a", []id.ControllerID{"ctrl-b"}))
	s.Require().NoError(s.svc.RevokeIdentity(s.ctx, did, "ctrl-b", "handover complete"))

	identity, err := s.svc.Resolve(s.ctx, did)
	s.Require().NoError(err)
	s.Equal(registry.StateRevoked, identity.State)
	s.Equal(3, identity.DocSequence)
}

func (s *ServiceSuite) TestResolveUnknown() {
	_, err := s.svc.Resolve(s.ctx, "did:cardano:mainnet:zMissing")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}
