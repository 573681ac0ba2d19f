package anchor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unum/internal/dupindex"
	"unum/internal/metadata"
	id "unum/pkg/domain"
	"unum/pkg/platform/circuit"
	"unum/pkg/platform/sentinel"
)

type fakeSubmitter struct {
	mu    sync.Mutex
	errs  []error // consumed per call; nil entry means success
	calls int
}

func (f *fakeSubmitter) Submit(_ context.Context, doc metadata.Document) (Confirmation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var err error
	if f.calls < len(f.errs) {
		err = f.errs[f.calls]
	}
	f.calls++
	if err != nil {
		return Confirmation{}, err
	}
	return Confirmation{TxID: "tx-" + doc.DID.String(), AnchoredAt: time.Now()}, nil
}

func (f *fakeSubmitter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

const (
	testKey = id.CommitmentKey("0011223344556677001122334455667700112233445566770011223344556677")
	testDID = id.DID("did:cardano:mainnet:zGatewayTest111111111111111111111")
)

func testDoc(t *testing.T) metadata.Document {
	t.Helper()
	doc, err := metadata.Build(testDID, []id.ControllerID{"addr1_a"},
		time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC), metadata.V1_1)
	require.NoError(t, err)
	return doc
}

func newGateway(t *testing.T, sub Submitter, index dupindex.Index, opts ...Option) *Gateway {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	base := []Option{WithMaxAttempts(3), WithBaseBackoff(time.Millisecond)}
	return New(sub, index, logger, append(base, opts...)...)
}

func reserve(t *testing.T, index dupindex.Index) dupindex.Reservation {
	t.Helper()
	res, err := index.Reserve(context.Background(), testDID, testKey)
	require.NoError(t, err)
	return res
}

func TestAnchor_CommitsOnConfirmation(t *testing.T) {
	index := dupindex.NewInMemory()
	res := reserve(t, index)
	gw := newGateway(t, &fakeSubmitter{}, index)

	conf, err := gw.Anchor(context.Background(), testDoc(t), res)
	require.NoError(t, err)
	assert.NotEmpty(t, conf.TxID)

	entry, err := index.LookupDID(context.Background(), testDID)
	require.NoError(t, err)
	assert.Equal(t, dupindex.StateCommitted, entry.State)
}

func TestAnchor_RetriesTransientFailures(t *testing.T) {
	index := dupindex.NewInMemory()
	res := reserve(t, index)
	sub := &fakeSubmitter{errs: []error{ErrSubmissionTimeout, ErrSubmissionRejected, nil}}
	gw := newGateway(t, sub, index)

	_, err := gw.Anchor(context.Background(), testDoc(t), res)
	require.NoError(t, err)
	assert.Equal(t, 3, sub.callCount())
}

func TestAnchor_ReleasesAfterRetryExhaustion(t *testing.T) {
	index := dupindex.NewInMemory()
	res := reserve(t, index)
	sub := &fakeSubmitter{errs: []error{ErrSubmissionTimeout, ErrSubmissionTimeout, ErrSubmissionTimeout}}
	gw := newGateway(t, sub, index)

	_, err := gw.Anchor(context.Background(), testDoc(t), res)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSubmissionTimeout)
	assert.Equal(t, 3, sub.callCount())

	// The commitment key must be re-enrollable after exhaustion.
	_, err = index.Reserve(context.Background(), testDID, testKey)
	assert.NoError(t, err)
}

func TestAnchor_PermanentErrorNotRetried(t *testing.T) {
	index := dupindex.NewInMemory()
	res := reserve(t, index)
	permanent := errors.New("malformed document")
	sub := &fakeSubmitter{errs: []error{permanent}}
	gw := newGateway(t, sub, index)

	_, err := gw.Anchor(context.Background(), testDoc(t), res)
	require.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, sub.callCount())

	_, err = index.Reserve(context.Background(), testDID, testKey)
	assert.NoError(t, err, "reservation released on permanent failure")
}

func TestAnchor_CancellationReleasesReservation(t *testing.T) {
	index := dupindex.NewInMemory()
	res := reserve(t, index)
	sub := &fakeSubmitter{errs: []error{ErrSubmissionTimeout, ErrSubmissionTimeout, ErrSubmissionTimeout}}
	gw := newGateway(t, sub, index, WithMaxAttempts(3), WithBaseBackoff(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := gw.Anchor(ctx, testDoc(t), res)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond) // let the first attempt fail into backoff
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("anchor did not observe cancellation")
	}

	_, err := index.Reserve(context.Background(), testDID, testKey)
	assert.NoError(t, err, "cancellation must resolve to release, never a leaked pending entry")
}

func TestAnchor_OpenBreakerFailsFast(t *testing.T) {
	index := dupindex.NewInMemory()
	res := reserve(t, index)
	breaker := circuit.New("test", circuit.WithFailureThreshold(1))
	breaker.RecordFailure()

	sub := &fakeSubmitter{}
	gw := newGateway(t, sub, index, WithBreaker(breaker))

	_, err := gw.Anchor(context.Background(), testDoc(t), res)
	require.ErrorIs(t, err, circuit.ErrOpen)
	require.ErrorIs(t, err, sentinel.ErrUnavailable)
	assert.Equal(t, 0, sub.callCount())
}

func TestSubmit_NoReservationInvolved(t *testing.T) {
	index := dupindex.NewInMemory()
	gw := newGateway(t, &fakeSubmitter{}, index)

	conf, err := gw.Submit(context.Background(), testDoc(t))
	require.NoError(t, err)
	assert.NotEmpty(t, conf.TxID)
}
