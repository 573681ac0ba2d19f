//go:build integration

package revocation

import (
	"context"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"

	id "unum/pkg/domain"
	"unum/pkg/testutil/containers"
)

func TestPostgresRecordStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	pg := containers.NewPostgresContainer(t)
	store := NewPostgresRecordStore(pg.DB)
	require.NoError(t, store.EnsureSchema(ctx))

	did := id.DID("did:cardano:mainnet:zLedgerPg1111111111111111111111111")
	occurred := time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)

	require.NoError(t, store.Append(ctx, Record{
		DID:              did,
		Type:             RecordRotated,
		ActorID:          "ctrl-a",
		PriorControllers: []id.ControllerID{"ctrl-a"},
		NewControllers:   []id.ControllerID{"ctrl-b"},
		DocSequence:      1,
		OccurredAt:       occurred,
		AnchorTxID:       "tx-1",
	}))
	require.NoError(t, store.Append(ctx, Record{
		DID:         did,
		Type:        RecordRevoked,
		Reason:      "erasure request",
		ActorID:     "ctrl-b",
		DocSequence: 2,
		OccurredAt:  occurred.Add(time.Hour),
		AnchorTxID:  "tx-2",
	}))

	records, err := store.ListByDID(ctx, did)
	require.NoError(t, err)
	require.Len(t, records, 2)

	require.Equal(t, RecordRotated, records[0].Type)
	require.Equal(t, []id.ControllerID{"ctrl-a"}, records[0].PriorControllers)
	require.Equal(t, []id.ControllerID{"ctrl-b"}, records[0].NewControllers)
	require.True(t, records[0].OccurredAt.Equal(occurred))

	require.Equal(t, RecordRevoked, records[1].Type)
	require.Equal(t, "erasure request", records[1].Reason)
	require.NotEqual(t, records[0].ID, records[1].ID, "ids are assigned on insert")

	other, err := store.ListByDID(ctx, "did:cardano:mainnet:zNobody")
	require.NoError(t, err)
	require.Empty(t, other)
}
