package publisher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "unum/pkg/domain"
	audit "unum/pkg/platform/audit"
	"unum/pkg/platform/audit/store/memory"
)

const testDID = "did:cardano:mainnet:zAuditTest11111111111111111111111"

func TestPublisher_SyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	err := pub.Emit(context.Background(), audit.Event{
		DID:    id.DID(testDID),
		Action: string(audit.EventIdentityEnrolled),
	})
	require.NoError(t, err)

	events, err := pub.List(context.Background(), testDID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, string(audit.EventIdentityEnrolled), events[0].Action)
	assert.Equal(t, audit.CategoryCompliance, events[0].Category, "category filled from the action map")
	assert.False(t, events[0].Timestamp.IsZero(), "timestamp stamped on emit")
}

func TestPublisher_AsyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(10))

	err := pub.Emit(context.Background(), audit.Event{
		DID:    id.DID(testDID),
		Action: string(audit.EventIdentityRevoked),
	})
	require.NoError(t, err)

	// Close drains the buffer before returning.
	pub.Close()

	events, err := store.ListByDID(context.Background(), testDID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, string(audit.EventIdentityRevoked), events[0].Action)
}

func TestPublisher_AsyncDrainsOnClose(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(100))

	for range 10 {
		err := pub.Emit(context.Background(), audit.Event{
			DID:    id.DID(testDID),
			Action: string(audit.EventIdentityEnrolled),
		})
		require.NoError(t, err)
	}

	pub.Close()

	events, err := store.ListByDID(context.Background(), testDID)
	require.NoError(t, err)
	assert.Len(t, events, 10, "all events should be drained on close")
}

func TestPublisher_CloseIsIdempotent(t *testing.T) {
	pub := NewPublisher(memory.NewInMemoryStore(), WithAsyncBuffer(1))
	pub.Close()
	pub.Close()
}

func TestPublisher_EmitAfterCloseDropsEvent(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(10))
	pub.Close()

	err := pub.Emit(context.Background(), audit.Event{
		DID:    id.DID(testDID),
		Action: string(audit.EventIdentityEnrolled),
	})
	require.NoError(t, err)

	events, err := store.ListByDID(context.Background(), testDID)
	require.NoError(t, err)
	assert.Empty(t, events, "events after close are dropped, not persisted")
}

type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingSink) Publish(_ context.Context, event audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func TestPublisher_FansOutToSinks(t *testing.T) {
	store := memory.NewInMemoryStore()
	sink := &recordingSink{}
	pub := NewPublisher(store, WithSink(sink))
	defer pub.Close()

	err := pub.Emit(context.Background(), audit.Event{
		DID:       id.DID(testDID),
		Action:    string(audit.EventDuplicateRejected),
		Timestamp: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.events, 1)
	assert.Equal(t, audit.CategorySecurity, sink.events[0].Category)
}
