package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/notify-engine/internal/model"
	"github.com/jwalitptl/notify-engine/pkg/errors"
)

// memEventStore is an in-memory EventStore with the same optimistic
// concurrency and global sequence semantics as the Postgres store.
type memEventStore struct {
	mu      sync.Mutex
	streams map[string][]StoredEvent
	global  []StoredEvent
	seq     uint64
}

func newMemEventStore() *memEventStore {
	return &memEventStore{streams: make(map[string][]StoredEvent)}
}

func (s *memEventStore) AppendEvents(_ context.Context, streamName string, expectedRevision uint64, events []model.Event) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := uint64(len(s.streams[streamName]))
	if current != expectedRevision {
		return 0, errors.ConcurrentModification(streamName, nil)
	}
	revision := current
	for _, e := range events {
		revision++
		s.seq++
		stored := StoredEvent{
			GlobalSeq:  s.seq,
			StreamName: streamName,
			Revision:   revision,
			Event:      e,
		}
		s.streams[streamName] = append(s.streams[streamName], stored)
		s.global = append(s.global, stored)
	}
	return revision, nil
}

func (s *memEventStore) ReadEvents(_ context.Context, streamName string, afterRevision uint64) ([]StoredEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []StoredEvent
	for _, stored := range s.streams[streamName] {
		if stored.Revision > afterRevision {
			out = append(out, stored)
		}
	}
	return out, nil
}

func (s *memEventStore) HasOperation(_ context.Context, streamName, operationID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, stored := range s.streams[streamName] {
		if stored.Event.OperationID == operationID {
			return true, nil
		}
	}
	return false, nil
}

func (s *memEventStore) ReadGlobal(_ context.Context, afterSeq uint64, limit int) ([]StoredEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []StoredEvent
	for _, stored := range s.global {
		if stored.GlobalSeq > afterSeq {
			out = append(out, stored)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

type memSnapshotStore struct {
	mu        sync.Mutex
	snapshots map[string]*model.Snapshot
}

func newMemSnapshotStore() *memSnapshotStore {
	return &memSnapshotStore{snapshots: make(map[string]*model.Snapshot)}
}

func (s *memSnapshotStore) Latest(_ context.Context, streamName string) (*model.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[streamName]
	if !ok {
		return nil, nil
	}
	copied := *snap
	return &copied, nil
}

func (s *memSnapshotStore) Save(_ context.Context, snapshot *model.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.snapshots[snapshot.StreamName]
	if ok && existing.Revision >= snapshot.Revision {
		return nil
	}
	copied := *snapshot
	s.snapshots[snapshot.StreamName] = &copied
	return nil
}

func newRepo() (MessageRepository, *memEventStore, *memSnapshotStore) {
	store := newMemEventStore()
	snapshots := newMemSnapshotStore()
	return NewMessageRepository(store, snapshots), store, snapshots
}

func createMessage(t *testing.T) *model.Message {
	t.Helper()
	m, err := model.NewMessage(model.CreateProps{
		TenantID:   "tenant-1",
		ConfigCode: "workspace-a",
		Channel:    "C123",
		Payload:    map[string]interface{}{"text": "hi"},
	}, model.SystemActor())
	require.NoError(t, err)
	return m
}

func TestSaveAndGetRoundTrip(t *testing.T) {
	repo, _, _ := newRepo()
	ctx := context.Background()

	m := createMessage(t)
	saved, err := repo.Save(ctx, m, "")
	require.NoError(t, err)
	assert.Empty(t, saved.UncommittedEvents())
	assert.Equal(t, uint64(1), saved.Revision())

	loaded, err := repo.Get(ctx, "tenant-1", m.ID())
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, loaded.Status())
	assert.Equal(t, saved.ToDTO(), loaded.ToDTO())
	assert.Equal(t, uint64(1), loaded.Revision())
}

func TestGetUnknownMessage(t *testing.T) {
	repo, _, _ := newRepo()
	_, err := repo.Get(context.Background(), "tenant-1", "nope")
	assert.True(t, errors.IsNotFound(err))
}

func TestSaveEmptyBufferIsNoOp(t *testing.T) {
	repo, store, _ := newRepo()
	ctx := context.Background()

	m := createMessage(t)
	_, err := repo.Save(ctx, m, "")
	require.NoError(t, err)

	// Second save with nothing buffered appends nothing.
	_, err = repo.Save(ctx, m, "")
	require.NoError(t, err)
	events, _ := store.ReadEvents(ctx, m.StreamName(), 0)
	assert.Len(t, events, 1)
}

func TestSaveAppendsLifecycleEvents(t *testing.T) {
	repo, store, _ := newRepo()
	ctx := context.Background()

	m := createMessage(t)
	_, err := repo.Save(ctx, m, "")
	require.NoError(t, err)

	require.NoError(t, m.MarkForRetry("rate_limited", nil, model.SystemActor()))
	require.NoError(t, m.MarkDelivered(model.SystemActor()))
	saved, err := repo.Save(ctx, m, "")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), saved.Revision())

	events, _ := store.ReadEvents(ctx, m.StreamName(), 0)
	require.Len(t, events, 3)
	assert.Equal(t, model.EventCreated, events[0].Event.Type)
	assert.Equal(t, model.EventRetrying, events[1].Event.Type)
	assert.Equal(t, model.EventDelivered, events[2].Event.Type)

	loaded, err := repo.Get(ctx, "tenant-1", m.ID())
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, loaded.Status())
	assert.Equal(t, 1, loaded.RetryCount())
}

func TestSaveOperationIdempotency(t *testing.T) {
	repo, store, _ := newRepo()
	ctx := context.Background()

	m := createMessage(t)
	first, err := repo.Save(ctx, m, "op-1")
	require.NoError(t, err)

	// A duplicate command with the same operation id must not append again,
	// even when the caller buffered new events.
	replayed := model.FromDTO(first.ToDTO())
	require.NoError(t, replayed.MarkDelivered(model.SystemActor()))
	result, err := repo.Save(ctx, replayed, "op-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, result.Status(), "existing state wins")
	assert.Empty(t, replayed.UncommittedEvents())

	events, _ := store.ReadEvents(ctx, first.StreamName(), 0)
	assert.Len(t, events, 1)
}

func TestSaveStampsOperationID(t *testing.T) {
	repo, store, _ := newRepo()
	ctx := context.Background()

	m := createMessage(t)
	_, err := repo.Save(ctx, m, "op-42")
	require.NoError(t, err)

	events, _ := store.ReadEvents(ctx, m.StreamName(), 0)
	require.Len(t, events, 1)
	assert.Equal(t, "op-42", events[0].Event.OperationID)

	has, err := store.HasOperation(ctx, m.StreamName(), "op-42")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestConcurrentSaveLoserGetsConflict(t *testing.T) {
	repo, _, _ := newRepo()
	ctx := context.Background()

	m := createMessage(t)
	_, err := repo.Save(ctx, m, "")
	require.NoError(t, err)

	// Two workers load the same revision.
	a, err := repo.Get(ctx, "tenant-1", m.ID())
	require.NoError(t, err)
	b, err := repo.Get(ctx, "tenant-1", m.ID())
	require.NoError(t, err)

	require.NoError(t, a.MarkDelivered(model.SystemActor()))
	_, err = repo.Save(ctx, a, "")
	require.NoError(t, err)

	require.NoError(t, b.MarkFailed("late", model.SystemActor()))
	_, err = repo.Save(ctx, b, "")
	assert.True(t, errors.IsConcurrentModification(err))

	// The winner's write is what persisted.
	loaded, err := repo.Get(ctx, "tenant-1", m.ID())
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, loaded.Status())
}

func TestSnapshotMatchesLastEvent(t *testing.T) {
	repo, store, snapshots := newRepo()
	ctx := context.Background()

	m := createMessage(t)
	require.NoError(t, m.Reschedule(time.Now().UTC().Add(time.Hour), model.SystemActor()))
	_, err := repo.Save(ctx, m, "")
	require.NoError(t, err)

	snap, err := snapshots.Latest(ctx, m.StreamName())
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, uint64(2), snap.Revision)

	events, _ := store.ReadEvents(ctx, m.StreamName(), 0)
	require.Len(t, events, 2)
	assert.Equal(t, events[1].Event.Message, snap.State,
		"snapshot equals the last event's embedded state")
}

func TestGetReplaysEventsPastSnapshot(t *testing.T) {
	repo, store, snapshots := newRepo()
	ctx := context.Background()

	m := createMessage(t)
	_, err := repo.Save(ctx, m, "")
	require.NoError(t, err)

	// Events appended behind the snapshot's back, as if a snapshot write had
	// been lost.
	stale, err := snapshots.Latest(ctx, m.StreamName())
	require.NoError(t, err)

	require.NoError(t, m.MarkDelivered(model.SystemActor()))
	newRev, err := store.AppendEvents(ctx, m.StreamName(), m.Revision(), m.UncommittedEvents())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), newRev)
	assert.Equal(t, uint64(1), stale.Revision)

	loaded, err := repo.Get(ctx, "tenant-1", m.ID())
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, loaded.Status())
	assert.Equal(t, uint64(2), loaded.Revision())
}
