package repository

import (
	"context"
	"time"

	"github.com/jwalitptl/notify-engine/internal/model"
	"github.com/jwalitptl/notify-engine/pkg/errors"
)

type messageRepository struct {
	store     EventStore
	snapshots SnapshotStore
}

// NewMessageRepository builds the event-sourced message repository on top of
// an event store and a snapshot store.
func NewMessageRepository(store EventStore, snapshots SnapshotStore) MessageRepository {
	return &messageRepository{store: store, snapshots: snapshots}
}

// Get loads the latest snapshot and replays any events past it. A stream
// without a snapshot is treated as absent: every write also snapshots, so the
// common path never replays from empty.
func (r *messageRepository) Get(ctx context.Context, tenantID, id string) (*model.Message, error) {
	streamName := model.StreamName(tenantID, id)

	snap, err := r.snapshots.Latest(ctx, streamName)
	if err != nil {
		return nil, errors.Persistence(err)
	}
	if snap == nil {
		return nil, errors.NotFound("message", nil)
	}

	message := model.FromDTO(snap.State)
	message.SetRevision(snap.Revision)

	events, err := r.store.ReadEvents(ctx, streamName, snap.Revision)
	if err != nil {
		return nil, errors.Persistence(err)
	}
	for _, stored := range events {
		message.Apply(stored.Event)
		message.SetRevision(stored.Revision)
	}
	return message, nil
}

// Save appends the aggregate's buffered events with optimistic concurrency and
// writes a fresh snapshot. An empty buffer is a no-op. A non-empty operationID
// already present in the stream means the logical operation was completed by an
// earlier attempt; the save returns the persisted state untouched.
func (r *messageRepository) Save(ctx context.Context, message *model.Message, operationID string) (*model.Message, error) {
	events := message.UncommittedEvents()
	if len(events) == 0 {
		return message, nil
	}
	streamName := message.StreamName()

	if operationID != "" {
		exists, err := r.store.HasOperation(ctx, streamName, operationID)
		if err != nil {
			return nil, errors.Persistence(err)
		}
		if exists {
			message.MarkCommitted()
			return r.Get(ctx, message.TenantID(), message.ID())
		}
		for i := range events {
			if events[i].OperationID == "" {
				events[i].OperationID = operationID
			}
		}
	}

	newRevision, err := r.store.AppendEvents(ctx, streamName, message.Revision(), events)
	if err != nil {
		if errors.IsConcurrentModification(err) {
			return nil, err
		}
		return nil, errors.Persistence(err)
	}

	snapshot := &model.Snapshot{
		StreamName: streamName,
		Revision:   newRevision,
		State:      events[len(events)-1].Message,
		TakenAt:    time.Now().UTC(),
	}
	if err := r.snapshots.Save(ctx, snapshot); err != nil {
		return nil, errors.Persistence(err)
	}

	message.SetRevision(newRevision)
	message.MarkCommitted()
	return message, nil
}
