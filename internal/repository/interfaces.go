package repository

import (
	"context"

	"github.com/jwalitptl/notify-engine/internal/model"
)

// StoredEvent is an event as persisted: the domain event plus its position in
// the per-message stream and in the global sequence.
type StoredEvent struct {
	GlobalSeq  uint64      `json:"global_seq"`
	StreamName string      `json:"stream_name"`
	Revision   uint64      `json:"revision"`
	Event      model.Event `json:"event"`
}

// EventEnvelope is the live-subscription wire shape: the stored event plus the
// metadata consumers need for ledger keys and tenant context.
type EventEnvelope struct {
	Stream      string      `json:"stream"`
	GlobalSeq   uint64      `json:"global_seq"`
	StreamName  string      `json:"stream_name"`
	Revision    uint64      `json:"revision"`
	EventType   string      `json:"event_type"`
	TenantID    string      `json:"tenant_id"`
	AggregateID string      `json:"aggregate_id"`
	Event       model.Event `json:"event"`
}

type (
	// EventStore is the append-only owner of message history.
	EventStore interface {
		// AppendEvents atomically appends events to a stream. expectedRevision
		// is the stream revision the caller read; a mismatch returns
		// ErrConcurrentModification. New streams pass 0.
		AppendEvents(ctx context.Context, streamName string, expectedRevision uint64, events []model.Event) (uint64, error)
		// ReadEvents returns events with revision strictly greater than
		// afterRevision, in order.
		ReadEvents(ctx context.Context, streamName string, afterRevision uint64) ([]StoredEvent, error)
		// HasOperation reports whether any event in the stream carries the
		// given saga operation id.
		HasOperation(ctx context.Context, streamName, operationID string) (bool, error)
		// ReadGlobal returns up to limit events with a global sequence
		// strictly greater than afterSeq, across all streams. Used by the
		// consumer's catch-up poll to recover missed live notifications.
		ReadGlobal(ctx context.Context, afterSeq uint64, limit int) ([]StoredEvent, error)
	}

	// SnapshotStore persists materialized aggregate state per stream.
	SnapshotStore interface {
		// Latest returns the newest snapshot, or nil when the stream has none.
		Latest(ctx context.Context, streamName string) (*model.Snapshot, error)
		Save(ctx context.Context, snapshot *model.Snapshot) error
	}

	// LedgerRepository is the processed-event ledger used to make event
	// consumption idempotent.
	LedgerRepository interface {
		IsProcessed(ctx context.Context, streamName string, revision uint64) (bool, error)
		// MarkProcessing claims the (stream, revision) pair with an atomic
		// insert-if-absent. A pre-existing record returns ErrAlreadyClaimed.
		MarkProcessing(ctx context.Context, streamName string, revision uint64) error
		UpdateStatus(ctx context.Context, streamName string, revision uint64, status model.ProcessedStatus) error
	}

	// MessageRepository orchestrates aggregate reconstruction and event-sourced
	// persistence for messages.
	MessageRepository interface {
		Get(ctx context.Context, tenantID, id string) (*model.Message, error)
		// Save appends the aggregate's buffered events. operationID, when
		// non-empty, is a saga idempotency key: a stream already containing it
		// makes the save a no-op that returns the existing state.
		Save(ctx context.Context, message *model.Message, operationID string) (*model.Message, error)
	}
)
