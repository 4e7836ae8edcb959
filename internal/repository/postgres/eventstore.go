package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/notify-engine/internal/model"
	"github.com/jwalitptl/notify-engine/internal/repository"
	"github.com/jwalitptl/notify-engine/pkg/errors"
	"github.com/jwalitptl/notify-engine/pkg/logger"
	"github.com/jwalitptl/notify-engine/pkg/messaging"
	"github.com/jwalitptl/notify-engine/pkg/metrics"
)

const uniqueViolation = "23505"

type eventRow struct {
	GlobalSeq   uint64         `db:"global_seq"`
	StreamName  string         `db:"stream_name"`
	Revision    uint64         `db:"revision"`
	EventID     string         `db:"event_id"`
	EventType   string         `db:"event_type"`
	TenantID    string         `db:"tenant_id"`
	AggregateID string         `db:"aggregate_id"`
	OperationID sql.NullString `db:"operation_id"`
	Payload     []byte         `db:"payload"`
	CreatedAt   time.Time      `db:"created_at"`
}

type eventStore struct {
	BaseRepository
	broker  messaging.Broker
	logger  *logger.Logger
	metrics *metrics.Metrics
}

// NewEventStore builds the Postgres-backed append-only event store. Appended
// events are published to the broker's event-type stream so live consumers can
// observe them; publication is best-effort and the durable rows remain the
// source of truth.
func NewEventStore(base BaseRepository, broker messaging.Broker, logger *logger.Logger, m *metrics.Metrics) repository.EventStore {
	return &eventStore{
		BaseRepository: base,
		broker:         broker,
		logger:         logger.WithComponent("eventstore"),
		metrics:        m,
	}
}

func (s *eventStore) AppendEvents(ctx context.Context, streamName string, expectedRevision uint64, events []model.Event) (uint64, error) {
	if len(events) == 0 {
		return expectedRevision, nil
	}

	timer := prometheus.NewTimer(s.metrics.StoreLatency.WithLabelValues("append"))
	defer timer.ObserveDuration()

	var appended []repository.EventEnvelope
	err := s.WithTx(ctx, func(tx *sqlx.Tx) error {
		var current uint64
		err := tx.GetContext(ctx, &current,
			`SELECT COALESCE(MAX(revision), 0) FROM message_events WHERE stream_name = $1`,
			streamName)
		if err != nil {
			return fmt.Errorf("failed to read stream revision: %w", err)
		}
		if current != expectedRevision {
			return errors.ConcurrentModification(streamName,
				fmt.Errorf("expected revision %d, stream is at %d", expectedRevision, current))
		}

		revision := expectedRevision
		for _, event := range events {
			revision++
			payload, err := json.Marshal(event)
			if err != nil {
				return fmt.Errorf("failed to marshal event: %w", err)
			}

			var operationID sql.NullString
			if event.OperationID != "" {
				operationID = sql.NullString{String: event.OperationID, Valid: true}
			}

			var globalSeq uint64
			err = tx.GetContext(ctx, &globalSeq, `
				INSERT INTO message_events (
					stream_name, revision, event_id, event_type,
					tenant_id, aggregate_id, operation_id, payload, created_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
				RETURNING global_seq
			`,
				streamName, revision, event.ID.String(), string(event.Type),
				event.TenantID, event.MessageID, operationID, payload, event.OccurredAt)
			if err != nil {
				if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == uniqueViolation {
					return errors.ConcurrentModification(streamName, err)
				}
				return fmt.Errorf("failed to append event: %w", err)
			}

			appended = append(appended, repository.EventEnvelope{
				Stream:      model.EventTypeStream,
				GlobalSeq:   globalSeq,
				StreamName:  streamName,
				Revision:    revision,
				EventType:   string(event.Type),
				TenantID:    event.TenantID,
				AggregateID: event.MessageID,
				Event:       event,
			})
		}
		return nil
	})
	if err != nil {
		if errors.IsConcurrentModification(err) {
			s.metrics.AppendConflicts.Inc()
			s.metrics.AppendOperations.WithLabelValues("conflict").Inc()
		} else {
			s.metrics.AppendOperations.WithLabelValues("error").Inc()
		}
		return 0, err
	}
	s.metrics.AppendOperations.WithLabelValues("success").Inc()

	for _, envelope := range appended {
		if err := s.broker.Publish(ctx, model.EventTypeStream, envelope); err != nil {
			// The rows are durable; a missed live notification is recovered
			// by the consumer's catch-up poll.
			s.logger.Error(err, "failed to publish appended event",
				"stream", envelope.StreamName, "revision", envelope.Revision)
		}
	}

	return appended[len(appended)-1].Revision, nil
}

func (s *eventStore) ReadEvents(ctx context.Context, streamName string, afterRevision uint64) ([]repository.StoredEvent, error) {
	timer := prometheus.NewTimer(s.metrics.StoreLatency.WithLabelValues("read"))
	defer timer.ObserveDuration()

	var rows []eventRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT global_seq, stream_name, revision, event_id, event_type,
		       tenant_id, aggregate_id, operation_id, payload, created_at
		FROM message_events
		WHERE stream_name = $1 AND revision > $2
		ORDER BY revision ASC
	`, streamName, afterRevision)
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}

	stored := make([]repository.StoredEvent, 0, len(rows))
	for _, row := range rows {
		var event model.Event
		if err := json.Unmarshal(row.Payload, &event); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event %s@%d: %w", row.StreamName, row.Revision, err)
		}
		stored = append(stored, repository.StoredEvent{
			GlobalSeq:  row.GlobalSeq,
			StreamName: row.StreamName,
			Revision:   row.Revision,
			Event:      event,
		})
	}
	return stored, nil
}

func (s *eventStore) ReadGlobal(ctx context.Context, afterSeq uint64, limit int) ([]repository.StoredEvent, error) {
	var rows []eventRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT global_seq, stream_name, revision, event_id, event_type,
		       tenant_id, aggregate_id, operation_id, payload, created_at
		FROM message_events
		WHERE global_seq > $1
		ORDER BY global_seq ASC
		LIMIT $2
	`, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read global sequence: %w", err)
	}

	stored := make([]repository.StoredEvent, 0, len(rows))
	for _, row := range rows {
		var event model.Event
		if err := json.Unmarshal(row.Payload, &event); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event %s@%d: %w", row.StreamName, row.Revision, err)
		}
		stored = append(stored, repository.StoredEvent{
			GlobalSeq:  row.GlobalSeq,
			StreamName: row.StreamName,
			Revision:   row.Revision,
			Event:      event,
		})
	}
	return stored, nil
}

func (s *eventStore) HasOperation(ctx context.Context, streamName, operationID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM message_events
			WHERE stream_name = $1 AND operation_id = $2
		)
	`, streamName, operationID)
	if err != nil {
		return false, fmt.Errorf("failed to check operation id: %w", err)
	}
	return exists, nil
}
