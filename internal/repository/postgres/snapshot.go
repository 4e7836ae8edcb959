package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jwalitptl/notify-engine/internal/model"
	"github.com/jwalitptl/notify-engine/internal/repository"
	"github.com/jwalitptl/notify-engine/pkg/metrics"
)

type snapshotRow struct {
	StreamName string    `db:"stream_name"`
	Revision   uint64    `db:"revision"`
	State      []byte    `db:"state"`
	TakenAt    time.Time `db:"taken_at"`
}

type snapshotStore struct {
	BaseRepository
	metrics *metrics.Metrics
}

func NewSnapshotStore(base BaseRepository, m *metrics.Metrics) repository.SnapshotStore {
	return &snapshotStore{BaseRepository: base, metrics: m}
}

func (s *snapshotStore) Latest(ctx context.Context, streamName string) (*model.Snapshot, error) {
	var row snapshotRow
	err := s.db.GetContext(ctx, &row, `
		SELECT stream_name, revision, state, taken_at
		FROM message_snapshots
		WHERE stream_name = $1
	`, streamName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	var state model.MessageDTO
	if err := json.Unmarshal(row.State, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot state: %w", err)
	}
	return &model.Snapshot{
		StreamName: row.StreamName,
		Revision:   row.Revision,
		State:      state,
		TakenAt:    row.TakenAt,
	}, nil
}

func (s *snapshotStore) Save(ctx context.Context, snapshot *model.Snapshot) error {
	state, err := json.Marshal(snapshot.State)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot state: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO message_snapshots (stream_name, revision, state, taken_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (stream_name) DO UPDATE
		SET revision = EXCLUDED.revision,
		    state = EXCLUDED.state,
		    taken_at = EXCLUDED.taken_at
		WHERE message_snapshots.revision < EXCLUDED.revision
	`, snapshot.StreamName, snapshot.Revision, state, snapshot.TakenAt)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	s.metrics.SnapshotWrites.Inc()
	return nil
}
