package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jwalitptl/notify-engine/internal/model"
	"github.com/jwalitptl/notify-engine/internal/repository"
	"github.com/jwalitptl/notify-engine/pkg/errors"
)

type ledgerRepository struct {
	BaseRepository
}

// NewLedgerRepository builds the processed-event ledger. Entries are
// append/update only and never deleted; they are the audit trail of event
// consumption.
func NewLedgerRepository(base BaseRepository) repository.LedgerRepository {
	return &ledgerRepository{base}
}

func (r *ledgerRepository) IsProcessed(ctx context.Context, streamName string, revision uint64) (bool, error) {
	var status string
	err := r.db.GetContext(ctx, &status, `
		SELECT status FROM processed_events
		WHERE stream_name = $1 AND revision = $2
	`, streamName, revision)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read ledger entry: %w", err)
	}
	// A processing entry short-circuits: the claim belongs to another worker.
	// A failed entry does not count as processed, otherwise one transient
	// error would block the pair forever.
	return status != string(model.ProcessedStatusFailed), nil
}

// MarkProcessing claims the pair with a single atomic statement. This is the
// sole concurrency-control primitive preventing duplicate delivery side
// effects. Failed entries are reclaimable so a later redelivery can retry
// them; every other conflict loses the claim.
func (r *ledgerRepository) MarkProcessing(ctx context.Context, streamName string, revision uint64) error {
	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO processed_events (stream_name, revision, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (stream_name, revision) DO UPDATE
		SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at
		WHERE processed_events.status = 'failed'
	`, streamName, revision, string(model.ProcessedStatusProcessing), now)
	if err != nil {
		return fmt.Errorf("failed to claim ledger entry: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read claim result: %w", err)
	}
	if rows == 0 {
		return errors.AlreadyClaimed(streamName, revision)
	}
	return nil
}

func (r *ledgerRepository) UpdateStatus(ctx context.Context, streamName string, revision uint64, status model.ProcessedStatus) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE processed_events
		SET status = $3, updated_at = $4
		WHERE stream_name = $1 AND revision = $2
	`, streamName, revision, string(status), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update ledger entry: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return errors.NotFound("ledger entry", nil)
	}
	return nil
}
