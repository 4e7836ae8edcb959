package model

import "time"

type ProcessedStatus string

const (
	ProcessedStatusProcessing ProcessedStatus = "processing"
	ProcessedStatusProcessed  ProcessedStatus = "processed"
	ProcessedStatusSkipped    ProcessedStatus = "skipped"
	ProcessedStatusFailed     ProcessedStatus = "failed"
)

// ProcessedEvent is one entry in the processed-event ledger. The
// (stream, revision) pair is the idempotency key; entries are never deleted.
type ProcessedEvent struct {
	StreamName string          `db:"stream_name" json:"stream_name"`
	Revision   uint64          `db:"revision" json:"revision"`
	Status     ProcessedStatus `db:"status" json:"status"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time       `db:"updated_at" json:"updated_at"`
}
