package model

import "time"

// Snapshot is a materialized message state at a point in its event stream.
// Every successful save writes one, so a missing snapshot means the stream
// does not exist.
type Snapshot struct {
	StreamName string     `db:"stream_name" json:"stream_name"`
	Revision   uint64     `db:"revision" json:"revision"`
	State      MessageDTO `json:"state"`
	TakenAt    time.Time  `db:"taken_at" json:"taken_at"`
}
