package scheduler

import (
	"context"
	"time"
)

// Job is the payload handed back to the consumer when a delayed wake-up is
// due. It carries no business state beyond the message identity.
type Job struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	MessageID string    `json:"message_id"`
	Attempt   int       `json:"attempt"`
	ExecuteAt time.Time `json:"execute_at"`
}

// Handler receives due jobs, at least once.
type Handler func(ctx context.Context, job Job) error

// Scheduler is the opaque delayed-job facility: enqueue a payload to be
// delivered back at or after executeAt.
type Scheduler interface {
	EnqueueAt(ctx context.Context, job Job, executeAt time.Time) (string, error)
}
