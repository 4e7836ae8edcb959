package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/notify-engine/pkg/errors"
)

type EventType string

const (
	EventCreated        EventType = "message.created"
	EventQueued         EventType = "message.queued"
	EventScheduled      EventType = "message.scheduled"
	EventRetrying       EventType = "message.retrying"
	EventDelivered      EventType = "message.delivered"
	EventDeliveryFailed EventType = "message.delivery_failed"
	EventUpdated        EventType = "message.updated"
)

// Event is one immutable entry in a message's stream. Every event carries the
// full post-transition snapshot of the message, so replay reduces to adopting
// the snapshot of the last event applied.
type Event struct {
	ID             uuid.UUID  `json:"id"`
	Type           EventType  `json:"type"`
	MessageID      string     `json:"message_id"`
	TenantID       string     `json:"tenant_id"`
	Message        MessageDTO `json:"message"`
	PreviousStatus Status     `json:"previous_status"`
	Actor          Actor      `json:"actor"`
	OperationID    string     `json:"operation_id,omitempty"`
	RetryAttempt   int        `json:"retry_attempt,omitempty"`
	JobID          string     `json:"job_id,omitempty"`
	OccurredAt     time.Time  `json:"occurred_at"`
}

type transition struct {
	from Status
	to   Status
}

// transitionEvents enumerates every legal status transition and the event it
// emits. There is deliberately no catch-all: a pair missing from this table is
// an illegal transition, not an Updated event.
var transitionEvents = map[transition]EventType{
	{StatusPending, StatusScheduled}: EventScheduled,
	{StatusPending, StatusRetrying}:  EventRetrying,
	{StatusPending, StatusSuccess}:   EventDelivered,
	{StatusPending, StatusFailed}:    EventDeliveryFailed,

	{StatusScheduled, StatusPending}:  EventQueued,
	{StatusScheduled, StatusRetrying}: EventRetrying,
	{StatusScheduled, StatusSuccess}:  EventDelivered,
	{StatusScheduled, StatusFailed}:   EventDeliveryFailed,

	{StatusRetrying, StatusRetrying}: EventRetrying,
	{StatusRetrying, StatusSuccess}:  EventDelivered,
	{StatusRetrying, StatusFailed}:   EventDeliveryFailed,

	// Failed is terminal for the attempt, but an explicit re-open is allowed.
	{StatusFailed, StatusRetrying}: EventRetrying,
}

func eventForTransition(from, to Status) (EventType, error) {
	et, ok := transitionEvents[transition{from, to}]
	if !ok {
		return "", errors.Validation(fmt.Sprintf("illegal status transition %s -> %s", from, to))
	}
	return et, nil
}

// StreamName returns the deterministic per-message stream name.
func StreamName(tenantID, messageID string) string {
	return fmt.Sprintf("notify.message.v1-%s-%s", tenantID, messageID)
}

// EventTypeStream is the stream identifier under which all message events are
// fanned out to live subscribers. Paired with the store's global sequence it
// forms the processed-event ledger key.
const EventTypeStream = "notify.message.v1"
