package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/notify-engine/pkg/errors"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusScheduled Status = "scheduled"
	StatusRetrying  Status = "retrying"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
)

type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
	PriorityCritical
)

// Elevated reports whether the priority gets the raised retry ceiling and the
// tighter backoff base.
func (p Priority) Elevated() bool {
	return p >= PriorityUrgent
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	case PriorityCritical:
		return "critical"
	}
	return "normal"
}

// ParsePriority maps the wire form to a Priority, defaulting to normal.
func ParsePriority(s string) Priority {
	switch s {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	case "urgent":
		return PriorityUrgent
	case "critical":
		return PriorityCritical
	default:
		return PriorityNormal
	}
}

// MaxRenderedLength is the platform limit for rendered message text.
const MaxRenderedLength = 4000

// MessageDTO is the serializable snapshot of a message, embedded in every
// event and in snapshots.
type MessageDTO struct {
	ID              string                 `json:"id"`
	TenantID        string                 `json:"tenant_id"`
	ConfigCode      string                 `json:"config_code"`
	Channel         string                 `json:"channel"`
	TemplateCode    string                 `json:"template_code,omitempty"`
	Payload         map[string]interface{} `json:"payload,omitempty"`
	RenderedMessage string                 `json:"rendered_message,omitempty"`
	Status          Status                 `json:"status"`
	Priority        Priority               `json:"priority"`
	ScheduledAt     *time.Time             `json:"scheduled_at,omitempty"`
	SentAt          *time.Time             `json:"sent_at,omitempty"`
	FailureReason   string                 `json:"failure_reason,omitempty"`
	CorrelationID   string                 `json:"correlation_id,omitempty"`
	JobID           string                 `json:"job_id,omitempty"`
	RetryCount      int                    `json:"retry_count"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// Message is the aggregate root for one message's delivery lifecycle. It is
// reconstructed per request from snapshot plus events and never shared across
// goroutines.
type Message struct {
	dto         MessageDTO
	uncommitted []Event
	revision    uint64
}

// CreateProps are the inputs for a new message.
type CreateProps struct {
	ID            string
	TenantID      string
	ConfigCode    string
	Channel       string
	TemplateCode  string
	Payload       map[string]interface{}
	Priority      Priority
	ScheduledAt   *time.Time
	CorrelationID string
	OperationID   string
}

// NewMessage validates props and returns a Pending message with a buffered
// Created event.
func NewMessage(props CreateProps, actor Actor) (*Message, error) {
	if actor.IsZero() {
		return nil, errors.UnauthorizedOperation("create")
	}
	if props.TenantID == "" {
		return nil, errors.Validation("tenant id is required")
	}
	if props.ConfigCode == "" {
		return nil, errors.Validation("config code is required")
	}
	if props.Channel == "" {
		return nil, errors.Validation("channel is required")
	}
	now := time.Now().UTC()
	if props.ScheduledAt != nil && !props.ScheduledAt.After(now) {
		return nil, errors.InvalidSchedule("scheduled_at must be strictly in the future")
	}

	id := props.ID
	if id == "" {
		id = uuid.New().String()
	}
	correlationID := props.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	m := &Message{dto: MessageDTO{
		ID:            id,
		TenantID:      props.TenantID,
		ConfigCode:    props.ConfigCode,
		Channel:       props.Channel,
		TemplateCode:  props.TemplateCode,
		Payload:       props.Payload,
		Status:        StatusPending,
		Priority:      props.Priority,
		ScheduledAt:   props.ScheduledAt,
		CorrelationID: correlationID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}}
	m.record(EventCreated, StatusPending, actor, props.OperationID)
	return m, nil
}

// FromDTO reconstructs an aggregate from a snapshot state, with no buffered
// events.
func FromDTO(dto MessageDTO) *Message {
	return &Message{dto: dto}
}

func (m *Message) ID() string            { return m.dto.ID }
func (m *Message) TenantID() string      { return m.dto.TenantID }
func (m *Message) Status() Status        { return m.dto.Status }
func (m *Message) Priority() Priority    { return m.dto.Priority }
func (m *Message) RetryCount() int       { return m.dto.RetryCount }
func (m *Message) ScheduledAt() *time.Time { return m.dto.ScheduledAt }
func (m *Message) FailureReason() string { return m.dto.FailureReason }
func (m *Message) StreamName() string    { return StreamName(m.dto.TenantID, m.dto.ID) }

// ToDTO returns a copy of the current state.
func (m *Message) ToDTO() MessageDTO {
	return m.dto
}

// Revision is the stream revision of the last committed event, maintained by
// the repository for optimistic concurrency.
func (m *Message) Revision() uint64 {
	return m.revision
}

func (m *Message) SetRevision(rev uint64) {
	m.revision = rev
}

// UncommittedEvents returns the buffered events pending persistence.
func (m *Message) UncommittedEvents() []Event {
	return m.uncommitted
}

// MarkCommitted clears the buffer after a successful save.
func (m *Message) MarkCommitted() {
	m.uncommitted = nil
}

// SetRenderedMessage records the rendered text ahead of a delivery attempt.
func (m *Message) SetRenderedMessage(text string) error {
	if len([]rune(text)) > MaxRenderedLength {
		return errors.Validation("rendered message exceeds platform limit")
	}
	m.dto.RenderedMessage = text
	return nil
}

// MarkQueued records enqueue metadata. The status change is a no-op when the
// message is already pending, but the Queued event is still emitted so the job
// id lands in the history.
func (m *Message) MarkQueued(jobID string, priority Priority, actor Actor) error {
	if actor.IsZero() {
		return errors.UnauthorizedOperation("mark_queued")
	}
	prev := m.dto.Status
	if prev != StatusPending && prev != StatusScheduled {
		return errors.Validation("only pending or scheduled messages can be queued")
	}
	m.dto.JobID = jobID
	m.dto.Priority = priority
	m.dto.Status = StatusPending
	m.touch()
	m.record(EventQueued, prev, actor, "")
	return nil
}

// MarkDelivered transitions to Success. Idempotent: a second call is a no-op
// and emits nothing.
func (m *Message) MarkDelivered(actor Actor) error {
	if actor.IsZero() {
		return errors.UnauthorizedOperation("mark_delivered")
	}
	if m.dto.Status == StatusSuccess {
		return nil
	}
	now := time.Now().UTC()
	m.dto.SentAt = &now
	m.dto.FailureReason = ""
	return m.changeStatus(StatusSuccess, actor, "")
}

// MarkFailed records a permanent failure. Idempotent on repeated calls.
func (m *Message) MarkFailed(reason string, actor Actor) error {
	if actor.IsZero() {
		return errors.UnauthorizedOperation("mark_failed")
	}
	if m.dto.Status == StatusFailed {
		return nil
	}
	m.dto.FailureReason = reason
	return m.changeStatus(StatusFailed, actor, "")
}

// MarkForRetry records a retryable failure, increments the retry counter and
// optionally pins the next attempt time.
func (m *Message) MarkForRetry(reason string, nextRetryAt *time.Time, actor Actor) error {
	if actor.IsZero() {
		return errors.UnauthorizedOperation("mark_for_retry")
	}
	m.dto.FailureReason = reason
	m.dto.RetryCount++
	if nextRetryAt != nil {
		m.dto.ScheduledAt = nextRetryAt
	}
	return m.changeStatus(StatusRetrying, actor, "")
}

// Reschedule moves the message to Scheduled at a strictly future time.
func (m *Message) Reschedule(newTime time.Time, actor Actor) error {
	if actor.IsZero() {
		return errors.UnauthorizedOperation("reschedule")
	}
	if !newTime.After(time.Now().UTC()) {
		return errors.InvalidSchedule("new schedule must be strictly in the future")
	}
	m.dto.ScheduledAt = &newTime
	if m.dto.Status == StatusScheduled {
		m.touch()
		m.record(EventUpdated, StatusScheduled, actor, "")
		return nil
	}
	return m.changeStatus(StatusScheduled, actor, "")
}

// changeStatus is the single choke point for every status transition. It
// re-validates the transition against the enumerated table and emits exactly
// one event.
func (m *Message) changeStatus(next Status, actor Actor, operationID string) error {
	prev := m.dto.Status
	if prev == next && next != StatusRetrying {
		return nil
	}
	eventType, err := eventForTransition(prev, next)
	if err != nil {
		return err
	}
	m.dto.Status = next
	m.touch()
	m.record(eventType, prev, actor, operationID)
	return nil
}

func (m *Message) touch() {
	m.dto.UpdatedAt = time.Now().UTC()
}

func (m *Message) record(eventType EventType, prev Status, actor Actor, operationID string) {
	m.uncommitted = append(m.uncommitted, Event{
		ID:             uuid.New(),
		Type:           eventType,
		MessageID:      m.dto.ID,
		TenantID:       m.dto.TenantID,
		Message:        m.dto,
		PreviousStatus: prev,
		Actor:          actor,
		OperationID:    operationID,
		RetryAttempt:   m.dto.RetryCount,
		JobID:          m.dto.JobID,
		OccurredAt:     time.Now().UTC(),
	})
}

// Apply adopts the snapshot embedded in an event during replay.
func (m *Message) Apply(e Event) {
	m.dto = e.Message
}
