package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/notify-engine/internal/model"
	"github.com/jwalitptl/notify-engine/internal/repository"
	"github.com/jwalitptl/notify-engine/internal/scheduler"
	"github.com/jwalitptl/notify-engine/internal/service/delivery"
	"github.com/jwalitptl/notify-engine/pkg/errors"
	"github.com/jwalitptl/notify-engine/pkg/logger"
	"github.com/jwalitptl/notify-engine/pkg/messaging"
	"github.com/jwalitptl/notify-engine/pkg/metrics"
)

// errorBackoff is the pause after a handling error before the subscription
// loop reads the next envelope.
const errorBackoff = 2 * time.Second

// Consumer is the event consumption adapter: it observes live message events,
// deduplicates them through the processed-event ledger and drives the delivery
// orchestrator or the scheduler.
type Consumer struct {
	broker      messaging.Broker
	store       repository.EventStore
	ledger      repository.LedgerRepository
	repo        repository.MessageRepository
	delivery    *delivery.Service
	scheduler   scheduler.Scheduler
	logger      *logger.Logger
	metrics     *metrics.Metrics
	catchUpPoll time.Duration

	mu       sync.Mutex
	lastSeen uint64
}

func NewConsumer(
	broker messaging.Broker,
	store repository.EventStore,
	ledger repository.LedgerRepository,
	repo repository.MessageRepository,
	deliverySvc *delivery.Service,
	sched scheduler.Scheduler,
	logger *logger.Logger,
	m *metrics.Metrics,
	catchUpPoll time.Duration,
) *Consumer {
	if catchUpPoll <= 0 {
		catchUpPoll = 30 * time.Second
	}
	return &Consumer{
		broker:      broker,
		store:       store,
		ledger:      ledger,
		repo:        repo,
		delivery:    deliverySvc,
		scheduler:   sched,
		logger:      logger.WithComponent("consumer"),
		metrics:     m,
		catchUpPoll: catchUpPoll,
	}
}

// Run consumes live events until the context is cancelled. A second goroutine
// periodically replays the global sequence to pick up events whose live
// notification was lost; the ledger makes the replay harmless.
func (c *Consumer) Run(ctx context.Context) error {
	events, err := c.broker.Subscribe(ctx, model.EventTypeStream)
	if err != nil {
		return fmt.Errorf("failed to subscribe to event stream: %w", err)
	}
	c.logger.Info("consumer started", "stream", model.EventTypeStream)

	go c.catchUpLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer stopping")
			return nil
		case payload, ok := <-events:
			if !ok {
				return nil
			}
			var envelope repository.EventEnvelope
			if err := json.Unmarshal(payload, &envelope); err != nil {
				c.logger.Error(err, "dropping undecodable envelope")
				continue
			}
			if err := c.Handle(ctx, envelope); err != nil {
				c.logger.Error(err, "event handling failed",
					"stream", envelope.StreamName, "revision", envelope.Revision)
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(errorBackoff):
				}
			}
		}
	}
}

// Handle processes one observed event with effectively-once semantics. The
// catch-up cursor only advances past a sequence once it reached a processed or
// skipped outcome; pub/sub alone never redelivers, so a failed sequence must
// stay inside the catch-up window.
func (c *Consumer) Handle(ctx context.Context, envelope repository.EventEnvelope) error {
	timer := prometheus.NewTimer(c.metrics.ConsumeLatency)
	defer timer.ObserveDuration()
	c.metrics.EventsConsumed.WithLabelValues(envelope.EventType).Inc()

	if err := c.handle(ctx, envelope); err != nil {
		c.rewindSeq(envelope.GlobalSeq)
		return err
	}
	c.observeSeq(envelope.GlobalSeq)
	return nil
}

func (c *Consumer) handle(ctx context.Context, envelope repository.EventEnvelope) error {
	ledgerStream := envelope.Stream
	if ledgerStream == "" {
		ledgerStream = model.EventTypeStream
	}
	revision := envelope.GlobalSeq

	processed, err := c.ledger.IsProcessed(ctx, ledgerStream, revision)
	if err != nil {
		return err
	}
	if processed {
		c.metrics.LedgerSkips.WithLabelValues("already_processed").Inc()
		return nil
	}

	if err := c.ledger.MarkProcessing(ctx, ledgerStream, revision); err != nil {
		if errors.IsAlreadyClaimed(err) {
			c.metrics.LedgerSkips.WithLabelValues("claim_lost").Inc()
			return nil
		}
		return err
	}
	c.metrics.LedgerClaims.Inc()

	// Only creation events trigger work here; lifecycle bookkeeping events
	// are audit trail, and retries re-enter through the scheduler.
	if envelope.EventType != string(model.EventCreated) {
		c.metrics.LedgerSkips.WithLabelValues("event_type").Inc()
		return c.ledger.UpdateStatus(ctx, ledgerStream, revision, model.ProcessedStatusSkipped)
	}

	if err := c.process(ctx, envelope); err != nil {
		c.metrics.LedgerFailures.Inc()
		if updateErr := c.ledger.UpdateStatus(ctx, ledgerStream, revision, model.ProcessedStatusFailed); updateErr != nil {
			c.logger.Error(updateErr, "failed to record ledger failure",
				"stream", ledgerStream, "revision", revision)
		}
		return err
	}
	return c.ledger.UpdateStatus(ctx, ledgerStream, revision, model.ProcessedStatusProcessed)
}

func (c *Consumer) process(ctx context.Context, envelope repository.EventEnvelope) error {
	tenantID := envelope.TenantID
	messageID := envelope.AggregateID
	if tenantID == "" || messageID == "" {
		return fmt.Errorf("envelope is missing tenant or aggregate id")
	}

	snapshot := envelope.Event.Message
	if snapshot.ScheduledAt != nil && snapshot.ScheduledAt.After(time.Now().UTC()) {
		jobID, err := c.scheduler.EnqueueAt(ctx, scheduler.Job{
			TenantID:  tenantID,
			MessageID: messageID,
		}, *snapshot.ScheduledAt)
		if err != nil {
			return fmt.Errorf("failed to schedule future delivery: %w", err)
		}
		return c.recordScheduled(ctx, tenantID, messageID, jobID, *snapshot.ScheduledAt)
	}

	return c.attemptDelivery(ctx, tenantID, messageID)
}

// recordScheduled puts the wake-up job id and the Scheduled transition into
// the aggregate's history.
func (c *Consumer) recordScheduled(ctx context.Context, tenantID, messageID, jobID string, at time.Time) error {
	message, err := c.repo.Get(ctx, tenantID, messageID)
	if err != nil {
		return err
	}
	if message.Status() != model.StatusPending {
		// A redelivery after the bookkeeping already landed.
		return nil
	}
	if err := message.MarkQueued(jobID, message.Priority(), model.SystemActor()); err != nil {
		return err
	}
	if err := message.Reschedule(at, model.SystemActor()); err != nil {
		// The scheduled time can lapse while recording; the job fires anyway.
		if !errors.IsInvalidSchedule(err) {
			return err
		}
	}
	_, err = c.repo.Save(ctx, message, "")
	return err
}

// HandleJob is the scheduler callback: a due wake-up re-enters the delivery
// path here.
func (c *Consumer) HandleJob(ctx context.Context, job scheduler.Job) error {
	return c.attemptDelivery(ctx, job.TenantID, job.MessageID)
}

func (c *Consumer) attemptDelivery(ctx context.Context, tenantID, messageID string) error {
	result, err := c.delivery.Deliver(ctx, tenantID, messageID)
	if err != nil {
		return err
	}
	if result.RetryRequested {
		executeAt := time.Now().UTC().Add(result.RetryDelay)
		if _, err := c.scheduler.EnqueueAt(ctx, scheduler.Job{
			TenantID:  tenantID,
			MessageID: messageID,
		}, executeAt); err != nil {
			return fmt.Errorf("failed to schedule retry: %w", err)
		}
	}
	return nil
}

func (c *Consumer) observeSeq(seq uint64) {
	c.mu.Lock()
	if seq > c.lastSeen {
		c.lastSeen = seq
	}
	c.mu.Unlock()
}

// rewindSeq pulls the catch-up cursor back below a sequence whose handling
// failed. Already-resolved sequences in between are skipped by the ledger.
func (c *Consumer) rewindSeq(seq uint64) {
	c.mu.Lock()
	if seq > 0 && c.lastSeen >= seq {
		c.lastSeen = seq - 1
	}
	c.mu.Unlock()
}

func (c *Consumer) catchUpLoop(ctx context.Context) {
	ticker := time.NewTicker(c.catchUpPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.catchUp(ctx); err != nil {
				c.logger.Error(err, "catch-up poll failed")
			}
		}
	}
}

func (c *Consumer) catchUp(ctx context.Context) error {
	c.mu.Lock()
	after := c.lastSeen
	c.mu.Unlock()

	stored, err := c.store.ReadGlobal(ctx, after, 200)
	if err != nil {
		return err
	}
	c.metrics.ConsumerLag.Set(float64(len(stored)))

	for _, se := range stored {
		envelope := repository.EventEnvelope{
			Stream:      model.EventTypeStream,
			GlobalSeq:   se.GlobalSeq,
			StreamName:  se.StreamName,
			Revision:    se.Revision,
			EventType:   string(se.Event.Type),
			TenantID:    se.Event.TenantID,
			AggregateID: se.Event.MessageID,
			Event:       se.Event,
		}
		if err := c.Handle(ctx, envelope); err != nil {
			c.logger.Error(err, "catch-up handling failed",
				"stream", se.StreamName, "revision", se.Revision)
		}
	}
	return nil
}
