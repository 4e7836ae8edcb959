package delivery

import (
	"context"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/notify-engine/internal/model"
	"github.com/jwalitptl/notify-engine/internal/repository"
	"github.com/jwalitptl/notify-engine/internal/service/policy"
	"github.com/jwalitptl/notify-engine/internal/service/template"
	"github.com/jwalitptl/notify-engine/internal/transport"
	"github.com/jwalitptl/notify-engine/pkg/circuitbreaker"
	"github.com/jwalitptl/notify-engine/pkg/errors"
	"github.com/jwalitptl/notify-engine/pkg/logger"
	"github.com/jwalitptl/notify-engine/pkg/metrics"
)

const emailChannelPrefix = "email:"

// saveRetries bounds reload-and-retry on optimistic concurrency conflicts.
const saveRetries = 3

// Result tells the caller what happened to a delivery attempt and whether it
// should re-enqueue the message.
type Result struct {
	Status         model.Status
	RetryRequested bool
	RetryDelay     time.Duration
}

// Service orchestrates one delivery attempt: render, send, and record the
// outcome on the aggregate.
type Service struct {
	repo           repository.MessageRepository
	renderer       template.Service
	chat           transport.Transport
	email          transport.Transport
	policy         *policy.Service
	breaker        *circuitbreaker.CircuitBreaker
	logger         *logger.Logger
	metrics        *metrics.Metrics
	attemptTimeout time.Duration
}

func NewService(
	repo repository.MessageRepository,
	renderer template.Service,
	chat transport.Transport,
	email transport.Transport,
	policySvc *policy.Service,
	logger *logger.Logger,
	m *metrics.Metrics,
	attemptTimeout time.Duration,
) *Service {
	if attemptTimeout <= 0 {
		attemptTimeout = 15 * time.Second
	}
	return &Service{
		repo:     repo,
		renderer: renderer,
		chat:     chat,
		email:    email,
		policy:   policySvc,
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "delivery-transport",
			MaxRequests: 20,
			Interval:    30 * time.Second,
			Timeout:     10 * time.Second,
		}),
		logger:         logger.WithComponent("delivery"),
		metrics:        m,
		attemptTimeout: attemptTimeout,
	}
}

// Deliver runs a single delivery attempt for the message.
func (s *Service) Deliver(ctx context.Context, tenantID, messageID string) (Result, error) {
	timer := prometheus.NewTimer(s.metrics.DeliveryLatency)
	defer timer.ObserveDuration()

	message, err := s.repo.Get(ctx, tenantID, messageID)
	if err != nil {
		return Result{}, err
	}
	// Terminal states short-circuit before any rendering or sending: a stale
	// or duplicate wake-up must never reach the external transport again.
	switch message.Status() {
	case model.StatusSuccess:
		return Result{Status: model.StatusSuccess}, nil
	case model.StatusFailed:
		return Result{Status: model.StatusFailed}, nil
	}

	dto := message.ToDTO()
	text := s.render(ctx, dto)
	if err := message.SetRenderedMessage(text); err != nil {
		return s.failPermanently(ctx, tenantID, messageID, text,
			s.policy.TranslateFailure("msg_too_long"))
	}

	target, tr := s.transportFor(dto.Channel)
	attemptCtx, cancel := context.WithTimeout(ctx, s.attemptTimeout)
	defer cancel()

	var result transport.Result
	sendErr := s.breaker.Execute(func() error {
		var innerErr error
		result, innerErr = tr.Send(attemptCtx, target, text)
		return innerErr
	})

	if sendErr == nil && result.Success {
		return s.recordDelivered(ctx, tenantID, messageID, text)
	}

	code := result.ErrorCode
	if code == "" {
		code = transport.CodeOf(sendErr)
	}
	return s.handleFailure(ctx, tenantID, messageID, text, code)
}

func (s *Service) render(ctx context.Context, dto model.MessageDTO) string {
	if dto.TemplateCode == "" {
		return template.FallbackText(dto.Payload)
	}
	rendered, err := s.renderer.Render(ctx, dto.TemplateCode, dto.Payload)
	if err != nil || template.HasUnresolvedPlaceholders(rendered) {
		if err != nil {
			s.logger.Warn("template render failed, falling back to payload",
				"template", dto.TemplateCode, "message_id", dto.ID)
		}
		return template.FallbackText(dto.Payload)
	}
	return rendered
}

func (s *Service) transportFor(channel string) (string, transport.Transport) {
	if strings.HasPrefix(channel, emailChannelPrefix) && s.email != nil {
		return strings.TrimPrefix(channel, emailChannelPrefix), s.email
	}
	return channel, s.chat
}

func (s *Service) recordDelivered(ctx context.Context, tenantID, messageID, text string) (Result, error) {
	_, err := s.mutate(ctx, tenantID, messageID, func(m *model.Message) error {
		if err := m.SetRenderedMessage(text); err != nil {
			return err
		}
		return m.MarkDelivered(model.SystemActor())
	})
	if err != nil {
		return Result{}, err
	}
	s.metrics.MessagesDelivered.Inc()
	return Result{Status: model.StatusSuccess}, nil
}

func (s *Service) handleFailure(ctx context.Context, tenantID, messageID, text, code string) (Result, error) {
	message, err := s.repo.Get(ctx, tenantID, messageID)
	if err != nil {
		return Result{}, err
	}
	attempt := message.RetryCount()
	priority := message.Priority()

	if s.policy.ClassifyError(code) == policy.Permanent {
		return s.failPermanently(ctx, tenantID, messageID, text, s.policy.TranslateFailure(code))
	}

	if !s.policy.ShouldRetryCode(code, attempt, s.policy.MaxAttempts(), priority) {
		s.logger.Info("retries exhausted", "message_id", messageID, "code", code, "attempt", attempt)
		return s.failPermanently(ctx, tenantID, messageID, text,
			"retries exhausted: "+s.policy.TranslateFailure(code))
	}

	delay := s.policy.ComputeBackoff(attempt, priority)
	nextRetryAt := time.Now().UTC().Add(delay)

	// Retry bookkeeping must not block the retry path: the job is scheduled
	// from the returned result, the aggregate update happens off to the side
	// and a failure there is logged, never escalated.
	go func() {
		bgCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, err := s.mutate(bgCtx, tenantID, messageID, func(m *model.Message) error {
			if err := m.SetRenderedMessage(text); err != nil {
				return err
			}
			return m.MarkForRetry(code, &nextRetryAt, model.SystemActor())
		})
		if err != nil {
			s.logger.Error(err, "failed to record retry bookkeeping", "message_id", messageID)
		}
	}()

	s.metrics.MessagesRetried.WithLabelValues(code).Inc()
	return Result{Status: model.StatusRetrying, RetryRequested: true, RetryDelay: delay}, nil
}

func (s *Service) failPermanently(ctx context.Context, tenantID, messageID, text, reason string) (Result, error) {
	_, err := s.mutate(ctx, tenantID, messageID, func(m *model.Message) error {
		if setErr := m.SetRenderedMessage(text); setErr != nil {
			// The cap overflow is itself the failure being recorded.
			m.SetRenderedMessage("")
		}
		return m.MarkFailed(reason, model.SystemActor())
	})
	if err != nil {
		return Result{}, err
	}
	s.metrics.MessagesFailed.WithLabelValues(reason).Inc()
	return Result{Status: model.StatusFailed}, nil
}

// mutate loads a fresh aggregate, applies fn and saves, reloading on
// optimistic concurrency conflicts. Conflicts never escape this layer.
func (s *Service) mutate(ctx context.Context, tenantID, messageID string, fn func(*model.Message) error) (*model.Message, error) {
	var lastErr error
	for i := 0; i < saveRetries; i++ {
		message, err := s.repo.Get(ctx, tenantID, messageID)
		if err != nil {
			return nil, err
		}
		if err := fn(message); err != nil {
			return nil, err
		}
		saved, err := s.repo.Save(ctx, message, "")
		if err == nil {
			return saved, nil
		}
		if !errors.IsConcurrentModification(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}
