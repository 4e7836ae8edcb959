package message

import (
	"context"
	"time"

	"github.com/jwalitptl/notify-engine/internal/model"
	"github.com/jwalitptl/notify-engine/internal/repository"
	"github.com/jwalitptl/notify-engine/pkg/logger"
	"github.com/jwalitptl/notify-engine/pkg/metrics"
)

// CreateInput is the creation use-case input, already bound and validated at
// the transport edge.
type CreateInput struct {
	ID            string
	TenantID      string
	ConfigCode    string
	Channel       string
	TemplateCode  string
	Payload       map[string]interface{}
	Priority      string
	ScheduledAt   *time.Time
	CorrelationID string
	OperationID   string
}

type Service interface {
	Create(ctx context.Context, input CreateInput, actor model.Actor) (model.MessageDTO, error)
	Get(ctx context.Context, tenantID, id string) (model.MessageDTO, error)
}

type service struct {
	repo    repository.MessageRepository
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewService(repo repository.MessageRepository, logger *logger.Logger, m *metrics.Metrics) Service {
	return &service{
		repo:    repo,
		logger:  logger.WithComponent("message"),
		metrics: m,
	}
}

func (s *service) Create(ctx context.Context, input CreateInput, actor model.Actor) (model.MessageDTO, error) {
	message, err := model.NewMessage(model.CreateProps{
		ID:            input.ID,
		TenantID:      input.TenantID,
		ConfigCode:    input.ConfigCode,
		Channel:       input.Channel,
		TemplateCode:  input.TemplateCode,
		Payload:       input.Payload,
		Priority:      model.ParsePriority(input.Priority),
		ScheduledAt:   input.ScheduledAt,
		CorrelationID: input.CorrelationID,
		OperationID:   input.OperationID,
	}, actor)
	if err != nil {
		return model.MessageDTO{}, err
	}

	saved, err := s.repo.Save(ctx, message, input.OperationID)
	if err != nil {
		return model.MessageDTO{}, err
	}
	s.metrics.MessagesCreated.Inc()
	s.logger.Info("message accepted",
		"message_id", saved.ID(), "tenant_id", saved.TenantID(), "channel", saved.ToDTO().Channel)
	return saved.ToDTO(), nil
}

func (s *service) Get(ctx context.Context, tenantID, id string) (model.MessageDTO, error) {
	message, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return model.MessageDTO{}, err
	}
	return message.ToDTO(), nil
}
