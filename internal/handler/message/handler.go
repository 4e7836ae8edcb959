package message

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/notify-engine/internal/handler"
	"github.com/jwalitptl/notify-engine/internal/middleware"
	"github.com/jwalitptl/notify-engine/internal/model"
	messageService "github.com/jwalitptl/notify-engine/internal/service/message"
	"github.com/jwalitptl/notify-engine/pkg/errors"
)

type Handler struct {
	service messageService.Service
}

func NewHandler(service messageService.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	messages := r.Group("/messages")
	{
		messages.POST("", h.CreateMessage)
		messages.GET("/:id", h.GetMessage)
	}
}

type createMessageRequest struct {
	// ID is optional. A client retrying a create supplies the same id and
	// operation_id so the duplicate lands in the same stream and is absorbed.
	ID            string                 `json:"id" binding:"omitempty,uuid"`
	ConfigCode    string                 `json:"config_code" binding:"required"`
	Channel       string                 `json:"channel" binding:"required"`
	TemplateCode  string                 `json:"template_code"`
	Payload       map[string]interface{} `json:"payload"`
	Priority      string                 `json:"priority" binding:"omitempty,oneof=low normal high urgent critical"`
	ScheduledAt   *time.Time             `json:"scheduled_at"`
	CorrelationID string                 `json:"correlation_id"`
	OperationID   string                 `json:"operation_id"`
}

func (h *Handler) CreateMessage(c *gin.Context) {
	var req createMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	tenantID := c.GetString(middleware.ContextTenantID)
	actor := model.Actor{ID: c.GetHeader("X-Actor-ID")}
	if actor.ID == "" {
		actor = model.Actor{ID: "api", Name: "api"}
	}

	dto, err := h.service.Create(c.Request.Context(), messageService.CreateInput{
		ID:            req.ID,
		TenantID:      tenantID,
		ConfigCode:    req.ConfigCode,
		Channel:       req.Channel,
		TemplateCode:  req.TemplateCode,
		Payload:       req.Payload,
		Priority:      req.Priority,
		ScheduledAt:   req.ScheduledAt,
		CorrelationID: req.CorrelationID,
		OperationID:   req.OperationID,
	}, actor)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.IsCode(err, errors.ErrValidation) || errors.IsInvalidSchedule(err) {
			status = http.StatusBadRequest
		}
		c.JSON(status, handler.NewErrorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusAccepted, handler.NewSuccessResponse(dto))
}

func (h *Handler) GetMessage(c *gin.Context) {
	tenantID := c.GetString(middleware.ContextTenantID)
	id := c.Param("id")

	dto, err := h.service.Get(c.Request.Context(), tenantID, id)
	if err != nil {
		if errors.IsNotFound(err) {
			c.JSON(http.StatusNotFound, handler.NewErrorResponse("message not found"))
			return
		}
		c.JSON(http.StatusInternalServerError, handler.NewErrorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(dto))
}
