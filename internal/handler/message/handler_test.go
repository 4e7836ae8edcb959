package message

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/notify-engine/internal/middleware"
	"github.com/jwalitptl/notify-engine/internal/model"
	messageService "github.com/jwalitptl/notify-engine/internal/service/message"
)

type fakeService struct {
	lastInput messageService.CreateInput
	lastActor model.Actor
	calls     int
	dto       model.MessageDTO
	err       error
}

func (f *fakeService) Create(_ context.Context, input messageService.CreateInput, actor model.Actor) (model.MessageDTO, error) {
	f.calls++
	f.lastInput = input
	f.lastActor = actor
	return f.dto, f.err
}

func (f *fakeService) Get(_ context.Context, _, _ string) (model.MessageDTO, error) {
	return f.dto, f.err
}

func newTestRouter(svc messageService.Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	api := r.Group("/api/v1")
	api.Use(middleware.Tenant())
	NewHandler(svc).RegisterRoutes(api)
	return r
}

func postMessage(t *testing.T, r *gin.Engine, body map[string]interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.HeaderXTenantID, "tenant-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateMessagePassesClientID(t *testing.T) {
	id := "8a2c2f4e-58d2-4f6a-9c43-0f6b1d7a9e01"
	svc := &fakeService{dto: model.MessageDTO{ID: id, Status: model.StatusPending}}
	r := newTestRouter(svc)

	w := postMessage(t, r, map[string]interface{}{
		"id":           id,
		"config_code":  "workspace-a",
		"channel":      "C123",
		"payload":      map[string]interface{}{"text": "hello"},
		"operation_id": "op-1",
	})

	assert.Equal(t, http.StatusAccepted, w.Code)
	require.Equal(t, 1, svc.calls)
	assert.Equal(t, id, svc.lastInput.ID)
	assert.Equal(t, "op-1", svc.lastInput.OperationID)
	assert.Equal(t, "tenant-1", svc.lastInput.TenantID)
}

func TestCreateMessageRejectsMalformedID(t *testing.T) {
	svc := &fakeService{}
	r := newTestRouter(svc)

	w := postMessage(t, r, map[string]interface{}{
		"id":          "not-a-uuid",
		"config_code": "workspace-a",
		"channel":     "C123",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, svc.calls)
}

func TestCreateMessageRequiresTenantHeader(t *testing.T) {
	svc := &fakeService{}
	r := newTestRouter(svc)

	raw, err := json.Marshal(map[string]interface{}{
		"config_code": "workspace-a",
		"channel":     "C123",
	})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, svc.calls)
}
