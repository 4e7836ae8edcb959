package api_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMessageFlow(t *testing.T) {
	id := createTestMessage(t, map[string]interface{}{"text": "integration hello"})

	getResp := makeRequest("GET", fmt.Sprintf("/messages/%s", id), nil)
	assert.True(t, getResp.IsSuccess(), "Failed to fetch message: %s", getResp.Message)
	assert.Equal(t, id, getResp.GetString("id"))
	assert.Contains(t, []string{"pending", "retrying", "success"}, getResp.GetString("status"))
}

func TestScheduledMessage(t *testing.T) {
	scheduledAt := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
	resp := makeRequest("POST", "/messages", map[string]interface{}{
		"config_code":  "integration-workspace",
		"channel":      "C_INTEGRATION",
		"payload":      map[string]interface{}{"text": "later"},
		"scheduled_at": scheduledAt,
	})
	assert.True(t, resp.IsSuccess(), "Failed to create scheduled message: %s", resp.Message)
	assert.NotEmpty(t, resp.GetString("scheduled_at"))
}

func TestRejectsPastSchedule(t *testing.T) {
	past := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
	resp := makeRequest("POST", "/messages", map[string]interface{}{
		"config_code":  "integration-workspace",
		"channel":      "C_INTEGRATION",
		"payload":      map[string]interface{}{"text": "too late"},
		"scheduled_at": past,
	})
	assert.False(t, resp.IsSuccess())
	assert.Equal(t, 400, resp.HTTPStatus)
}

func TestRejectsMissingFields(t *testing.T) {
	resp := makeRequest("POST", "/messages", map[string]interface{}{
		"payload": map[string]interface{}{"text": "no target"},
	})
	assert.False(t, resp.IsSuccess())
	assert.Equal(t, 400, resp.HTTPStatus)
}

func TestOperationIdempotency(t *testing.T) {
	opID := uniqueCorrelation("op")
	body := map[string]interface{}{
		"config_code":  "integration-workspace",
		"channel":      "C_INTEGRATION",
		"payload":      map[string]interface{}{"text": "exactly once"},
		"operation_id": opID,
	}

	first := makeRequest("POST", "/messages", body)
	assert.True(t, first.IsSuccess(), "first submit failed: %s", first.Message)

	second := makeRequest("POST", "/messages", body)
	assert.True(t, second.IsSuccess(), "duplicate submit failed: %s", second.Message)
}

func TestUnknownMessageReturns404(t *testing.T) {
	resp := makeRequest("GET", "/messages/00000000-0000-0000-0000-000000000000", nil)
	assert.False(t, resp.IsSuccess())
	assert.Equal(t, 404, resp.HTTPStatus)
}
