package api_test

import (
	"fmt"
	"testing"
	"time"
)

// Helper to generate unique correlation ids per run
func uniqueCorrelation(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
}

// Helper to create a message and return its id
func createTestMessage(t *testing.T, payload map[string]interface{}) string {
	t.Helper()

	body := map[string]interface{}{
		"config_code":    "integration-workspace",
		"channel":        "C_INTEGRATION",
		"payload":        payload,
		"correlation_id": uniqueCorrelation("itest"),
	}
	resp := makeRequest("POST", "/messages", body)
	if !resp.IsSuccess() {
		t.Fatalf("Failed to create test message: %s", resp.Message)
	}
	id := resp.GetString("id")
	if id == "" {
		t.Fatal("Created message has no id")
	}
	return id
}
