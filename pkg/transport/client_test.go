package transport_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/flowpages/pkg/models"
	"github.com/dukex/flowpages/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, baseURL string) *transport.Client {
	t.Helper()

	client, err := transport.NewClient(transport.Options{
		BaseURL: baseURL,
		Token:   "test-token",
		Timeout: 5 * time.Second,
		Poll: transport.RetryPolicy{
			MaxAttempts:  4,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
		},
	})
	require.NoError(t, err)

	return client
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, body any) {
	t.Helper()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	assert.NoError(t, json.NewEncoder(w).Encode(body))
}

func TestResolveTarget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		url      string
		expected transport.TargetKind
	}{
		{url: "https://ex.com/webhook/abc", expected: transport.TargetExternalWebhook},
		{url: "https://automation.example.com/webhook/flows/hot-lead", expected: transport.TargetExternalWebhook},
		{url: "http://localhost:8000/api/workflows/0b6f/webhook/hello/", expected: transport.TargetBackendWebhook},
		{url: "/api/workflows/0b6f/webhook/hello", expected: transport.TargetBackendWebhook},
		{url: "/workflows/0b6f/webhook", expected: transport.TargetBackendWebhook},
		{url: "/workflows/run/", expected: transport.TargetExternalWebhook},
	}

	for _, testCase := range tests {
		t.Run(testCase.url, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, testCase.expected, transport.ResolveTarget(testCase.url))
		})
	}
}

func TestClient_Dispatch_MissingWebhookURL(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newClient(t, server.URL)

	result := client.Dispatch(context.Background(), models.TriggerConfig{}, models.NewRunRequest("button-1", nil))

	assert.Equal(t, models.RunStatusError, result.Status)
	assert.NotEmpty(t, result.Message)
	assert.Equal(t, int32(0), calls.Load())
}

func TestClient_Dispatch_External(t *testing.T) {
	t.Parallel()

	var received map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/workflows/run/", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		writeJSON(t, w, http.StatusAccepted, map[string]any{
			"run_id":  "r1",
			"status":  "accepted",
			"message": "Workflow triggered, waiting for completion...",
		})
	}))
	defer server.Close()

	client := newClient(t, server.URL)
	cfg := models.TriggerConfig{
		WebhookURL:    "https://ex.com/webhook/abc",
		WorkflowID:    "wf-1",
		Secret:        "s3cret",
		WaitForResult: true,
	}

	result := client.Dispatch(context.Background(), cfg, models.NewRunRequest("button-1", map[string]string{"email": "a@b.c"}))

	assert.Equal(t, models.RunStatusAccepted, result.Status)
	assert.Equal(t, "r1", result.RunID)
	assert.True(t, result.Trackable())

	assert.Equal(t, "https://ex.com/webhook/abc", received["webhook_url"])
	assert.Equal(t, "wf-1", received["workflow_id"])
	assert.Equal(t, "s3cret", received["secret"])
	assert.Equal(t, true, received["wait_for_result"])

	data, ok := received["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "button-1", data["componentId"])
	assert.Equal(t, map[string]any{"email": "a@b.c"}, data["formData"])
	assert.NotEmpty(t, data["timestamp"])
}

func TestClient_Dispatch_ExternalStatuses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name            string
		status          int
		body            map[string]any
		expectedStatus  models.RunStatus
		expectedMessage string
		expectedRunID   string
	}{
		{
			name:            "accepted immediately",
			status:          http.StatusOK,
			body:            map[string]any{"run_id": "r2", "status": "accepted", "message": "queued"},
			expectedStatus:  models.RunStatusAccepted,
			expectedMessage: "queued",
			expectedRunID:   "r2",
		},
		{
			name:            "webhook timed out but may still run",
			status:          http.StatusAccepted,
			body:            map[string]any{"run_id": "r3", "status": "timeout", "message": "did not respond in time"},
			expectedStatus:  models.RunStatusAccepted,
			expectedMessage: "did not respond in time",
			expectedRunID:   "r3",
		},
		{
			name:            "bad gateway carries server error",
			status:          http.StatusBadGateway,
			body:            map[string]any{"run_id": "r4", "status": "error", "error": "Workflow webhook returned status 500"},
			expectedStatus:  models.RunStatusError,
			expectedMessage: "Workflow webhook returned status 500",
		},
		{
			name:            "problem details",
			status:          http.StatusBadRequest,
			body:            map[string]any{"type": "validation_error", "title": "Bad Request", "detail": "webhook_url is required"},
			expectedStatus:  models.RunStatusError,
			expectedMessage: "webhook_url is required",
		},
		{
			name:            "non json error body",
			status:          http.StatusInternalServerError,
			body:            nil,
			expectedStatus:  models.RunStatusError,
			expectedMessage: "workflow backend returned status 500",
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				if testCase.body == nil {
					w.WriteHeader(testCase.status)
					_, _ = w.Write([]byte("<html>oops</html>"))

					return
				}

				writeJSON(t, w, testCase.status, testCase.body)
			}))
			defer server.Close()

			client := newClient(t, server.URL)
			cfg := models.TriggerConfig{WebhookURL: "https://ex.com/webhook/abc"}

			result := client.Dispatch(context.Background(), cfg, models.NewRunRequest("b", nil))

			assert.Equal(t, testCase.expectedStatus, result.Status)
			assert.Equal(t, testCase.expectedMessage, result.Message)
			assert.Equal(t, testCase.expectedRunID, result.RunID)
		})
	}
}

func TestClient_Dispatch_NetworkError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	baseURL := server.URL
	server.Close()

	client := newClient(t, baseURL)
	cfg := models.TriggerConfig{WebhookURL: "https://ex.com/webhook/abc"}

	result := client.Dispatch(context.Background(), cfg, models.NewRunRequest("b", nil))

	assert.Equal(t, models.RunStatusError, result.Status)
	assert.Contains(t, result.Message, "Failed to trigger workflow")
}

func TestClient_Dispatch_BackendWebhook(t *testing.T) {
	t.Parallel()

	var received models.RunRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/workflows/wf-9/webhook/hello", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		writeJSON(t, w, http.StatusOK, map[string]any{
			"status": "completed",
			"data":   map[string]any{"ok": true},
			"execution": map[string]any{
				"status":       "completed",
				"execution_id": "ex-1",
				"duration":     0.42,
			},
		})
	}))
	defer server.Close()

	client := newClient(t, server.URL)
	cfg := models.TriggerConfig{WebhookURL: "/api/workflows/wf-9/webhook/hello", WaitForResult: true}

	result := client.Dispatch(context.Background(), cfg, models.NewRunRequest("b", map[string]string{"q": "1"}))

	assert.Equal(t, models.RunStatusSuccess, result.Status)
	assert.Empty(t, result.RunID)
	assert.Equal(t, map[string]any{"ok": true}, result.Data)
	require.NotNil(t, result.Execution)
	assert.Equal(t, "ex-1", result.Execution.ExecutionID)
	assert.Equal(t, "b", received.ComponentID)
	assert.Equal(t, "1", received.FormData["q"])
}

func TestClient_Dispatch_BackendWebhookFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{
			"status": "failed",
			"error":  "node http_1 failed",
		})
	}))
	defer server.Close()

	client := newClient(t, server.URL)
	cfg := models.TriggerConfig{WebhookURL: server.URL + "/workflows/wf-9/webhook/hello"}

	result := client.Dispatch(context.Background(), cfg, models.NewRunRequest("b", nil))

	assert.Equal(t, models.RunStatusError, result.Status)
	assert.Equal(t, "node http_1 failed", result.Message)
}

func TestClient_Status(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/workflows/r1/status/":
			writeJSON(t, w, http.StatusOK, map[string]any{
				"run_id":       "r1",
				"status":       "done",
				"last_step":    "notify",
				"last_message": "all good",
				"last_data":    map[string]any{"ok": true},
			})
		default:
			writeJSON(t, w, http.StatusNotFound, map[string]any{"error": "Run ID not found"})
		}
	}))
	defer server.Close()

	client := newClient(t, server.URL)

	event, err := client.Status(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", event.RunID)
	assert.Equal(t, models.UpdateStateDone, event.State)
	assert.Equal(t, "notify", event.Step)
	assert.Equal(t, "all good", event.Message)

	_, err = client.Status(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, transport.ErrRunNotFound)
	assert.True(t, transport.IsTransportError(err))
}
