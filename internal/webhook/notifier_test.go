package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay/internal/config"
	"relay/internal/invoker"
	"relay/internal/logger"
)

func TestNotify_DeliversPayload(t *testing.T) {
	var got Notification
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	n := NewNotifier(config.WebhookConfig{URL: server.URL}, logger.NopLogger())
	require.True(t, n.Enabled())

	err := n.Notify(context.Background(), Notification{
		CorrelationID: "corr-1",
		PipelineName:  "pl_daily",
		RunID:         "run-1",
		Status:        invoker.StatusSucceeded,
	})
	require.NoError(t, err)

	assert.Equal(t, "corr-1", got.CorrelationID)
	assert.Equal(t, invoker.StatusSucceeded, got.Status)
}

func TestNotify_NoURLIsNoOp(t *testing.T) {
	n := NewNotifier(config.WebhookConfig{}, logger.NopLogger())
	assert.False(t, n.Enabled())
	require.NoError(t, n.Notify(context.Background(), Notification{}))
}

func TestNotify_RejectedDelivery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer server.Close()

	n := NewNotifier(config.WebhookConfig{URL: server.URL}, logger.NopLogger())
	require.Error(t, n.Notify(context.Background(), Notification{}))
}

func TestNotify_UnreachableTarget(t *testing.T) {
	n := NewNotifier(config.WebhookConfig{URL: "http://127.0.0.1:1"}, logger.NopLogger())
	require.Error(t, n.Notify(context.Background(), Notification{}))
}
