package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"relay/internal/config"
	"relay/internal/constants"
	"relay/internal/invoker"
	"relay/internal/logger"
	"relay/pkg/metrics"
)

// Notification is the terminal-status payload POSTed to the configured
// webhook when a run completes.
type Notification struct {
	CorrelationID string         `json:"correlationId"`
	PipelineName  string         `json:"pipelineName"`
	RunID         string         `json:"runId"`
	Status        invoker.Status `json:"status"`
}

// Notifier delivers best-effort terminal-status notifications. Delivery
// failures are logged, never retried and never fed back into dispatch.
type Notifier struct {
	url    string
	client *http.Client
	logger logger.Logger
}

func NewNotifier(cfg config.WebhookConfig, log logger.Logger) *Notifier {
	timeout := cfg.TimeoutSeconds
	if timeout <= 0 {
		timeout = constants.DefaultHTTPTimeout
	}

	return &Notifier{
		url:    cfg.URL,
		client: &http.Client{Timeout: timeout},
		logger: log,
	}
}

// Enabled reports whether a webhook target is configured.
func (n *Notifier) Enabled() bool {
	return n.url != ""
}

func (n *Notifier) Notify(ctx context.Context, notification Notification) error {
	if !n.Enabled() {
		return nil
	}

	body, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		metrics.WebhookNotificationsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("webhook delivery failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.WebhookNotificationsTotal.WithLabelValues("rejected").Inc()
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}

	metrics.WebhookNotificationsTotal.WithLabelValues("delivered").Inc()
	n.logger.InfowCtx(ctx, "Terminal status delivered to webhook",
		"correlation_id", notification.CorrelationID,
		"status", notification.Status,
	)

	return nil
}
