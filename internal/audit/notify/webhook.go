package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/audit-trail/audit-trail/internal/config"
)

// Webhook posts alerts as JSON to an HTTP endpoint.
type Webhook struct {
	cfg    *config.WebhookConfig
	client *http.Client
}

// NewWebhook creates a webhook notifier.
func NewWebhook(cfg *config.WebhookConfig) (*Webhook, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// Name implements Notifier.
func (w *Webhook) Name() string { return "webhook" }

// Notify sends the alert to the webhook
func (w *Webhook) Notify(ctx context.Context, alert *Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Close implements Notifier.
func (w *Webhook) Close() error {
	w.client.CloseIdleConnections()
	return nil
}
