package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// DefaultWebhookTimeout bounds the fallback call; a slow subscriber must
// never hold up batch persistence.
const DefaultWebhookTimeout = 2 * time.Second

// Webhook is the degraded notification route: one authenticated
// request/response call per event when the duplex channel is down.
type Webhook struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// NewWebhook creates the fallback sender. A non-positive timeout uses
// DefaultWebhookTimeout.
func NewWebhook(endpoint string, timeout time.Duration, logger *slog.Logger) *Webhook {
	if timeout <= 0 {
		timeout = DefaultWebhookTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Webhook{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// Send posts one event. The event's auth token authorizes the call.
func (w *Webhook) Send(ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+ev.AuthToken)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("subscriber returned %s", resp.Status)
	}
	return nil
}
