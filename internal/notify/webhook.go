package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/riskeye/internal/alert"
)

// WebhookNotifier posts alerts as JSON to an SMS or voice gateway.
type WebhookNotifier struct {
	name   string
	url    string
	client *http.Client
}

type WebhookPayload struct {
	AlertID    string  `json:"alert_id"`
	AlertType  string  `json:"alert_type"`
	AlertClass string  `json:"alert_class"`
	Channel    string  `json:"channel"`
	Level      string  `json:"level"`
	Previous   string  `json:"previous"`
	Value      float64 `json:"value"`
	Message    string  `json:"message"`
	Timestamp  int64   `json:"ts"`
}

func NewWebhookNotifier(name, url string, client *http.Client) *WebhookNotifier {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &WebhookNotifier{name: name, url: url, client: client}
}

func (w *WebhookNotifier) Name() string {
	return w.name
}

func (w *WebhookNotifier) Send(ctx context.Context, a alert.EvaluatedAlert) error {
	payload, err := json.Marshal(&WebhookPayload{
		AlertID:    a.Config.ID,
		AlertType:  a.Config.AlertType,
		AlertClass: a.Config.AlertClass,
		Channel:    w.name,
		Level:      string(a.State.Level),
		Previous:   string(a.Previous),
		Value:      a.Value,
		Message:    a.Message,
		Timestamp:  time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send %s webhook: %w", w.name, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s webhook returned status code: %d", w.name, resp.StatusCode)
	}
	return nil
}
