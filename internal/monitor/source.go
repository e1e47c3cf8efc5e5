package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/riskeye/internal/alert"
	"github.com/riskeye/internal/models"
)

// HTTPSource fetches live metric values from a feed service:
// GET {base}/metrics?alert_type=&alert_class=&position_id= returning
// {"value": <number>}.
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

func NewHTTPSource(baseURL string, client *http.Client) *HTTPSource {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPSource{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type metricResponse struct {
	Value *float64 `json:"value"`
	Error string   `json:"error,omitempty"`
}

func (s *HTTPSource) FetchMetric(ctx context.Context, cfg *models.AlertConfig) (float64, error) {
	q := url.Values{}
	q.Set("alert_type", cfg.AlertType)
	q.Set("alert_class", cfg.AlertClass)
	if cfg.PositionReferenceID != nil {
		q.Set("position_id", *cfg.PositionReferenceID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/metrics?"+q.Encode(), nil)
	if err != nil {
		return 0, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("metric feed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, fmt.Errorf("metric feed: %w", err)
	}

	var out metricResponse
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		json.Unmarshal(body, &out)
		return 0, fmt.Errorf("%w: %s", alert.ErrMetricUnavailable, strings.TrimSpace(out.Error))
	default:
		return 0, fmt.Errorf("metric feed returned status code: %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, fmt.Errorf("metric feed: invalid response: %w", err)
	}
	if out.Value == nil {
		return 0, fmt.Errorf("%w: response has no value", alert.ErrMetricUnavailable)
	}
	return *out.Value, nil
}
