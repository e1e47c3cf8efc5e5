package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/riskeye/internal/alert"
	"github.com/riskeye/internal/models"
	"github.com/riskeye/internal/monitor"
	"github.com/riskeye/internal/monitorcfg"
)

// Client talks to a running riskeye daemon.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, token string) (*Client, error) {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	if token == "" {
		return nil, fmt.Errorf("api token is not set (use --token or RISKEYE_API_TOKEN)")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

type LogFilter struct {
	AlertID string
	Phase   string
	Level   string
	Since   *time.Time
	Limit   int
}

type SchedulerStatus struct {
	Stats monitor.Stats `json:"stats"`
	Error string        `json:"error,omitempty"`
}

func (c *Client) ListAlerts(ctx context.Context) ([]models.AlertConfig, error) {
	var alerts []models.AlertConfig
	if err := c.do(ctx, http.MethodGet, "/api/v1/alerts", nil, &alerts); err != nil {
		return nil, err
	}
	return alerts, nil
}

func (c *Client) GetAlert(ctx context.Context, id string) (*models.AlertConfig, error) {
	var cfg models.AlertConfig
	if err := c.do(ctx, http.MethodGet, "/api/v1/alerts/"+url.PathEscape(id), nil, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Client) CreateAlert(ctx context.Context, cfg models.AlertConfig) (*models.AlertConfig, error) {
	var created models.AlertConfig
	if err := c.do(ctx, http.MethodPost, "/api/v1/alerts", cfg, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) DeleteAlert(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/alerts/"+url.PathEscape(id), nil, nil)
}

func (c *Client) Snooze(ctx context.Context, id string, d time.Duration) (*models.AlertState, error) {
	data := map[string]int{"seconds": int(d / time.Second)}
	var state models.AlertState
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/alerts/%s/snooze", url.PathEscape(id)), data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (c *Client) Unsnooze(ctx context.Context, id string) (*models.AlertState, error) {
	var state models.AlertState
	if err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/v1/alerts/%s/snooze", url.PathEscape(id)), nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (c *Client) ResetSection(ctx context.Context, section string) (int, error) {
	var resp struct {
		Cleared int `json:"cleared"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/snooze/reset/"+url.PathEscape(section), nil, &resp); err != nil {
		return 0, err
	}
	return resp.Cleared, nil
}

func (c *Client) ListLogs(ctx context.Context, f LogFilter) ([]models.AlertLog, error) {
	query := url.Values{}
	if f.AlertID != "" {
		query.Set("alert_id", f.AlertID)
	}
	if f.Phase != "" {
		query.Set("phase", f.Phase)
	}
	if f.Level != "" {
		query.Set("level", f.Level)
	}
	if f.Since != nil {
		query.Set("since", f.Since.Format(time.RFC3339))
	}
	if f.Limit > 0 {
		query.Set("limit", fmt.Sprintf("%d", f.Limit))
	}

	endpoint := "/api/v1/logs"
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var logs []models.AlertLog
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

func (c *Client) RunCycle(ctx context.Context) (*alert.CycleReport, error) {
	var report alert.CycleReport
	if err := c.do(ctx, http.MethodPost, "/api/v1/cycle", nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func (c *Client) Scheduler(ctx context.Context) (*SchedulerStatus, error) {
	var status SchedulerStatus
	if err := c.do(ctx, http.MethodGet, "/api/v1/scheduler", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) Config(ctx context.Context) (*monitorcfg.LoadResult, error) {
	var res monitorcfg.LoadResult
	if err := c.do(ctx, http.MethodGet, "/api/v1/config", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) SetPolicy(ctx context.Context, policy string) error {
	return c.do(ctx, http.MethodPut, "/api/v1/config/precedence", map[string]string{"policy": policy}, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, data, v interface{}) error {
	var body io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(jsonData)
	}

	resp, err := c.doRequest(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if v != nil {
		return json.NewDecoder(resp.Body).Decode(v)
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Response, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	rel, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	u.Path = path.Join(u.Path, rel.Path)
	u.RawQuery = rel.RawQuery

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		var errResp struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Error != "" {
			return nil, &APIError{Status: resp.StatusCode, Message: errResp.Error}
		}
		return nil, &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}

	return resp, nil
}

type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Message)
}
