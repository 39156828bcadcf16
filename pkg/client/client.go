package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Client is a thin HTTP client for the Paddock API. All calls authenticate
// with a bearer API key.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a client for the API at baseURL.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is a non-2xx response from the API.
type APIError struct {
	Status    int
	Message   string `json:"error"`
	Reason    string `json:"reason,omitempty"`
	QuotaType string `json:"quota_type,omitempty"`
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Reason, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// SubmitRunRequest asks for a new run to be admitted.
type SubmitRunRequest struct {
	AgentID        string          `json:"agent_id"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Priority       float64         `json:"priority,omitempty"`
	Effort         string          `json:"effort,omitempty"`
	Budget         *Budget         `json:"budget,omitempty"`
	ScheduledAt    time.Time       `json:"scheduled_at,omitempty"`
	TimeoutSeconds int             `json:"timeout_seconds,omitempty"`
	MaxAttempts    int             `json:"max_attempts,omitempty"`
}

// Budget caps a run's consumption.
type Budget struct {
	MaxTokens          int64   `json:"max_tokens,omitempty"`
	MaxCost            float64 `json:"max_cost,omitempty"`
	MaxDurationSeconds int     `json:"max_duration_seconds,omitempty"`
	MaxSteps           int     `json:"max_steps,omitempty"`
	AllowDemote        bool    `json:"allow_demote,omitempty"`
	TierFloor          string  `json:"tier_floor,omitempty"`
}

// QueueItem is admitted work awaiting or undergoing dispatch.
type QueueItem struct {
	ID                string     `json:"id"`
	TenantID          string     `json:"tenant_id"`
	AgentID           string     `json:"agent_id"`
	IdempotencyKey    string     `json:"idempotency_key,omitempty"`
	BasePriority      float64    `json:"base_priority"`
	EffectivePriority float64    `json:"effective_priority"`
	Attempts          int        `json:"attempts"`
	MaxAttempts       int        `json:"max_attempts"`
	Status            string     `json:"status"`
	RunID             string     `json:"run_id,omitempty"`
	Error             string     `json:"error,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
}

// Run is one logical execution with its consumption and steps.
type Run struct {
	ID           string     `json:"id"`
	TenantID     string     `json:"tenant_id"`
	AgentID      string     `json:"agent_id"`
	TraceID      string     `json:"trace_id,omitempty"`
	Tier         string     `json:"tier"`
	Status       string     `json:"status"`
	StatusReason string     `json:"status_reason,omitempty"`
	Output       []byte     `json:"output,omitempty"`
	Error        string     `json:"error,omitempty"`
	Consumed     Consumed   `json:"consumed"`
	Steps        []Step     `json:"steps,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// Consumed is a run's resource usage so far.
type Consumed struct {
	Tokens     int64   `json:"tokens"`
	Cost       float64 `json:"cost"`
	DurationMS int64   `json:"duration_ms"`
	Steps      int     `json:"steps"`
	Downgrades int     `json:"downgrades"`
}

// Step is one completed worker invocation within a run.
type Step struct {
	Index      int     `json:"index"`
	Tier       string  `json:"tier"`
	Status     string  `json:"status"`
	InputHash  string  `json:"input_hash"`
	OutputHash string  `json:"output_hash,omitempty"`
	Tokens     int64   `json:"tokens"`
	Cost       float64 `json:"cost"`
}

// Usage is a tenant's consumption for one UTC day.
type Usage struct {
	TenantID string  `json:"tenant_id"`
	Date     string  `json:"date"`
	Runs     int64   `json:"runs"`
	Tokens   int64   `json:"tokens"`
	Cost     float64 `json:"cost"`
}

// SubmitRun admits a run request and returns the queue item tracking it.
func (c *Client) SubmitRun(ctx context.Context, req *SubmitRunRequest) (*QueueItem, error) {
	var item QueueItem
	if err := c.do(ctx, http.MethodPost, "/v1/runs", req, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// GetItem fetches a queue item by id.
func (c *Client) GetItem(ctx context.Context, id string) (*QueueItem, error) {
	var item QueueItem
	if err := c.do(ctx, http.MethodGet, "/v1/items/"+url.PathEscape(id), nil, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// CancelItem cancels a queue item.
func (c *Client) CancelItem(ctx context.Context, id string) (*QueueItem, error) {
	var item QueueItem
	if err := c.do(ctx, http.MethodPost, "/v1/items/"+url.PathEscape(id)+"/cancel", nil, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// GetRun fetches a run with its steps.
func (c *Client) GetRun(ctx context.Context, id string) (*Run, error) {
	var run Run
	if err := c.do(ctx, http.MethodGet, "/v1/runs/"+url.PathEscape(id), nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// CancelRun requests cooperative cancellation of a run.
func (c *Client) CancelRun(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/v1/runs/"+url.PathEscape(id)+"/cancel", nil, nil)
}

// Usage fetches a tenant's daily rollup. An empty date means today.
func (c *Client) Usage(ctx context.Context, tenantID, date string) (*Usage, error) {
	path := "/v1/tenants/" + url.PathEscape(tenantID) + "/usage"
	if date != "" {
		path += "?date=" + url.QueryEscape(date)
	}
	var usage Usage
	if err := c.do(ctx, http.MethodGet, path, nil, &usage); err != nil {
		return nil, err
	}
	return &usage, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body bytes.Buffer
	if in != nil {
		if err := json.NewEncoder(&body).Encode(in); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
