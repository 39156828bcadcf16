package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/paddockio/paddock/pkg/executor"
	"github.com/paddockio/paddock/pkg/log"
	"github.com/paddockio/paddock/pkg/types"
)

// stepRequest is the wire form of one step invocation.
type stepRequest struct {
	RunID          string       `json:"run_id"`
	TenantID       string       `json:"tenant_id"`
	AgentID        string       `json:"agent_id"`
	TraceID        string       `json:"trace_id,omitempty"`
	Index          int          `json:"index"`
	Tier           types.TierID `json:"tier"`
	Input          []byte       `json:"input"`
	InputHash      string       `json:"input_hash"`
	ThinkingBudget int64        `json:"thinking_budget,omitempty"`
}

// stepResponse is the wire form of a worker's reply.
type stepResponse struct {
	Output           []byte `json:"output,omitempty"`
	Tokens           int64  `json:"tokens"`
	Cost             float64 `json:"cost"`
	Done             bool   `json:"done"`
	ExternalProvider string `json:"external_provider,omitempty"`
	ExternalID       string `json:"external_id,omitempty"`
	Error            string `json:"error,omitempty"`
}

// HTTPWorker invokes an upstream model worker over HTTP. It implements
// executor.Worker and maps HTTP status codes onto the executor's error
// classes: 429 and 5xx retry, 503 degrades, other 4xx fail the run.
type HTTPWorker struct {
	endpoint string
	client   *http.Client
	logger   zerolog.Logger
}

// NewHTTPWorker creates a worker client for the given endpoint.
func NewHTTPWorker(endpoint string) *HTTPWorker {
	return &HTTPWorker{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 5 * time.Minute},
		logger:   log.WithComponent("worker"),
	}
}

// Invoke performs one step against the upstream worker.
func (w *HTTPWorker) Invoke(ctx context.Context, req *executor.StepRequest) (*executor.StepResult, error) {
	body, err := json.Marshal(&stepRequest{
		RunID:          req.RunID,
		TenantID:       req.TenantID,
		AgentID:        req.AgentID,
		TraceID:        req.TraceID,
		Index:          req.Index,
		Tier:           req.Tier,
		Input:          req.Input,
		InputHash:      req.InputHash,
		ThinkingBudget: req.ThinkingBudget,
	})
	if err != nil {
		return nil, executor.NewNonRetryableError("failed to encode step request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint+"/v1/step", bytes.NewReader(body))
	if err != nil {
		return nil, executor.NewNonRetryableError("failed to build step request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(httpReq)
	if err != nil {
		return nil, executor.NewRetryableError("worker unreachable", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, executor.NewRetryableError("worker rate limited", nil)
	case resp.StatusCode == http.StatusServiceUnavailable:
		return nil, executor.NewDegradableError("worker capacity exhausted", nil)
	case resp.StatusCode >= 500:
		return nil, executor.NewRetryableError(fmt.Sprintf("worker returned %d", resp.StatusCode), nil)
	default:
		return nil, executor.NewNonRetryableError(fmt.Sprintf("worker returned %d", resp.StatusCode), nil)
	}

	var out stepResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, executor.NewRetryableError("failed to decode worker response", err)
	}
	if out.Error != "" {
		return nil, executor.NewNonRetryableError(out.Error, nil)
	}

	res := &executor.StepResult{
		Output: out.Output,
		Tokens: out.Tokens,
		Cost:   out.Cost,
		Done:   out.Done,
	}
	if out.ExternalProvider != "" {
		res.ExternalJob = &executor.ExternalJob{
			Provider:   out.ExternalProvider,
			ExternalID: out.ExternalID,
		}
	}
	return res, nil
}
