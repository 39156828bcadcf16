package api

import (
	"time"

	"github.com/paddockio/paddock/pkg/types"
)

// Wire representations. Internal types stay free of json tags; the API
// layer owns the shape of what goes over the wire.

type itemResponse struct {
	ID                string          `json:"id"`
	TenantID          string          `json:"tenant_id"`
	AgentID           string          `json:"agent_id"`
	IdempotencyKey    string          `json:"idempotency_key,omitempty"`
	BasePriority      float64         `json:"base_priority"`
	EffectivePriority float64         `json:"effective_priority"`
	Attempts          int             `json:"attempts"`
	MaxAttempts       int             `json:"max_attempts"`
	Status            string          `json:"status"`
	RunID             string          `json:"run_id,omitempty"`
	Error             string          `json:"error,omitempty"`
	ScheduledAt       *time.Time      `json:"scheduled_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	StartedAt         *time.Time      `json:"started_at,omitempty"`
	FinishedAt        *time.Time      `json:"finished_at,omitempty"`
}

type runResponse struct {
	ID             string          `json:"id"`
	TenantID       string          `json:"tenant_id"`
	AgentID        string          `json:"agent_id"`
	TraceID        string          `json:"trace_id,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Tier           string          `json:"tier"`
	Effort         string          `json:"effort,omitempty"`
	Status         string          `json:"status"`
	StatusReason   string          `json:"status_reason,omitempty"`
	Output         []byte          `json:"output,omitempty"` // base64 on the wire; opaque to the ledger
	OutputHash     string          `json:"output_hash,omitempty"`
	Error          string          `json:"error,omitempty"`
	Consumed       consumedDTO     `json:"consumed"`
	Steps          []stepResponse  `json:"steps,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	FinishedAt     *time.Time      `json:"finished_at,omitempty"`
}

type consumedDTO struct {
	Tokens     int64   `json:"tokens"`
	Cost       float64 `json:"cost"`
	DurationMS int64   `json:"duration_ms"`
	Steps      int     `json:"steps"`
	Downgrades int     `json:"downgrades"`
}

type stepResponse struct {
	Index      int       `json:"index"`
	Tier       string    `json:"tier"`
	Status     string    `json:"status"`
	InputHash  string    `json:"input_hash"`
	OutputHash string    `json:"output_hash,omitempty"`
	Tokens     int64     `json:"tokens"`
	Cost       float64   `json:"cost"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

type tenantResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Tier      string    `json:"tier"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type usageResponse struct {
	TenantID string  `json:"tenant_id"`
	Date     string  `json:"date"`
	Runs     int64   `json:"runs"`
	Tokens   int64   `json:"tokens"`
	Cost     float64 `json:"cost"`
}

type keyResponse struct {
	ID        string     `json:"id"`
	TenantID  string     `json:"tenant_id"`
	Name      string     `json:"name"`
	Prefix    string     `json:"prefix"`
	Scopes    []string   `json:"scopes"`
	Token     string     `json:"token,omitempty"` // Only on creation
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

func itemToAPI(item *types.QueueItem) *itemResponse {
	return &itemResponse{
		ID:                item.ID,
		TenantID:          item.TenantID,
		AgentID:           item.AgentID,
		IdempotencyKey:    item.IdempotencyKey,
		BasePriority:      item.BasePriority,
		EffectivePriority: item.EffectivePriority,
		Attempts:          item.Attempts,
		MaxAttempts:       item.MaxAttempts,
		Status:            string(item.Status),
		RunID:             item.RunID,
		Error:             item.Error,
		ScheduledAt:       optionalTime(item.ScheduledAt),
		CreatedAt:         item.CreatedAt,
		StartedAt:         optionalTime(item.StartedAt),
		FinishedAt:        optionalTime(item.FinishedAt),
	}
}

func runToAPI(run *types.Run, steps []*types.Step) *runResponse {
	resp := &runResponse{
		ID:             run.ID,
		TenantID:       run.TenantID,
		AgentID:        run.AgentID,
		TraceID:        run.TraceID,
		IdempotencyKey: run.IdempotencyKey,
		Tier:           string(run.Tier),
		Effort:         string(run.Effort),
		Status:         string(run.Status),
		StatusReason:   run.StatusReason,
		Output:         run.Output,
		OutputHash:     run.OutputHash,
		Error:          run.Error,
		Consumed: consumedDTO{
			Tokens:     run.Consumed.Tokens,
			Cost:       run.Consumed.Cost,
			DurationMS: run.Consumed.Duration.Milliseconds(),
			Steps:      run.Consumed.Steps,
			Downgrades: run.Consumed.Downgrades,
		},
		CreatedAt:  run.CreatedAt,
		StartedAt:  optionalTime(run.StartedAt),
		FinishedAt: optionalTime(run.FinishedAt),
	}
	for _, st := range steps {
		resp.Steps = append(resp.Steps, stepResponse{
			Index:      st.Index,
			Tier:       string(st.Tier),
			Status:     string(st.Status),
			InputHash:  st.InputHash,
			OutputHash: st.OutputHash,
			Tokens:     st.Tokens,
			Cost:       st.Cost,
			DurationMS: st.Duration.Milliseconds(),
			CreatedAt:  st.CreatedAt,
		})
	}
	return resp
}

func tenantToAPI(t *types.Tenant) *tenantResponse {
	return &tenantResponse{
		ID:        t.ID,
		Name:      t.Name,
		Tier:      string(t.Tier),
		Status:    string(t.Status),
		CreatedAt: t.CreatedAt,
	}
}

func keyToAPI(k *types.APIKey, token string) *keyResponse {
	return &keyResponse{
		ID:        k.ID,
		TenantID:  k.TenantID,
		Name:      k.Name,
		Prefix:    k.Prefix,
		Scopes:    k.Scopes,
		Token:     token,
		ExpiresAt: optionalTime(k.ExpiresAt),
		CreatedAt: k.CreatedAt,
	}
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
