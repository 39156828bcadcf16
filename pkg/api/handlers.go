package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/paddockio/paddock/pkg/manager"
	"github.com/paddockio/paddock/pkg/queue"
	"github.com/paddockio/paddock/pkg/quota"
	"github.com/paddockio/paddock/pkg/types"
)

type submitRunRequest struct {
	AgentID        string          `json:"agent_id"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Priority       float64         `json:"priority,omitempty"`
	Effort         string          `json:"effort,omitempty"`
	Budget         *budgetRequest  `json:"budget,omitempty"`
	ScheduledAt    time.Time       `json:"scheduled_at,omitempty"`
	TimeoutSeconds int             `json:"timeout_seconds,omitempty"`
	MaxAttempts    int             `json:"max_attempts,omitempty"`
}

type budgetRequest struct {
	MaxTokens          int64   `json:"max_tokens,omitempty"`
	MaxCost            float64 `json:"max_cost,omitempty"`
	MaxDurationSeconds int     `json:"max_duration_seconds,omitempty"`
	MaxSteps           int     `json:"max_steps,omitempty"`
	AllowDemote        bool    `json:"allow_demote,omitempty"`
	TierFloor          string  `json:"tier_floor,omitempty"`
}

func (s *Server) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	key := keyFromContext(r.Context())

	var req submitRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AgentID == "" || len(req.Payload) == 0 {
		writeError(w, http.StatusBadRequest, "agent_id and payload are required")
		return
	}

	sub := &queue.SubmitRequest{
		TenantID:       key.TenantID,
		AgentID:        req.AgentID,
		Payload:        req.Payload,
		IdempotencyKey: req.IdempotencyKey,
		Priority:       req.Priority,
		Effort:         types.EffortLevel(req.Effort),
		ScheduledAt:    req.ScheduledAt,
		Timeout:        time.Duration(req.TimeoutSeconds) * time.Second,
		MaxAttempts:    req.MaxAttempts,
	}
	if req.Budget != nil {
		sub.Budget = &types.Budget{
			MaxTokens:   req.Budget.MaxTokens,
			MaxCost:     req.Budget.MaxCost,
			MaxDuration: time.Duration(req.Budget.MaxDurationSeconds) * time.Second,
			MaxSteps:    req.Budget.MaxSteps,
			AllowDemote: req.Budget.AllowDemote,
			TierFloor:   types.TierID(req.Budget.TierFloor),
		}
	}

	subject := map[string]any{"id": key.ID}
	item, err := s.manager.Submit(subject, sub)
	if err != nil {
		writeSubmitError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, itemToAPI(item))
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	key := keyFromContext(r.Context())
	item, err := s.manager.Store().GetQueueItem(chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if !canAccessTenant(key, item.TenantID) {
		writeError(w, http.StatusNotFound, "queue item not found")
		return
	}
	writeJSON(w, http.StatusOK, itemToAPI(item))
}

func (s *Server) handleCancelItem(w http.ResponseWriter, r *http.Request) {
	key := keyFromContext(r.Context())
	id := chi.URLParam(r, "id")

	item, err := s.manager.Store().GetQueueItem(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if !canAccessTenant(key, item.TenantID) {
		writeError(w, http.StatusNotFound, "queue item not found")
		return
	}

	if err := s.manager.CancelItem(id); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			writeError(w, http.StatusNotFound, "queue item not found")
			return
		}
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	item, err = s.manager.Store().GetQueueItem(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, itemToAPI(item))
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	key := keyFromContext(r.Context())
	run, err := s.manager.Store().GetRun(chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if !canAccessTenant(key, run.TenantID) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	steps, err := s.manager.Store().ListSteps(run.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load steps")
		return
	}
	writeJSON(w, http.StatusOK, runToAPI(run, steps))
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	key := keyFromContext(r.Context())
	id := chi.URLParam(r, "id")

	run, err := s.manager.Store().GetRun(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if !canAccessTenant(key, run.TenantID) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	if err := s.manager.CancelRun(id); err != nil {
		if errors.Is(err, types.ErrTerminalState) {
			writeError(w, http.StatusConflict, "run already finished")
			return
		}
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleGetUsage(w http.ResponseWriter, r *http.Request) {
	key := keyFromContext(r.Context())
	tenantID := chi.URLParam(r, "id")
	if !canAccessTenant(key, tenantID) {
		writeError(w, http.StatusNotFound, "tenant not found")
		return
	}

	date := r.URL.Query().Get("date")
	if date == "" {
		date = quota.Day(time.Now())
	}

	usage, err := s.manager.Store().GetUsage(tenantID, date)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			writeJSON(w, http.StatusOK, &usageResponse{TenantID: tenantID, Date: date})
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load usage")
		return
	}
	writeJSON(w, http.StatusOK, &usageResponse{
		TenantID: usage.TenantID,
		Date:     usage.Date,
		Runs:     usage.Runs,
		Tokens:   usage.Tokens,
		Cost:     usage.Cost,
	})
}

// writeSubmitError maps admission refusals onto status codes. Typed
// rejections carry their reason (and the violated window for rate refusals)
// so clients can back off intelligently.
func writeSubmitError(w http.ResponseWriter, err error) {
	var rej *types.Rejection
	if errors.As(err, &rej) {
		status := http.StatusTooManyRequests
		switch rej.Reason {
		case types.RejectTenantInactive, types.RejectAgentForbidden:
			status = http.StatusForbidden
		}
		writeJSON(w, status, map[string]string{
			"error":      rej.Message,
			"reason":     string(rej.Reason),
			"quota_type": rej.QuotaType,
		})
		return
	}
	if errors.Is(err, manager.ErrPolicyDenied) {
		writeError(w, http.StatusForbidden, err.Error())
		return
	}
	if errors.Is(err, types.ErrInvalidInput) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if errors.Is(err, types.ErrNotFound) {
		writeError(w, http.StatusNotFound, "tenant not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, types.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
