package queue

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/paddockio/paddock/pkg/metrics"
	"github.com/paddockio/paddock/pkg/types"
)

// SubmitRequest is one admission attempt.
type SubmitRequest struct {
	TenantID       string
	AgentID        string
	Payload        []byte
	IdempotencyKey string
	Budget         *types.Budget
	Priority       float64 // Base priority in [0, 100]
	Effort         types.EffortLevel
	ScheduledAt    time.Time // Zero means immediately eligible
	Timeout        time.Duration
	MaxAttempts    int
}

// maxIdempotencyKeyBytes bounds client-chosen idempotency keys; they are
// stored verbatim as ledger index keys.
const maxIdempotencyKeyBytes = 255

// Submit runs the admission pipeline and enqueues the item. Refusals are
// returned as *types.Rejection; the queue never drops work silently. The
// pipeline order is fixed: tenant status, agent allowlist, queue depth, rate
// windows, then persist and count the admission against all three windows.
func (q *Queue) Submit(req *SubmitRequest) (*types.QueueItem, error) {
	now := time.Now()

	if len(req.IdempotencyKey) > maxIdempotencyKeyBytes {
		return nil, fmt.Errorf("idempotency key is %d bytes, limit is %d: %w",
			len(req.IdempotencyKey), maxIdempotencyKeyBytes, types.ErrInvalidInput)
	}

	tenant, err := q.store.GetTenant(req.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant %s: %w", req.TenantID, err)
	}
	if tenant.Status != types.TenantStatusActive {
		return nil, q.reject(&types.Rejection{
			Reason:  types.RejectTenantInactive,
			Message: fmt.Sprintf("tenant %s is %s", tenant.ID, tenant.Status),
		})
	}

	allowlist, err := q.store.GetAgentAllowlist(tenant.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load agent allowlist: %w", err)
	}
	if len(allowlist) > 0 && !contains(allowlist, req.AgentID) {
		return nil, q.reject(&types.Rejection{
			Reason:  types.RejectAgentForbidden,
			Message: fmt.Sprintf("agent %s is not allowed for tenant %s", req.AgentID, tenant.ID),
		})
	}

	if tenant.Quota != nil && tenant.Quota.QueueDepthCap > 0 {
		depth, err := q.store.CountQueueDepth(tenant.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to count queue depth: %w", err)
		}
		if depth >= tenant.Quota.QueueDepthCap {
			return nil, q.reject(&types.Rejection{
				Reason:  types.RejectQueueDepth,
				Message: fmt.Sprintf("backpressure: depth %d at cap %d", depth, tenant.Quota.QueueDepthCap),
			})
		}
	}

	if tenant.Quota != nil {
		rej, err := q.tracker.CheckWindows(tenant.ID, tenant.Quota, now)
		if err != nil {
			return nil, fmt.Errorf("failed to check rate windows: %w", err)
		}
		if rej != nil {
			return nil, q.reject(rej)
		}
	}

	var boost float64
	if tenant.Quota != nil {
		boost = tenant.Quota.PriorityBoost
	}
	effective := clampPriority(req.Priority + boost)

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = q.cfg.DefaultStepTimeout
	}

	item := &types.QueueItem{
		ID:                uuid.New().String(),
		TenantID:          tenant.ID,
		AgentID:           req.AgentID,
		Payload:           req.Payload,
		IdempotencyKey:    req.IdempotencyKey,
		Budget:            req.Budget,
		Effort:            req.Effort,
		BasePriority:      clampPriority(req.Priority),
		EffectivePriority: effective,
		MaxAttempts:       maxAttempts,
		ScheduledAt:       req.ScheduledAt,
		Timeout:           timeout,
		Status:            types.QueueItemPending,
		CreatedAt:         now,
	}

	if err := q.store.CreateQueueItem(item); err != nil {
		return nil, fmt.Errorf("failed to enqueue item: %w", err)
	}
	if err := q.tracker.IncrementWindows(tenant.ID, now); err != nil {
		return nil, fmt.Errorf("failed to count admission: %w", err)
	}

	metrics.AdmissionsTotal.WithLabelValues(string(tenant.Tier)).Inc()
	q.logger.Debug().
		Str("item_id", item.ID).
		Str("tenant_id", tenant.ID).
		Str("agent_id", req.AgentID).
		Float64("effective_priority", effective).
		Msg("Admitted queue item")
	return item, nil
}

// reject counts and returns a typed refusal.
func (q *Queue) reject(rej *types.Rejection) error {
	metrics.RejectionsTotal.WithLabelValues(string(rej.Reason)).Inc()
	q.logger.Debug().
		Str("reason", string(rej.Reason)).
		Str("message", rej.Message).
		Msg("Rejected admission")
	return rej
}

// clampPriority clamps to the priority scale [0, 100].
func clampPriority(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
