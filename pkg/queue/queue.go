package queue

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/paddockio/paddock/pkg/config"
	"github.com/paddockio/paddock/pkg/log"
	"github.com/paddockio/paddock/pkg/metrics"
	"github.com/paddockio/paddock/pkg/quota"
	"github.com/paddockio/paddock/pkg/storage"
	"github.com/paddockio/paddock/pkg/types"
)

// Queue is the fair admission queue. It admits work against tenant quotas,
// claims eligible items for run drivers, ages waiting items so low-priority
// work keeps moving, and sweeps items stuck in processing.
type Queue struct {
	store   storage.Store
	tracker *quota.Tracker
	cfg     config.SchedulerConfig
	logger  zerolog.Logger
	stopCh  chan struct{}
}

// New creates a queue.
func New(store storage.Store, tracker *quota.Tracker, cfg config.SchedulerConfig) *Queue {
	return &Queue{
		store:   store,
		tracker: tracker,
		cfg:     cfg,
		logger:  log.WithComponent("queue"),
		stopCh:  make(chan struct{}),
	}
}

// Start begins the background aging, timeout-sweep and window-prune loops.
func (q *Queue) Start() {
	go q.agingLoop()
	go q.sweepLoop()
	go q.pruneLoop()
}

// Stop stops the background loops.
func (q *Queue) Stop() {
	close(q.stopCh)
}

// Dequeue claims up to limit eligible pending items, respecting the global
// and per-tenant concurrency caps. Candidates are ordered by effective
// priority descending, then enqueue time ascending; twice the available
// slots are considered so a tenant at its cap does not starve the cycle.
// Claims go through the ledger's CAS transition, so concurrent dispatchers
// never double-claim an item.
func (q *Queue) Dequeue(limit int, now time.Time) ([]*types.QueueItem, error) {
	pending, err := q.store.ListQueueItemsByStatus(types.QueueItemPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending items: %w", err)
	}

	eligible := pending[:0]
	for _, item := range pending {
		if item.ScheduledAt.IsZero() || !item.ScheduledAt.After(now) {
			eligible = append(eligible, item)
		}
	}
	if len(eligible) == 0 {
		return nil, nil
	}

	inFlight, err := q.store.CountProcessingByTenant()
	if err != nil {
		return nil, fmt.Errorf("failed to count in-flight runs: %w", err)
	}
	global := 0
	for _, n := range inFlight {
		global += n
	}
	slots := q.cfg.GlobalConcurrencyCap - global
	if slots <= 0 {
		return nil, nil
	}
	if limit > slots {
		limit = slots
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].EffectivePriority != eligible[j].EffectivePriority {
			return eligible[i].EffectivePriority > eligible[j].EffectivePriority
		}
		return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
	})
	if len(eligible) > 2*limit {
		eligible = eligible[:2*limit]
	}

	tenantCaps := make(map[string]int)
	var claimed []*types.QueueItem
	for _, item := range eligible {
		if len(claimed) >= limit {
			break
		}

		tcap, ok := tenantCaps[item.TenantID]
		if !ok {
			tenant, err := q.store.GetTenant(item.TenantID)
			if err != nil || tenant.Quota == nil {
				tcap = 0 // Unlimited when the tenant or quota is gone
			} else {
				tcap = tenant.Quota.ConcurrencyCap
			}
			tenantCaps[item.TenantID] = tcap
		}
		if tcap > 0 && inFlight[item.TenantID] >= tcap {
			continue
		}

		got, ok, err := q.store.ClaimQueueItem(item.ID, now)
		if err != nil {
			return nil, fmt.Errorf("failed to claim item %s: %w", item.ID, err)
		}
		if !ok {
			continue // Lost the race or the item was cancelled
		}

		inFlight[item.TenantID]++
		claimed = append(claimed, got)
		metrics.DispatchLatency.Observe(now.Sub(got.CreatedAt).Seconds())
	}
	return claimed, nil
}

// Cancel transitions a pending or processing item to cancelled. Terminal
// items are left alone and reported as an error.
func (q *Queue) Cancel(itemID string) error {
	item, ok, err := q.store.MutateQueueItem(itemID,
		[]types.QueueItemStatus{types.QueueItemPending, types.QueueItemProcessing},
		func(it *types.QueueItem) bool {
			it.Status = types.QueueItemCancelled
			it.FinishedAt = time.Now()
			return true
		})
	if err != nil {
		return fmt.Errorf("failed to cancel item: %w", err)
	}
	if !ok {
		return fmt.Errorf("item %s is %s and cannot be cancelled", itemID, item.Status)
	}
	q.logger.Info().Str("item_id", itemID).Msg("Cancelled queue item")
	return nil
}

// agingLoop bumps the effective priority of items pending for more than a
// minute, capped at 100. Aging guarantees forward progress for low-priority
// work without strict weighted fair queuing.
func (q *Queue) agingLoop() {
	ticker := time.NewTicker(q.cfg.AgingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := q.ageOnce(time.Now()); err != nil {
				q.logger.Warn().Err(err).Msg("Aging cycle failed")
			}
		case <-q.stopCh:
			return
		}
	}
}

// ageOnce performs one aging cycle. The bump is applied through the ledger's
// conditional mutation: an item claimed between the listing and the write is
// no longer pending and stays untouched, so the claim CAS is never undone.
func (q *Queue) ageOnce(now time.Time) error {
	pending, err := q.store.ListQueueItemsByStatus(types.QueueItemPending)
	if err != nil {
		return err
	}

	bump := q.cfg.AgingRatePerMinute * q.cfg.AgingInterval.Minutes()
	for _, item := range pending {
		if now.Sub(item.CreatedAt) <= time.Minute {
			continue
		}
		_, _, err := q.store.MutateQueueItem(item.ID,
			[]types.QueueItemStatus{types.QueueItemPending},
			func(it *types.QueueItem) bool {
				aged := it.EffectivePriority + bump
				if aged > 100 {
					aged = 100
				}
				if aged == it.EffectivePriority {
					return false
				}
				it.EffectivePriority = aged
				return true
			})
		if err != nil {
			q.logger.Warn().Err(err).Str("item_id", item.ID).Msg("Failed to age item")
		}
	}
	return nil
}

// sweepLoop returns timed-out processing items to pending, or terminates
// them once their attempt budget is spent.
func (q *Queue) sweepLoop() {
	ticker := time.NewTicker(q.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := q.sweepOnce(time.Now()); err != nil {
				q.logger.Warn().Err(err).Msg("Timeout sweep failed")
			}
		case <-q.stopCh:
			return
		}
	}
}

// sweepOnce performs one timeout sweep. The deadline is re-checked against a
// fresh copy inside the conditional mutation, so an item that completed,
// failed or was cancelled after the listing is left alone.
func (q *Queue) sweepOnce(now time.Time) error {
	processing, err := q.store.ListQueueItemsByStatus(types.QueueItemProcessing)
	if err != nil {
		return err
	}

	for _, candidate := range processing {
		var requeued bool
		swept, ok, err := q.store.MutateQueueItem(candidate.ID,
			[]types.QueueItemStatus{types.QueueItemProcessing},
			func(it *types.QueueItem) bool {
				timeout := it.Timeout
				if timeout <= 0 {
					timeout = q.cfg.DefaultStepTimeout
				}
				if it.StartedAt.IsZero() || it.StartedAt.Add(timeout).After(now) {
					return false
				}

				if it.Attempts < it.MaxAttempts {
					it.Status = types.QueueItemPending
					it.Error = "Timeout"
					it.StartedAt = time.Time{}
					it.RunID = ""
					requeued = true
				} else {
					it.Status = types.QueueItemTimeout
					it.Error = "Timeout"
					it.FinishedAt = now
				}
				return true
			})
		if err != nil {
			q.logger.Warn().Err(err).Str("item_id", candidate.ID).Msg("Failed to sweep item")
			continue
		}
		if !ok {
			continue
		}

		metrics.ItemsTimedOut.Inc()
		if requeued {
			q.logger.Info().
				Str("item_id", swept.ID).
				Int("attempts", swept.Attempts).
				Msg("Returned timed-out item to pending")
		} else {
			q.logger.Warn().
				Str("item_id", swept.ID).
				Int("attempts", swept.Attempts).
				Msg("Item exceeded attempt budget, terminating as timeout")
		}
	}
	return nil
}

// pruneLoop drops rate-window counters older than the retention horizon.
func (q *Queue) pruneLoop() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pruned, err := q.tracker.Prune(q.cfg.RateWindowRetention)
			if err != nil {
				q.logger.Warn().Err(err).Msg("Rate window prune failed")
			} else if pruned > 0 {
				q.logger.Debug().Int("pruned", pruned).Msg("Pruned expired rate windows")
			}
		case <-q.stopCh:
			return
		}
	}
}
