package quota

import (
	"fmt"
	"time"

	"github.com/paddockio/paddock/pkg/storage"
	"github.com/paddockio/paddock/pkg/types"
)

// BucketKey returns the storage key for a window kind at time t (UTC).
func BucketKey(kind types.RateWindowKind, t time.Time) string {
	t = t.UTC()
	switch kind {
	case types.WindowMinute:
		return t.Format("2006-01-02T15:04")
	case types.WindowHour:
		return t.Format("2006-01-02T15")
	case types.WindowDay:
		return t.Format("2006-01-02")
	default:
		return t.Format("2006-01-02")
	}
}

// Day returns the UTC day key for usage aggregation.
func Day(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Tracker reads and advances the per-tenant rate windows and the in-flight
// census. The ledger rows are authoritative; the tracker holds no state of
// its own, so it is safe for concurrent use.
type Tracker struct {
	store storage.Store
}

// NewTracker creates a tracker over the ledger.
func NewTracker(store storage.Store) *Tracker {
	return &Tracker{store: store}
}

// windowCheck pairs a window with its quota cap, narrowest first. The
// narrowest violated window names the rejection.
type windowCheck struct {
	kind   types.RateWindowKind
	cap    int
	reason types.RejectionReason
}

// CheckWindows verifies all three admission windows against the quota.
// It returns nil when all windows have capacity, or the rejection for the
// narrowest violated window.
func (t *Tracker) CheckWindows(tenantID string, quota *types.Quota, now time.Time) (*types.Rejection, error) {
	checks := []windowCheck{
		{types.WindowMinute, quota.MaxPerMinute, types.RejectRatePerMinute},
		{types.WindowHour, quota.MaxPerHour, types.RejectRatePerHour},
		{types.WindowDay, quota.MaxPerDay, types.RejectRatePerDay},
	}

	for _, c := range checks {
		if c.cap <= 0 {
			continue // Unlimited window
		}
		count, err := t.store.RateWindowCount(tenantID, c.kind, BucketKey(c.kind, now))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s window: %w", c.kind, err)
		}
		if count >= c.cap {
			return &types.Rejection{
				Reason:    c.reason,
				QuotaType: string(c.kind),
				Message:   fmt.Sprintf("%d/%d admissions this %s", count, c.cap, c.kind),
			}, nil
		}
	}
	return nil, nil
}

// IncrementWindows advances all three windows for an accepted admission.
func (t *Tracker) IncrementWindows(tenantID string, now time.Time) error {
	for _, kind := range []types.RateWindowKind{types.WindowMinute, types.WindowHour, types.WindowDay} {
		if err := t.store.IncrRateWindow(tenantID, kind, BucketKey(kind, now)); err != nil {
			return fmt.Errorf("failed to increment %s window: %w", kind, err)
		}
	}
	return nil
}

// InFlight returns the current processing count per tenant.
func (t *Tracker) InFlight() (map[string]int, error) {
	return t.store.CountProcessingByTenant()
}

// QueueDepth returns pending+processing items for a tenant.
func (t *Tracker) QueueDepth(tenantID string) (int, error) {
	return t.store.CountQueueDepth(tenantID)
}

// Prune removes rate-window rows untouched for longer than retention.
func (t *Tracker) Prune(retention time.Duration) (int, error) {
	return t.store.PruneRateWindows(time.Now().Add(-retention))
}
