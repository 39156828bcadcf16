package quota

import (
	"time"

	"github.com/paddockio/paddock/pkg/types"
)

// QuotaForTier returns the default Quota for a tenant tier.
func QuotaForTier(tier types.TenantTier) *types.Quota {
	switch tier {
	case types.TenantTierEnterprise:
		return &types.Quota{
			ConcurrencyCap: 20,
			QueueDepthCap:  200,
			MaxPerMinute:   60,
			MaxPerHour:     1000,
			MaxPerDay:      10000,
			PriorityBoost:  10,
			Weight:         100,
		}
	case types.TenantTierStandard:
		return &types.Quota{
			ConcurrencyCap: 5,
			QueueDepthCap:  50,
			MaxPerMinute:   20,
			MaxPerHour:     300,
			MaxPerDay:      2000,
			PriorityBoost:  0,
			Weight:         10,
		}
	default: // free
		return &types.Quota{
			ConcurrencyCap: 1,
			QueueDepthCap:  10,
			MaxPerMinute:   5,
			MaxPerHour:     50,
			MaxPerDay:      200,
			PriorityBoost:  -5,
			Weight:         1,
		}
	}
}

// LimitsForTier returns the default Limits for a tenant tier.
func LimitsForTier(tier types.TenantTier) *types.Limits {
	switch tier {
	case types.TenantTierEnterprise:
		return &types.Limits{
			MaxRunsPerDay:   10000,
			MaxCostPerDay:   1000,
			MaxTokensPerRun: 2_000_000,
			MaxStorageBytes: 100 << 30,
		}
	case types.TenantTierStandard:
		return &types.Limits{
			MaxRunsPerDay:   2000,
			MaxCostPerDay:   100,
			MaxTokensPerRun: 500_000,
			MaxStorageBytes: 10 << 30,
		}
	default: // free
		return &types.Limits{
			MaxRunsPerDay:   200,
			MaxCostPerDay:   5,
			MaxTokensPerRun: 100_000,
			MaxStorageBytes: 1 << 30,
		}
	}
}

// ApplyTier updates a tenant's tier, quota and limits together so the three
// never drift apart.
func ApplyTier(tenant *types.Tenant, tier types.TenantTier) {
	tenant.Tier = tier
	tenant.Quota = QuotaForTier(tier)
	tenant.Limits = LimitsForTier(tier)
	tenant.UpdatedAt = time.Now().UTC()
}
