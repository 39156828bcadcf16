package executor

import (
	"math"
	"sort"
	"time"

	"github.com/paddockio/paddock/pkg/types"
)

// tierOrder lists capability tiers most capable first. Demotion walks down
// this order and never back up.
var tierOrder = []types.TierID{
	types.TierFrontier,
	types.TierAdvanced,
	types.TierBaseline,
	types.TierEconomy,
}

// TierRank returns the position of a tier in the capability order, 0 being
// the most capable. Unknown tiers return -1.
func TierRank(tier types.TierID) int {
	for i, t := range tierOrder {
		if t == tier {
			return i
		}
	}
	return -1
}

// NextTierDown returns the next less capable tier, if any.
func NextTierDown(tier types.TierID) (types.TierID, bool) {
	rank := TierRank(tier)
	if rank < 0 || rank == len(tierOrder)-1 {
		return "", false
	}
	return tierOrder[rank+1], true
}

// AtOrAbove reports whether tier a is at least as capable as tier b.
func AtOrAbove(a, b types.TierID) bool {
	ra, rb := TierRank(a), TierRank(b)
	if ra < 0 || rb < 0 {
		return false
	}
	return ra <= rb
}

type effortPreset struct {
	tier           types.TierID
	thinkingBudget int64
}

// effortPresets maps a caller-supplied effort level to the lowest tier that
// satisfies it plus a thinking-token budget. Effort is a pre-flight input
// only; the run's tier is the runtime state machine.
var effortPresets = map[types.EffortLevel]effortPreset{
	types.EffortLow:    {types.TierEconomy, 0},
	types.EffortMedium: {types.TierBaseline, 1024},
	types.EffortHigh:   {types.TierAdvanced, 8192},
	types.EffortMax:    {types.TierFrontier, 32768},
}

// StartingTier picks the starting tier for an effort level, clamped to the
// floor when one is set. Unknown effort levels map to medium.
func StartingTier(effort types.EffortLevel, floor types.TierID) types.TierID {
	preset, ok := effortPresets[effort]
	if !ok {
		preset = effortPresets[types.EffortMedium]
	}
	tier := preset.tier
	if floor != "" && !AtOrAbove(tier, floor) {
		return floor
	}
	return tier
}

// ThinkingBudget returns the thinking-token budget for an effort level.
func ThinkingBudget(effort types.EffortLevel) int64 {
	preset, ok := effortPresets[effort]
	if !ok {
		preset = effortPresets[types.EffortMedium]
	}
	return preset.thinkingBudget
}

// CostModel prices a worker step by tier. Pricing must be conservative: a
// lower tier is never priced above a higher one.
type CostModel interface {
	StepCost(tier types.TierID, tokens int64) float64
	StepDuration(tier types.TierID, tokens int64) time.Duration
}

// tokenCostModel prices steps from per-million-token rates and an output
// rate in tokens per second.
type tokenCostModel struct {
	perMTok   map[types.TierID]float64
	tokPerSec map[types.TierID]float64
}

// DefaultCostModel returns the built-in blended token pricing.
func DefaultCostModel() CostModel {
	return &tokenCostModel{
		perMTok: map[types.TierID]float64{
			types.TierFrontier: 30.0,
			types.TierAdvanced: 12.0,
			types.TierBaseline: 3.0,
			types.TierEconomy:  0.5,
		},
		tokPerSec: map[types.TierID]float64{
			types.TierFrontier: 30,
			types.TierAdvanced: 50,
			types.TierBaseline: 80,
			types.TierEconomy:  120,
		},
	}
}

func (m *tokenCostModel) StepCost(tier types.TierID, tokens int64) float64 {
	rate, ok := m.perMTok[tier]
	if !ok {
		rate = m.perMTok[types.TierBaseline]
	}
	return float64(tokens) / 1e6 * rate
}

func (m *tokenCostModel) StepDuration(tier types.TierID, tokens int64) time.Duration {
	rate, ok := m.tokPerSec[tier]
	if !ok || rate <= 0 {
		rate = 50
	}
	return time.Duration(float64(tokens) / rate * float64(time.Second))
}

// Percentile computes the p-th percentile (p in [0, 1]) of values using the
// nearest-rank method: index ceil(p*n)-1, clamped to the slice bounds.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
