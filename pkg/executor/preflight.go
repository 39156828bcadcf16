package executor

import (
	"fmt"
	"time"

	"github.com/paddockio/paddock/pkg/types"
)

// Estimate is the pre-flight cost and duration projection for a run.
type Estimate struct {
	InputTokens    int64
	StepTokens     int64 // Projected tokens for one step
	StartTier      types.TierID
	ThinkingBudget int64

	MinCost    float64
	LikelyCost float64
	MaxCost    float64

	MinDuration    time.Duration
	LikelyDuration time.Duration
	MaxDuration    time.Duration

	// SuggestedBudget is the maxCost a caller should set for the run to
	// likely complete. Populated on rejection too.
	SuggestedBudget float64

	Warnings []string
}

// EstimateInputTokens estimates token count from payload size. Roughly four
// bytes per token, never less than one.
func EstimateInputTokens(payload []byte) int64 {
	tokens := int64(len(payload)+3) / 4
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}

// stepTokens projects the tokens one step will consume: the fixed base plus
// input plus assumed output, capped at the configured per-step maximum.
func (e *Executor) stepTokens(payload []byte) int64 {
	tokens := e.cfg.EstimateBaseTokens + EstimateInputTokens(payload) + e.cfg.EstimateOutputTokens
	if e.cfg.EstimateMaxStepTokens > 0 && tokens > e.cfg.EstimateMaxStepTokens {
		tokens = e.cfg.EstimateMaxStepTokens
	}
	return tokens
}

// Preflight estimates the cost of a run before any step executes. The floor
// argument is the effective tier floor (tenant floor or budget floor,
// whichever is more capable). When the minimum estimate already exceeds
// budget.MaxCost the run is rejected with types.ErrPreflightRejected; the
// returned estimate still carries the suggested budget.
func (e *Executor) Preflight(payload []byte, budget *types.Budget, effort types.EffortLevel, floor types.TierID) (*Estimate, error) {
	startTier := StartingTier(effort, floor)
	tokens := e.stepTokens(payload)

	stepCost := e.costs.StepCost(startTier, tokens)
	stepDur := e.costs.StepDuration(startTier, tokens)

	est := &Estimate{
		InputTokens:    EstimateInputTokens(payload),
		StepTokens:     tokens,
		StartTier:      startTier,
		ThinkingBudget: ThinkingBudget(effort),
		MinCost:        stepCost,
		LikelyCost:     stepCost * 1.5,
		MinDuration:    stepDur,
		LikelyDuration: time.Duration(float64(stepDur) * 1.5),
	}
	est.SuggestedBudget = est.LikelyCost

	maxSteps := budget.MaxSteps
	if maxSteps <= 0 {
		maxSteps = 3
	}
	est.MaxCost = stepCost * float64(maxSteps)
	est.MaxDuration = stepDur * time.Duration(maxSteps)

	if budget.MaxCost > 0 && est.MinCost > budget.MaxCost {
		return est, fmt.Errorf("minimum estimate %.6f exceeds budget %.6f (suggested %.6f): %w",
			est.MinCost, budget.MaxCost, est.SuggestedBudget, types.ErrPreflightRejected)
	}

	if budget.MaxCost > 0 && est.LikelyCost > 0.8*budget.MaxCost {
		est.Warnings = append(est.Warnings, fmt.Sprintf(
			"likely cost %.6f exceeds 80%% of budget %.6f", est.LikelyCost, budget.MaxCost))
	}
	return est, nil
}
