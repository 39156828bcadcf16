package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paddockio/paddock/pkg/canonical"
	"github.com/paddockio/paddock/pkg/config"
	"github.com/paddockio/paddock/pkg/storage"
	"github.com/paddockio/paddock/pkg/types"
)

// flatCosts prices every step at a fixed amount per tier, ignoring tokens.
type flatCosts map[types.TierID]float64

func (f flatCosts) StepCost(tier types.TierID, tokens int64) float64 {
	return f[tier]
}

func (f flatCosts) StepDuration(tier types.TierID, tokens int64) time.Duration {
	return 10 * time.Millisecond
}

// scriptedWorker returns canned results in order, recording every request.
type scriptedWorker struct {
	mu     sync.Mutex
	script []func(req *StepRequest) (*StepResult, error)
	calls  []*StepRequest
}

func (w *scriptedWorker) Invoke(ctx context.Context, req *StepRequest) (*StepResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, req)
	if len(w.script) == 0 {
		return nil, errors.New("script exhausted")
	}
	fn := w.script[0]
	w.script = w.script[1:]
	return fn(req)
}

func newTestExecutor(t *testing.T, costs CostModel, cfg config.ExecutorConfig) (*Executor, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store, nil, costs, cfg), store
}

func newRunningRun(t *testing.T, store storage.Store, budget *types.Budget, tier types.TierID) *types.Run {
	t.Helper()
	input := []byte(`{"question":"summarize"}`)
	run := &types.Run{
		ID:             uuid.New().String(),
		IdempotencyKey: uuid.New().String(),
		TenantID:       "tenant-1",
		AgentID:        "agent-1",
		TraceID:        uuid.New().String(),
		Input:          input,
		InputHash:      canonical.Hash(input),
		Budget:         budget,
		Tier:           tier,
		Effort:         types.EffortMedium,
		Status:         types.RunStatusRunning,
		CreatedAt:      time.Now(),
		StartedAt:      time.Now(),
	}
	persisted, created, err := store.CreateRunIdempotent(run)
	require.NoError(t, err)
	require.True(t, created)
	return persisted
}

func TestPreflightReject(t *testing.T) {
	cfg := config.DefaultConfig().Executor
	exec, _ := newTestExecutor(t, flatCosts{types.TierFrontier: 0.01}, cfg)

	budget := &types.Budget{MaxCost: 0.001}
	est, err := exec.Preflight([]byte(`{"q":"x"}`), budget, types.EffortMax, "")

	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrPreflightRejected)
	require.NotNil(t, est)
	assert.GreaterOrEqual(t, est.SuggestedBudget, 0.015)
	assert.Equal(t, types.TierFrontier, est.StartTier)
}

func TestPreflightWarnsNearBudget(t *testing.T) {
	cfg := config.DefaultConfig().Executor
	exec, _ := newTestExecutor(t, flatCosts{types.TierFrontier: 0.01}, cfg)

	// Likely cost 0.015 is above 80% of 0.016 but min fits.
	budget := &types.Budget{MaxCost: 0.016}
	est, err := exec.Preflight([]byte(`{"q":"x"}`), budget, types.EffortMax, "")

	require.NoError(t, err)
	assert.NotEmpty(t, est.Warnings)
}

func TestPreflightAccepts(t *testing.T) {
	cfg := config.DefaultConfig().Executor
	exec, _ := newTestExecutor(t, flatCosts{types.TierFrontier: 0.01}, cfg)

	budget := &types.Budget{MaxCost: 1.0, MaxSteps: 5}
	est, err := exec.Preflight([]byte(`{"q":"x"}`), budget, types.EffortMax, "")

	require.NoError(t, err)
	assert.Empty(t, est.Warnings)
	assert.InDelta(t, 0.01, est.MinCost, 1e-9)
	assert.InDelta(t, 0.05, est.MaxCost, 1e-9)
}

func TestExecuteCompletes(t *testing.T) {
	cfg := config.DefaultConfig().Executor
	exec, store := newTestExecutor(t, flatCosts{types.TierBaseline: 0.001}, cfg)

	run := newRunningRun(t, store, &types.Budget{MaxCost: 1.0}, types.TierBaseline)
	worker := &scriptedWorker{script: []func(*StepRequest) (*StepResult, error){
		func(*StepRequest) (*StepResult, error) {
			return &StepResult{Output: []byte("draft"), Tokens: 900, Cost: 0.001}, nil
		},
		func(*StepRequest) (*StepResult, error) {
			return &StepResult{Output: []byte("final"), Tokens: 700, Cost: 0.001, Done: true}, nil
		},
	}}

	result, err := exec.Execute(context.Background(), run, worker)
	require.NoError(t, err)

	assert.Equal(t, types.RunStatusCompleted, result.Status)
	assert.Equal(t, []byte("final"), result.Output)
	assert.Equal(t, int64(1600), result.Consumed.Tokens)
	assert.Equal(t, 2, result.Consumed.Steps)
	assert.Equal(t, 0, result.Consumed.Downgrades)

	steps, err := store.ListSteps(run.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, 0, steps[0].Index)
	assert.Equal(t, 1, steps[1].Index)
}

func TestExecuteTierDemotion(t *testing.T) {
	cfg := config.DefaultConfig().Executor
	costs := flatCosts{
		types.TierFrontier: 0.015,
		types.TierAdvanced: 0.004,
	}
	exec, store := newTestExecutor(t, costs, cfg)

	budget := &types.Budget{
		MaxCost:     0.02,
		AllowDemote: true,
		TierFloor:   types.TierAdvanced,
	}
	run := newRunningRun(t, store, budget, types.TierFrontier)

	worker := &scriptedWorker{script: []func(*StepRequest) (*StepResult, error){
		func(req *StepRequest) (*StepResult, error) {
			return &StepResult{Output: []byte("step-0"), Tokens: 2500, Cost: 0.015}, nil
		},
		func(req *StepRequest) (*StepResult, error) {
			return &StepResult{Output: []byte("step-1"), Tokens: 800, Cost: 0.004, Done: true}, nil
		},
	}}

	result, err := exec.Execute(context.Background(), run, worker)
	require.NoError(t, err)

	// After step 0 costs 0.015, the projected frontier step exceeds
	// 0.6 x 0.005 remaining; the run drops one tier and finishes there.
	assert.Equal(t, types.RunStatusCompleted, result.Status)
	assert.Equal(t, 1, result.Consumed.Downgrades)
	assert.LessOrEqual(t, result.Consumed.Cost, 0.02)
	assert.Equal(t, types.TierAdvanced, result.Tier)

	require.Len(t, worker.calls, 2)
	assert.Equal(t, types.TierFrontier, worker.calls[0].Tier)
	assert.Equal(t, types.TierAdvanced, worker.calls[1].Tier)

	steps, err := store.ListSteps(run.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, types.TierFrontier, steps[0].Tier)
	assert.Equal(t, types.TierAdvanced, steps[1].Tier)
}

func TestExecuteDemotionRespectsFloor(t *testing.T) {
	cfg := config.DefaultConfig().Executor
	costs := flatCosts{
		types.TierFrontier: 0.015,
		types.TierAdvanced: 0.014,
	}
	exec, store := newTestExecutor(t, costs, cfg)

	// The floor pins the run at frontier; demotion never triggers and the
	// budget gate produces a partial result instead.
	budget := &types.Budget{
		MaxCost:     0.02,
		AllowDemote: true,
		TierFloor:   types.TierFrontier,
	}
	run := newRunningRun(t, store, budget, types.TierFrontier)

	worker := &scriptedWorker{script: []func(*StepRequest) (*StepResult, error){
		func(*StepRequest) (*StepResult, error) {
			return &StepResult{Output: []byte("step-0"), Tokens: 2500, Cost: 0.015}, nil
		},
		func(*StepRequest) (*StepResult, error) {
			return &StepResult{Output: []byte("step-1"), Tokens: 2500, Cost: 0.015}, nil
		},
	}}

	result, err := exec.Execute(context.Background(), run, worker)
	require.NoError(t, err)

	assert.Equal(t, types.RunStatusPartial, result.Status)
	assert.Equal(t, "BUDGET_EXHAUSTED", result.StatusReason)
	assert.Equal(t, 0, result.Consumed.Downgrades)
	assert.Equal(t, types.TierFrontier, result.Tier)
}

func TestExecuteBudgetExhaustedPartial(t *testing.T) {
	cfg := config.DefaultConfig().Executor
	exec, store := newTestExecutor(t, flatCosts{types.TierBaseline: 0.001}, cfg)

	run := newRunningRun(t, store, &types.Budget{MaxSteps: 2}, types.TierBaseline)
	worker := &scriptedWorker{script: []func(*StepRequest) (*StepResult, error){
		func(*StepRequest) (*StepResult, error) {
			return &StepResult{Output: []byte("step-0"), Tokens: 100, Cost: 0.001}, nil
		},
		func(*StepRequest) (*StepResult, error) {
			return &StepResult{Output: []byte("step-1"), Tokens: 100, Cost: 0.001}, nil
		},
	}}

	result, err := exec.Execute(context.Background(), run, worker)
	require.NoError(t, err)

	assert.Equal(t, types.RunStatusPartial, result.Status)
	assert.Equal(t, "BUDGET_EXHAUSTED", result.StatusReason)
	// The partial output is the most recent completed step's output.
	assert.Equal(t, []byte("step-1"), result.Output)
	assert.Equal(t, 2, result.Consumed.Steps)
}

func TestExecuteRetryableErrorRetries(t *testing.T) {
	cfg := config.DefaultConfig().Executor
	cfg.MaxStepAttempts = 3
	cfg.BackoffCap = time.Millisecond
	exec, store := newTestExecutor(t, flatCosts{types.TierBaseline: 0.001}, cfg)

	run := newRunningRun(t, store, &types.Budget{MaxCost: 1.0}, types.TierBaseline)
	worker := &scriptedWorker{script: []func(*StepRequest) (*StepResult, error){
		func(*StepRequest) (*StepResult, error) {
			return nil, NewRetryableError("provider unavailable", nil)
		},
		func(*StepRequest) (*StepResult, error) {
			return nil, errors.New("connection reset") // unknown defaults to retryable
		},
		func(*StepRequest) (*StepResult, error) {
			return &StepResult{Output: []byte("ok"), Tokens: 100, Cost: 0.001, Done: true}, nil
		},
	}}

	result, err := exec.Execute(context.Background(), run, worker)
	require.NoError(t, err)

	assert.Equal(t, types.RunStatusCompleted, result.Status)
	assert.Len(t, worker.calls, 3)
	// All attempts target the same step with the same input hash.
	assert.Equal(t, worker.calls[0].InputHash, worker.calls[2].InputHash)
	assert.Equal(t, 0, worker.calls[2].Index)
}

func TestExecuteRetryBudgetExhaustedFailsRun(t *testing.T) {
	cfg := config.DefaultConfig().Executor
	cfg.MaxStepAttempts = 2
	cfg.BackoffCap = time.Millisecond
	exec, store := newTestExecutor(t, flatCosts{types.TierBaseline: 0.001}, cfg)

	run := newRunningRun(t, store, &types.Budget{MaxCost: 1.0}, types.TierBaseline)
	fail := func(*StepRequest) (*StepResult, error) {
		return nil, NewRetryableError("provider unavailable", nil)
	}
	worker := &scriptedWorker{script: []func(*StepRequest) (*StepResult, error){fail, fail}}

	result, err := exec.Execute(context.Background(), run, worker)
	require.NoError(t, err)

	assert.Equal(t, types.RunStatusFailed, result.Status)
	assert.Equal(t, "STEP_FAILED", result.StatusReason)
	assert.Contains(t, result.Error, "provider unavailable")
	assert.Len(t, worker.calls, 2)

	steps, err := store.ListSteps(run.ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, types.StepStatusFailed, steps[0].Status)
}

func TestExecuteNonRetryableFailsImmediately(t *testing.T) {
	cfg := config.DefaultConfig().Executor
	exec, store := newTestExecutor(t, flatCosts{types.TierBaseline: 0.001}, cfg)

	run := newRunningRun(t, store, &types.Budget{MaxCost: 1.0}, types.TierBaseline)
	worker := &scriptedWorker{script: []func(*StepRequest) (*StepResult, error){
		func(*StepRequest) (*StepResult, error) {
			return nil, NewNonRetryableError("invalid input", nil)
		},
	}}

	result, err := exec.Execute(context.Background(), run, worker)
	require.NoError(t, err)

	assert.Equal(t, types.RunStatusFailed, result.Status)
	assert.Len(t, worker.calls, 1)
}

func TestExecuteFailureRecordsFailedStep(t *testing.T) {
	cfg := config.DefaultConfig().Executor
	exec, store := newTestExecutor(t, flatCosts{types.TierBaseline: 0.001}, cfg)

	run := newRunningRun(t, store, &types.Budget{MaxCost: 1.0}, types.TierBaseline)
	worker := &scriptedWorker{script: []func(*StepRequest) (*StepResult, error){
		func(*StepRequest) (*StepResult, error) {
			return nil, NewNonRetryableError("malformed tool call", nil)
		},
	}}

	result, err := exec.Execute(context.Background(), run, worker)
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusFailed, result.Status)

	// The failure is in the ledger, not just the run record: duration and
	// the error, no tokens or cost.
	steps, err := store.ListSteps(run.ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, types.StepStatusFailed, steps[0].Status)
	assert.Equal(t, 0, steps[0].Index)
	assert.Contains(t, steps[0].Error, "malformed tool call")
	assert.Zero(t, steps[0].Tokens)
	assert.Zero(t, steps[0].Cost)
}

func TestExecuteDegradableErrorDemotesAndRetries(t *testing.T) {
	cfg := config.DefaultConfig().Executor
	exec, store := newTestExecutor(t, flatCosts{
		types.TierFrontier: 0.0001,
		types.TierAdvanced: 0.0001,
	}, cfg)

	budget := &types.Budget{MaxCost: 1.0, AllowDemote: true}
	run := newRunningRun(t, store, budget, types.TierFrontier)

	worker := &scriptedWorker{script: []func(*StepRequest) (*StepResult, error){
		func(*StepRequest) (*StepResult, error) {
			return nil, NewDegradableError("model overloaded", nil)
		},
		func(*StepRequest) (*StepResult, error) {
			return &StepResult{Output: []byte("ok"), Tokens: 100, Cost: 0.0001, Done: true}, nil
		},
	}}

	result, err := exec.Execute(context.Background(), run, worker)
	require.NoError(t, err)

	assert.Equal(t, types.RunStatusCompleted, result.Status)
	assert.Equal(t, 1, result.Consumed.Downgrades)
	require.Len(t, worker.calls, 2)
	assert.Equal(t, types.TierFrontier, worker.calls[0].Tier)
	assert.Equal(t, types.TierAdvanced, worker.calls[1].Tier)
	assert.Equal(t, worker.calls[0].Index, worker.calls[1].Index)
}

func TestExecuteDegradableWithoutDemotionFailsRun(t *testing.T) {
	cfg := config.DefaultConfig().Executor
	exec, store := newTestExecutor(t, flatCosts{types.TierEconomy: 0.0001}, cfg)

	// Already at the bottom tier; degradable has nowhere to go.
	budget := &types.Budget{MaxCost: 1.0, AllowDemote: true}
	run := newRunningRun(t, store, budget, types.TierEconomy)

	worker := &scriptedWorker{script: []func(*StepRequest) (*StepResult, error){
		func(*StepRequest) (*StepResult, error) {
			return nil, NewDegradableError("model overloaded", nil)
		},
	}}

	result, err := exec.Execute(context.Background(), run, worker)
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusFailed, result.Status)
}

func TestExecuteCancelAtStepBoundary(t *testing.T) {
	cfg := config.DefaultConfig().Executor
	exec, store := newTestExecutor(t, flatCosts{types.TierBaseline: 0.001}, cfg)

	run := newRunningRun(t, store, &types.Budget{MaxCost: 1.0}, types.TierBaseline)

	ctx, cancel := context.WithCancel(context.Background())
	worker := &scriptedWorker{script: []func(*StepRequest) (*StepResult, error){
		func(*StepRequest) (*StepResult, error) {
			// Cancel lands mid-step; the driver observes it at the next
			// boundary and preserves the completed step's output.
			cancel()
			return &StepResult{Output: []byte("step-0"), Tokens: 100, Cost: 0.001}, nil
		},
	}}

	result, err := exec.Execute(ctx, run, worker)
	require.NoError(t, err)

	assert.Equal(t, types.RunStatusPartial, result.Status)
	assert.Equal(t, "CANCELLED", result.StatusReason)
	assert.Equal(t, []byte("step-0"), result.Output)
	assert.Len(t, worker.calls, 1)
}

func TestExecuteExternalJobHandoff(t *testing.T) {
	cfg := config.DefaultConfig().Executor
	exec, store := newTestExecutor(t, flatCosts{types.TierBaseline: 0.001}, cfg)

	run := newRunningRun(t, store, &types.Budget{MaxCost: 1.0}, types.TierBaseline)
	worker := &scriptedWorker{script: []func(*StepRequest) (*StepResult, error){
		func(*StepRequest) (*StepResult, error) {
			return &StepResult{ExternalJob: &ExternalJob{Provider: "render-farm", ExternalID: "ext-42"}}, nil
		},
	}}

	result, err := exec.Execute(context.Background(), run, worker)
	require.NoError(t, err)

	// The run stays running; the provider poller owns completion.
	assert.Equal(t, types.RunStatusRunning, result.Status)

	jobs, err := store.ListProviderJobsByStatus(types.ProviderJobPending)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "ext-42", jobs[0].ExternalID)
	assert.Equal(t, run.ID, jobs[0].RunID)
}

func TestExecuteTerminalRunRefused(t *testing.T) {
	cfg := config.DefaultConfig().Executor
	exec, store := newTestExecutor(t, flatCosts{types.TierBaseline: 0.001}, cfg)

	run := newRunningRun(t, store, &types.Budget{MaxCost: 1.0}, types.TierBaseline)
	require.NoError(t, store.FinishRun(run.ID, types.RunStatusCompleted, run.Consumed, nil, "", "", ""))
	run.Status = types.RunStatusCompleted

	_, err := exec.Execute(context.Background(), run, &scriptedWorker{})
	assert.ErrorIs(t, err, types.ErrTerminalState)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"tagged retryable", NewRetryableError("x", nil), ErrorRetryable},
		{"tagged degradable", NewDegradableError("x", nil), ErrorDegradable},
		{"tagged non-retryable", NewNonRetryableError("x", nil), ErrorNonRetryable},
		{"terminal state", types.ErrTerminalState, ErrorNonRetryable},
		{"step divergence", types.ErrStepDivergence, ErrorNonRetryable},
		{"context canceled", context.Canceled, ErrorNonRetryable},
		{"deadline is retryable", context.DeadlineExceeded, ErrorRetryable},
		{"unknown defaults to retryable", errors.New("boom"), ErrorRetryable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}
