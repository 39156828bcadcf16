package executor

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/paddockio/paddock/pkg/canonical"
	"github.com/paddockio/paddock/pkg/config"
	"github.com/paddockio/paddock/pkg/log"
	"github.com/paddockio/paddock/pkg/metrics"
	"github.com/paddockio/paddock/pkg/provenance"
	"github.com/paddockio/paddock/pkg/storage"
	"github.com/paddockio/paddock/pkg/types"
)

// gateDecision is the outcome of the pre-step budget gate. The gate never
// signals by panic or error; the driver dispatches on the tag.
type gateDecision int

const (
	gateContinue gateDecision = iota
	gateDemote
	gatePartial
)

// Executor drives a single run through its step loop, enforcing the budget
// and demoting the capability tier when the projected next step would eat
// too much of what remains.
type Executor struct {
	store  storage.Store
	broker *provenance.Broker // optional
	costs  CostModel
	cfg    config.ExecutorConfig
	logger zerolog.Logger

	mu        sync.Mutex
	durations map[types.TierID][]float64 // observed step durations, seconds
}

// New creates an executor. A nil broker disables provenance emission.
func New(store storage.Store, broker *provenance.Broker, costs CostModel, cfg config.ExecutorConfig) *Executor {
	if costs == nil {
		costs = DefaultCostModel()
	}
	return &Executor{
		store:     store,
		broker:    broker,
		costs:     costs,
		cfg:       cfg,
		logger:    log.WithComponent("executor"),
		durations: make(map[types.TierID][]float64),
	}
}

// Execute drives a run until it reaches a terminal state or hands off to an
// external provider job. The run must already be persisted with status
// running. On return with a nil error and a non-terminal status, a provider
// job is outstanding and the poller owns completion.
func (e *Executor) Execute(ctx context.Context, run *types.Run, worker Worker) (*types.Run, error) {
	logger := e.logger.With().Str("run_id", run.ID).Str("tenant_id", run.TenantID).Logger()

	if run.Budget == nil {
		return nil, fmt.Errorf("run %s has no budget", run.ID)
	}
	if run.Status.Terminal() {
		return run, types.ErrTerminalState
	}

	index := run.Consumed.Steps
	var lastOutput []byte
	var lastHash string
	if index > 0 {
		// Resuming after a crash; recover the latest completed output.
		if step, err := e.store.GetStep(run.ID, index-1); err == nil {
			lastOutput = step.Output
			lastHash = step.OutputHash
		}
	}

	for {
		// Cooperative cancel is observed at step boundaries only.
		select {
		case <-ctx.Done():
			return e.finish(run, types.RunStatusPartial, lastOutput, lastHash, "CANCELLED", "")
		default:
		}

		switch e.gate(run) {
		case gatePartial:
			logger.Info().
				Float64("consumed_cost", run.Consumed.Cost).
				Int("steps", run.Consumed.Steps).
				Msg("Budget exhausted, producing partial result")
			return e.finish(run, types.RunStatusPartial, lastOutput, lastHash, "BUDGET_EXHAUSTED", "")
		case gateDemote:
			if err := e.demote(run); err != nil {
				return nil, err
			}
			continue
		}

		step, res, err := e.executeStep(ctx, run, worker, index)
		if err != nil {
			logger.Error().Err(err).Int("step", index).Msg("Step failed, failing run")
			return e.finish(run, types.RunStatusFailed, lastOutput, lastHash, "STEP_FAILED", err.Error())
		}

		if res.ExternalJob != nil {
			// Hand off to the provider tracker; the run stays running.
			job := &types.ProviderJob{
				ID:         uuid.New().String(),
				Provider:   res.ExternalJob.Provider,
				ExternalID: res.ExternalJob.ExternalID,
				RunID:      run.ID,
				TenantID:   run.TenantID,
				Status:     types.ProviderJobPending,
				CreatedAt:  time.Now(),
				UpdatedAt:  time.Now(),
			}
			if err := e.store.CreateProviderJob(job); err != nil {
				return nil, fmt.Errorf("failed to record provider job: %w", err)
			}
			e.publish(&provenance.Event{
				Kind:     provenance.EventToolCall,
				TraceID:  run.TraceID,
				TenantID: run.TenantID,
				RunID:    run.ID,
				Tier:     run.Tier,
			})
			logger.Info().
				Str("provider", job.Provider).
				Str("external_id", job.ExternalID).
				Msg("Run handed off to provider job")
			return run, nil
		}

		// Accumulate consumption from the persisted step.
		run.Consumed.Tokens += step.Tokens
		run.Consumed.Cost += step.Cost
		run.Consumed.Duration += step.Duration
		run.Consumed.Steps++
		if err := e.store.UpdateRun(run); err != nil {
			return nil, fmt.Errorf("failed to update run consumption: %w", err)
		}

		lastOutput = step.Output
		lastHash = step.OutputHash
		index++

		if res.Done {
			return e.finish(run, types.RunStatusCompleted, step.Output, step.OutputHash, "", "")
		}
	}
}

// gate applies the budget gate before each step. Demotion is only considered
// once a step has actually been consumed; pre-flight vets the starting tier.
func (e *Executor) gate(run *types.Run) gateDecision {
	b, c := run.Budget, run.Consumed

	canContinue := (b.MaxTokens <= 0 || c.Tokens < b.MaxTokens) &&
		(b.MaxCost <= 0 || c.Cost < b.MaxCost) &&
		(b.MaxDuration <= 0 || c.Duration < b.MaxDuration) &&
		(b.MaxSteps <= 0 || c.Steps < b.MaxSteps)
	if !canContinue {
		return gatePartial
	}

	if b.AllowDemote && b.MaxCost > 0 && c.Steps > 0 {
		next, ok := NextTierDown(run.Tier)
		if ok && (b.TierFloor == "" || AtOrAbove(next, b.TierFloor)) {
			projected := e.costs.StepCost(run.Tier, e.stepTokens(run.Input))
			if projected > e.cfg.DemoteThreshold*(b.MaxCost-c.Cost) {
				return gateDemote
			}
		}
	}
	return gateContinue
}

// demote moves the run down one tier. Demotion is monotonic within a run;
// the gate guarantees a next tier exists and respects the floor.
func (e *Executor) demote(run *types.Run) error {
	next, ok := NextTierDown(run.Tier)
	if !ok {
		return fmt.Errorf("no tier below %s", run.Tier)
	}
	from := run.Tier
	run.Tier = next
	run.Consumed.Downgrades++
	if err := e.store.UpdateRun(run); err != nil {
		return fmt.Errorf("failed to persist demotion: %w", err)
	}

	metrics.TierDemotionsTotal.Inc()
	e.publish(&provenance.Event{
		Kind:     provenance.EventTierDemotion,
		TraceID:  run.TraceID,
		TenantID: run.TenantID,
		RunID:    run.ID,
		Tier:     next,
	})
	e.logger.Info().
		Str("run_id", run.ID).
		Str("from", string(from)).
		Str("to", string(next)).
		Float64("remaining", run.Budget.MaxCost-run.Consumed.Cost).
		Msg("Demoted capability tier")
	return nil
}

// executeStep invokes the worker for one step, retrying retryable failures
// with jittered backoff and demoting on degradable failures. The step is
// persisted before the caller observes its effect; idempotency on (run,
// index, input hash) collapses duplicates after a crash.
func (e *Executor) executeStep(ctx context.Context, run *types.Run, worker Worker, index int) (*types.Step, *StepResult, error) {
	inputHash, err := canonical.HashValue(map[string]any{
		"run":   run.ID,
		"index": index,
		"input": run.InputHash,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to hash step input: %w", err)
	}

	maxAttempts := e.cfg.MaxStepAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	stepStart := time.Now()
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req := &StepRequest{
			RunID:          run.ID,
			TenantID:       run.TenantID,
			AgentID:        run.AgentID,
			TraceID:        run.TraceID,
			Index:          index,
			Tier:           run.Tier,
			Input:          run.Input,
			InputHash:      inputHash,
			ThinkingBudget: ThinkingBudget(run.Effort),
		}

		started := time.Now()
		res, err := worker.Invoke(ctx, req)
		elapsed := time.Since(started)

		if err == nil {
			if res.ExternalJob != nil {
				return nil, res, nil
			}
			step, perr := e.persistStep(run, index, inputHash, res, elapsed)
			if perr != nil {
				return nil, nil, perr
			}
			e.observeDuration(run.Tier, elapsed)
			metrics.StepDuration.WithLabelValues(string(run.Tier)).Observe(elapsed.Seconds())
			metrics.StepsTotal.WithLabelValues("completed").Inc()
			return step, res, nil
		}

		lastErr = err
		switch Classify(err) {
		case ErrorDegradable:
			b := run.Budget
			next, ok := NextTierDown(run.Tier)
			if b.AllowDemote && ok && (b.TierFloor == "" || AtOrAbove(next, b.TierFloor)) {
				if derr := e.demote(run); derr != nil {
					return nil, nil, derr
				}
				// Retry the same step at the lower tier; the attempt is
				// not charged against the retry budget.
				attempt--
				continue
			}
			metrics.StepsTotal.WithLabelValues("failed").Inc()
			ferr := fmt.Errorf("degradable failure with no tier available: %w", err)
			e.recordFailedStep(run, index, inputHash, time.Since(stepStart), ferr)
			return nil, nil, ferr
		case ErrorRetryable:
			if attempt == maxAttempts {
				break
			}
			if werr := e.backoff(ctx, attempt); werr != nil {
				return nil, nil, werr
			}
		case ErrorNonRetryable:
			metrics.StepsTotal.WithLabelValues("failed").Inc()
			e.recordFailedStep(run, index, inputHash, time.Since(stepStart), err)
			return nil, nil, err
		}
	}

	metrics.StepsTotal.WithLabelValues("failed").Inc()
	ferr := fmt.Errorf("step %d failed after %d attempts: %w", index, maxAttempts, lastErr)
	e.recordFailedStep(run, index, inputHash, time.Since(stepStart), ferr)
	return nil, nil, ferr
}

// recordFailedStep persists a failed step before the run fails. Failures
// record duration and the error only; tokens and cost stay zero. Best
// effort, since the run is about to fail regardless.
func (e *Executor) recordFailedStep(run *types.Run, index int, inputHash string, elapsed time.Duration, cause error) {
	now := time.Now()
	step := &types.Step{
		ID:         uuid.New().String(),
		RunID:      run.ID,
		Index:      index,
		Tier:       run.Tier,
		InputHash:  inputHash,
		Status:     types.StepStatusFailed,
		Duration:   elapsed,
		Error:      cause.Error(),
		CreatedAt:  now,
		FinishedAt: now,
	}
	if _, err := e.store.AppendStep(step); err != nil {
		e.logger.Warn().Err(err).Str("run_id", run.ID).Int("step", index).Msg("Failed to record failed step")
	}
}

// persistStep records a completed step in the ledger and emits provenance.
func (e *Executor) persistStep(run *types.Run, index int, inputHash string, res *StepResult, elapsed time.Duration) (*types.Step, error) {
	step := &types.Step{
		ID:         uuid.New().String(),
		RunID:      run.ID,
		Index:      index,
		Tier:       run.Tier,
		InputHash:  inputHash,
		Output:     res.Output,
		OutputHash: canonical.Hash(res.Output),
		Status:     types.StepStatusCompleted,
		Tokens:     res.Tokens,
		Cost:       res.Cost,
		Duration:   elapsed,
		CreatedAt:  time.Now(),
		FinishedAt: time.Now(),
	}
	persisted, err := e.store.AppendStep(step)
	if err != nil {
		return nil, fmt.Errorf("failed to persist step %d: %w", index, err)
	}

	e.publish(&provenance.Event{
		Kind:       provenance.EventLLMCall,
		TraceID:    run.TraceID,
		TenantID:   run.TenantID,
		RunID:      run.ID,
		StepID:     persisted.ID,
		Tier:       persisted.Tier,
		PromptHash: persisted.InputHash,
		Tokens:     persisted.Tokens,
		Cost:       persisted.Cost,
		Duration:   persisted.Duration,
	})
	return persisted, nil
}

// finish freezes the run in a terminal state exactly once.
func (e *Executor) finish(run *types.Run, status types.RunStatus, output []byte, outputHash, reason, errMsg string) (*types.Run, error) {
	if err := e.store.FinishRun(run.ID, status, run.Consumed, output, outputHash, reason, errMsg); err != nil {
		return nil, fmt.Errorf("failed to finish run: %w", err)
	}
	run.Status = status
	run.StatusReason = reason
	run.Output = output
	run.OutputHash = outputHash
	run.Error = errMsg
	run.FinishedAt = time.Now()

	metrics.RunsTotal.WithLabelValues(string(status)).Inc()
	return run, nil
}

// backoff sleeps a jittered exponential interval, honoring cancellation.
func (e *Executor) backoff(ctx context.Context, attempt int) error {
	base := 500 * time.Millisecond
	d := base << (attempt - 1)
	if e.cfg.BackoffCap > 0 && d > e.cfg.BackoffCap {
		d = e.cfg.BackoffCap
	}
	// Jitter in [0.5, 1.5) of the computed interval.
	d = time.Duration(float64(d) * (0.5 + rand.Float64()))

	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Executor) publish(event *provenance.Event) {
	if e.broker != nil {
		e.broker.Publish(event)
	}
}

// observeDuration keeps a bounded window of step durations per tier for
// percentile-based duration estimates.
func (e *Executor) observeDuration(tier types.TierID, d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	samples := append(e.durations[tier], d.Seconds())
	if len(samples) > 256 {
		samples = samples[len(samples)-256:]
	}
	e.durations[tier] = samples
}

// LatencyPercentile returns the observed p-th percentile step duration for a
// tier, or false when no samples exist.
func (e *Executor) LatencyPercentile(tier types.TierID, p float64) (time.Duration, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	samples := e.durations[tier]
	if len(samples) == 0 {
		return 0, false
	}
	return time.Duration(Percentile(samples, p) * float64(time.Second)), true
}
