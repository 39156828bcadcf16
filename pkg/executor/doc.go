/*
Package executor drives a single run through its step loop under a hard
budget, demoting the capability tier when the projected next step would
consume too much of what remains.

# Step Loop

Before each step a gate is evaluated and dispatched on a tagged decision,
never an exception:

  - Partial: any consumed dimension (tokens, cost, duration, steps) has
    reached its budget. The run terminates as partial with reason
    BUDGET_EXHAUSTED carrying the most recent completed output.
  - Demote: demotion is allowed, a tier exists below the current one at or
    above the floor, and the projected next-step cost exceeds the configured
    fraction of the remaining cost budget. The run drops one tier, records a
    demotion event, and re-evaluates without invoking the worker.
  - Continue: the worker is invoked at the current tier.

Demotion is monotonic within a run; tiers only move down the order
frontier > advanced > baseline > economy, and never past the floor.

# Pre-flight

Preflight estimates input tokens from payload size, picks the starting tier
from the effort preset clamped to the floor, and projects min/likely/max
cost and duration. A minimum estimate above budget.MaxCost rejects the run
with types.ErrPreflightRejected and a suggested budget; a likely estimate
above 80% of the budget attaches a warning.

# Worker Errors

Worker errors are classified as retryable (jittered exponential backoff
within the per-step attempt budget), degradable (demote one tier and retry
the same step), or non-retryable (fail the run). Explicit classification
travels on WorkerError; unknown errors default to retryable.

# Durability

Every step is persisted before its effect is considered observable. On a
crash between worker return and persist, the driver retries the step with
the same input hash and the ledger collapses the duplicate.
*/
package executor
