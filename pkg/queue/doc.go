/*
Package queue implements admission control and fair dispatch for run work.

# Admission

Submit runs a fixed pipeline: tenant must be active, the agent must pass the
tenant's allowlist, the tenant's queue depth must be under its cap, and all
three admission rate windows (minute, hour, day) must have room, with the
narrowest violated window naming the rejection reason. Admitted items are
persisted pending with an effective priority of base plus the tenant's
priority boost, clamped to [0, 100], and the admission is counted against
all three windows. Refusals are typed *types.Rejection values; work is never
dropped silently.

# Dispatch

Dequeue claims eligible pending items for run drivers. Candidates are
ordered by effective priority descending then enqueue time ascending, twice
the available slots are considered so one capped tenant cannot starve a
cycle, and each claim goes through the ledger's compare-and-set transition
so concurrent dispatchers never double-claim.

# Background Loops

An aging loop bumps the effective priority of items pending for over a
minute, capped at 100, which guarantees forward progress for low-priority
work. A sweep loop returns timed-out processing items to pending with
error "Timeout" while attempts remain, then terminates them as timeout. A
prune loop drops rate-window counters past the retention horizon.
*/
package queue
