/*
Package storage implements the durable execution ledger.

The ledger is the single source of truth for runs, steps, queue items,
tenants, usage counters, rate windows, agent allowlists, API keys, policies,
role bindings and provider jobs. It is backed by BoltDB with one bucket per
table plus an idempotency index mapping idempotency keys to run ids.

# Atomicity

Every compound contract runs inside a single BoltDB Update transaction:

  - CreateRunIdempotent: create-or-return-existing by idempotency key
  - AppendStep: append-if-absent by (run, index), divergence-checked
  - FinishRun: complete/partial/fail only from running
  - ClaimQueueItem: pending -> processing compare-and-swap
  - RecordUsage / IncrRateWindow: additive per-row upserts

Writes are durable before the caller observes success (BoltDB fsyncs on
commit). Read paths surface types.ErrNotFound for missing records.

# Layout

Step keys are "runID/%08d" so a prefix cursor scan yields steps in index
order. Usage keys are "tenantID/date"; rate-window keys are
"tenantID/kind/bucket". API keys are stored under their SHA-256 hash so
validation is a point lookup. Payloads are opaque bytes with content hashes;
the ledger never parses them.
*/
package storage
