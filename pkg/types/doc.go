/*
Package types defines the core data structures used throughout Paddock.

This package contains the domain model shared by every other package:
tenants and their quotas, runs and steps, queue items, ABAC policies,
usage counters, API keys and provider jobs. It has no dependencies on
other Paddock packages so that every subsystem can import it freely.

# Core Types

Tenancy:
  - Tenant: Root of a tenant-scoped arena, with tier, status, Quota, Limits
  - Quota: Concurrency, queue depth, three-window admission caps, priority bias
  - Limits: Per-day run/cost caps, per-run token cap, storage cap

Execution:
  - Run: One logical execution, deduplicated by idempotency key
  - Step: Ordered child of a Run (dense index from 0), content-hashed
  - Budget / Consumed: Declared bounds vs. monotonically accumulated usage
  - TierID / EffortLevel: Capability tier order and pre-flight effort hint

Scheduling:
  - QueueItem: Pending work with base and effective priority
  - Rejection / RejectionReason: Typed admission refusals (backpressure, rate)

Access control:
  - Policy / Condition: Priority-ordered allow/deny rules with matchAll sets
  - AccessRequest / AccessDecision: Evaluation input and derived outcome
  - RoleBinding: Role assignment expanded to permissions at evaluation time

Accounting:
  - UsageDay: Additive per-(tenant, UTC day) aggregate
  - RateWindowKind: minute/hour/day admission windows
  - ProviderJob: Mirror of a long-running external computation

All types serialize to JSON for storage in the ledger. Payload fields are
opaque byte slices with content hashes; the ledger never parses them.
*/
package types
