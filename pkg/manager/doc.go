/*
Package manager wires the control plane together and runs the dispatch loop.

The Manager is the application context: it owns the ledger, quota tracker,
fair queue, policy engine, executor, provider tracker, provenance broker and
API key manager as explicit fields. Nothing in this package or its
collaborators relies on package-level singletons (the metrics registry being
the one deliberate exception, following Prometheus convention).

# Dispatch

A single loop polls the queue on the scheduler interval and fans claimed
items out to a bounded driver pool. Each driver:

 1. Resolves the tenant and defaults the budget from the tenant's limits.
 2. Runs the pre-flight estimate; rejections fail the item before any
    tokens are spent.
 3. Opens the run by idempotency key. A key that is already bound means
    another driver owns the step loop; the item completes without driving.
 4. Drives the executor to a terminal state, then reflects that state into
    the queue item and the tenant's daily usage rollup.

Runs handed off to an external provider stay in status running; the
provider tracker's finalizer completes them when the provider job reaches a
terminal state.

# Cancellation

Cancels are cooperative. Cancelling an in-flight run fires its context and
the executor stops at the next step boundary, finishing the run as partial.
Runs parked on a provider job are finalized directly.
*/
package manager
