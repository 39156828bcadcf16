// Package provider tracks long-running external computations referenced by
// external job ids. A background poller walks outstanding jobs grouped by
// provider, queries each provider's status endpoint at its own cadence
// behind a circuit breaker, and drives the mirrored ledger entries: first
// progress moves pending to processing; completion records the result URL
// and cost; failure records the error. Terminal jobs are handed to a
// finalizer exactly once, which enqueues a follow-up step or finalizes the
// owning run per agent policy. The run stays running while its job is
// outstanding.
package provider
