/*
Package metrics provides Prometheus metrics collection and exposition for
Paddock.

All metrics are defined as package-level collectors and registered with the
default registry at package init. Components update them directly; the
/metrics endpoint exposes them via promhttp.

# Metric Categories

Admission:
  - paddock_admissions_total{tier}: accepted admissions by tenant tier
  - paddock_rejections_total{reason}: rejections by typed reason

Queue:
  - paddock_queue_items_total{status}: queue items by status (gauge)
  - paddock_inflight_runs: runs currently being driven
  - paddock_dispatch_latency_seconds: enqueue-to-claim latency
  - paddock_queue_timeouts_total: items swept as timed out

Executor:
  - paddock_runs_total{status}: finished runs by terminal status
  - paddock_step_duration_seconds{tier}: worker step duration
  - paddock_steps_total{outcome}: steps by outcome
  - paddock_tier_demotions_total: capability tier demotions
  - paddock_tokens_consumed_total{tier}: tokens consumed by tenant tier

Policy:
  - paddock_policy_decisions_total{outcome}: access decisions

Provider:
  - paddock_provider_polls_total{provider, result}: status poll attempts
  - paddock_provider_jobs_total{status}: tracked provider jobs (gauge)

API:
  - paddock_api_requests_total{route, status}: HTTP requests
  - paddock_api_request_duration_seconds{route}: HTTP request duration

# Usage

	metrics.AdmissionsTotal.WithLabelValues("standard").Inc()

	timer := metrics.NewTimer()
	// ... perform operation ...
	timer.ObserveDurationVec(metrics.APIRequestDuration, "/v1/submit")

The Collector samples gauge metrics from the ledger on a 15s ticker. Health
and readiness handlers report component status; the ledger, dispatcher, and
api components are critical for readiness.

# Label Discipline

Labels are cardinality-bounded: tiers, statuses, reasons, and route patterns.
Tenant and run IDs never appear as label values.
*/
package metrics
