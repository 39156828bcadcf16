// Package worker provides the HTTP client for the upstream model worker.
// The client implements executor.Worker and translates transport failures
// and status codes into the executor's error classes so the step loop can
// retry, degrade, or fail without knowing about HTTP.
package worker
