/*
Package api exposes the control plane as a JSON HTTP API.

All /v1 routes require a bearer API key. Scopes gate routes coarsely
(runs:submit, runs:read, runs:cancel, usage:read, admin); the policy engine
then decides per-submission access using the key's role bindings. Tenant
isolation is enforced on every read: a key sees only its own tenant's
resources unless it carries the admin scope, and cross-tenant lookups
return 404 rather than 403 so resource ids do not leak.

Admission refusals surface as structured bodies carrying the rejection
reason, and for rate refusals the violated window, so clients can back off
against the right limit.

The operational surface (/healthz, /readyz, /livez, /metrics) is mounted
unauthenticated.
*/
package api
