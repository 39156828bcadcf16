/*
Package policy implements the attribute-based access-decision engine.

An access request (subject, resource, action, environment) is evaluated
against the enabled policies visible to the request's tenant: tenant-scoped
policies plus global policies. Matching policies are ordered by priority
ascending (lower value = higher precedence), creation time, then id; the
first match decides. Two opposite-effect policies sharing the top priority
resolve to deny. With no explicit match, role-derived permissions may allow;
otherwise the default is deny.

Condition evaluation fails closed: a missing attribute, malformed regex or
type mismatch makes the condition false and the enclosing policy not match.
Evaluation never returns an error to callers.
*/
package policy
