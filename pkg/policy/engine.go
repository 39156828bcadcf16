package policy

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/paddockio/paddock/pkg/log"
	"github.com/paddockio/paddock/pkg/types"
)

// PolicySource supplies the policies and role bindings visible to a request.
// The ledger implements it; tests use in-memory fakes.
type PolicySource interface {
	ListPoliciesForTenant(tenantID string) ([]*types.Policy, error)
	ListRoleBindings(tenantID, subjectID string) ([]*types.RoleBinding, error)
}

// RolePermissions maps role names to permission strings of the form
// "resourceType:action". The permission "*:*" is a superuser allow.
type RolePermissions map[string][]string

// DefaultRoles is the built-in role to permission mapping.
var DefaultRoles = RolePermissions{
	"admin":    {"*:*"},
	"operator": {"run:submit", "run:read", "run:cancel", "item:read", "item:cancel"},
	"viewer":   {"run:read", "item:read", "usage:read"},
}

// Engine evaluates access requests against tenant-scoped and global
// policies, augmented by role-derived permissions. Evaluation never returns
// an error to callers: failures fail closed into a deny.
type Engine struct {
	source PolicySource
	roles  RolePermissions
	logger zerolog.Logger
}

// NewEngine creates a policy engine reading from source. A nil roles map
// falls back to DefaultRoles.
func NewEngine(source PolicySource, roles RolePermissions) *Engine {
	if roles == nil {
		roles = DefaultRoles
	}
	return &Engine{
		source: source,
		roles:  roles,
		logger: log.WithComponent("policy"),
	}
}

// Evaluate returns the access decision for the request within tenantID's
// policy scope. The decision is deterministic for a fixed policy snapshot.
func (e *Engine) Evaluate(tenantID string, req *types.AccessRequest) types.AccessDecision {
	now := time.Now().UTC()

	policies, err := e.source.ListPoliciesForTenant(tenantID)
	if err != nil {
		// Fail closed: cannot read policies, cannot allow.
		e.logger.Error().Err(err).Str("tenant_id", tenantID).Msg("policy read failed, denying")
		return types.AccessDecision{Allowed: false, Reason: "policy source unavailable", EvaluatedAt: now}
	}

	matched := e.matchingPolicies(policies, req)
	sortPolicies(matched)

	if len(matched) > 0 {
		top := matched[0]
		// Deny wins when two policies share the top priority with opposite
		// effects, regardless of position.
		for _, p := range matched[1:] {
			if p.Priority != top.Priority {
				break
			}
			if p.Effect == types.PolicyDeny {
				top = p
				break
			}
		}
		if top.Effect == types.PolicyDeny {
			return types.AccessDecision{
				Allowed:     false,
				PolicyID:    top.ID,
				Reason:      fmt.Sprintf("denied by policy %q", top.Name),
				EvaluatedAt: now,
			}
		}
		return types.AccessDecision{
			Allowed:     true,
			PolicyID:    top.ID,
			Reason:      fmt.Sprintf("allowed by policy %q", top.Name),
			EvaluatedAt: now,
		}
	}

	// No explicit policy matched. Role-derived allow applies only when no
	// explicit deny matched, which is the case here.
	if e.roleAllows(tenantID, req) {
		return types.AccessDecision{Allowed: true, Reason: "allowed by role permission", EvaluatedAt: now}
	}

	return types.AccessDecision{Allowed: false, Reason: "no matching policy", EvaluatedAt: now}
}

// matchingPolicies filters enabled policies whose condition sets all hold
// and whose action list covers the requested action.
func (e *Engine) matchingPolicies(policies []*types.Policy, req *types.AccessRequest) []*types.Policy {
	var matched []*types.Policy
	for _, p := range policies {
		if !p.Enabled {
			continue
		}
		if !actionListed(p.Actions, req.Action) {
			continue
		}
		if !conditionsHold(p.Subjects, req.Subject) {
			continue
		}
		if !conditionsHold(p.Resources, resourceAttrs(req)) {
			continue
		}
		matched = append(matched, p)
	}
	return matched
}

// conditionsHold applies matchAll semantics: every condition in a non-empty
// set must evaluate true. An empty set always holds.
func conditionsHold(conds []types.Condition, attrs map[string]any) bool {
	for _, c := range conds {
		if !evalCondition(c, attrs) {
			return false
		}
	}
	return true
}

func actionListed(actions []string, action string) bool {
	for _, a := range actions {
		if a == "*" || a == action {
			return true
		}
	}
	return false
}

// resourceAttrs merges the resource map with the implicit type and id
// attributes so conditions can target them uniformly.
func resourceAttrs(req *types.AccessRequest) map[string]any {
	attrs := make(map[string]any, len(req.Resource)+2)
	for k, v := range req.Resource {
		attrs[k] = v
	}
	if req.ResourceType != "" {
		attrs["type"] = req.ResourceType
	}
	if req.ResourceID != "" {
		attrs["id"] = req.ResourceID
	}
	return attrs
}

// sortPolicies orders by priority ascending (lower value wins), then
// creation time ascending, then policy id lexicographically.
func sortPolicies(policies []*types.Policy) {
	sort.Slice(policies, func(i, j int) bool {
		a, b := policies[i], policies[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// roleAllows expands the subject's roles into permissions and checks
// resourceType:action. Roles come from the request subject ("roles") plus
// persisted role bindings for the subject id.
func (e *Engine) roleAllows(tenantID string, req *types.AccessRequest) bool {
	roles := subjectRoles(req.Subject)

	if subjectID, ok := req.Subject["id"].(string); ok && subjectID != "" {
		bindings, err := e.source.ListRoleBindings(tenantID, subjectID)
		if err != nil {
			e.logger.Warn().Err(err).Msg("role binding read failed")
		} else {
			for _, b := range bindings {
				roles = append(roles, b.Role)
			}
		}
	}

	want := req.ResourceType + ":" + req.Action
	for _, role := range roles {
		for _, perm := range e.roles[role] {
			if perm == "*:*" || perm == want {
				return true
			}
			// resourceType:* covers all actions on the type.
			if strings.HasSuffix(perm, ":*") && strings.TrimSuffix(perm, "*") == req.ResourceType+":" {
				return true
			}
		}
	}
	return false
}

func subjectRoles(subject map[string]any) []string {
	var roles []string
	switch v := subject["roles"].(type) {
	case []string:
		roles = append(roles, v...)
	case []any:
		for _, r := range v {
			if s, ok := r.(string); ok {
				roles = append(roles, s)
			}
		}
	case string:
		roles = append(roles, v)
	}
	if v, ok := subject["role"].(string); ok {
		roles = append(roles, v)
	}
	return roles
}
