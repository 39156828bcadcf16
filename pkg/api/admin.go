package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/paddockio/paddock/pkg/types"
)

type createTenantRequest struct {
	Name string `json:"name"`
	Tier string `json:"tier,omitempty"`
}

func (s *Server) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	tier := types.TenantTier(req.Tier)
	if tier == "" {
		tier = types.TenantTierFree
	}

	tenant, err := s.manager.CreateTenant(req.Name, tier)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, tenantToAPI(tenant))
}

func (s *Server) handleListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := s.manager.Store().ListTenants()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list tenants")
		return
	}
	resp := make([]*tenantResponse, len(tenants))
	for i, t := range tenants {
		resp[i] = tenantToAPI(t)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetTenant(w http.ResponseWriter, r *http.Request) {
	tenant, err := s.manager.Store().GetTenant(chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tenantToAPI(tenant))
}

type updateTenantRequest struct {
	Tier   string `json:"tier,omitempty"`
	Status string `json:"status,omitempty"`
}

func (s *Server) handleUpdateTenant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req updateTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var tenant *types.Tenant
	var err error
	if req.Tier != "" {
		tenant, err = s.manager.SetTenantTier(id, types.TenantTier(req.Tier))
		if err != nil {
			writeStoreError(w, err)
			return
		}
	}
	if req.Status != "" {
		tenant, err = s.manager.SetTenantStatus(id, types.TenantStatus(req.Status))
		if err != nil {
			writeStoreError(w, err)
			return
		}
	}
	if tenant == nil {
		writeError(w, http.StatusBadRequest, "nothing to update")
		return
	}
	writeJSON(w, http.StatusOK, tenantToAPI(tenant))
}

type allowlistRequest struct {
	AgentIDs []string `json:"agent_ids"`
}

func (s *Server) handleSetAllowlist(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.manager.Store().GetTenant(id); err != nil {
		writeStoreError(w, err)
		return
	}

	var req allowlistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.manager.Store().SetAgentAllowlist(id, req.AgentIDs); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to set allowlist")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createKeyRequest struct {
	Name      string    `json:"name"`
	Scopes    []string  `json:"scopes"`
	Role      string    `json:"role,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// handleCreateKey mints an API key for a tenant. The plaintext token is
// returned exactly once; only its hash is stored. An optional role grants
// the key's subject id permissions in the policy engine.
func (s *Server) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "id")
	if _, err := s.manager.Store().GetTenant(tenantID); err != nil {
		writeStoreError(w, err)
		return
	}

	var req createKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	key, token, err := s.manager.Auth().CreateKey(tenantID, req.Name, req.Scopes, req.ExpiresAt)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create key")
		return
	}

	if req.Role != "" {
		if err := s.manager.BindRole(tenantID, key.ID, req.Role); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to bind role")
			return
		}
	}

	writeJSON(w, http.StatusCreated, keyToAPI(key, token))
}

func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.manager.Store().ListAPIKeys(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list keys")
		return
	}
	resp := make([]*keyResponse, len(keys))
	for i, k := range keys {
		resp[i] = keyToAPI(k, "")
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Auth().Revoke(chi.URLParam(r, "id")); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			writeError(w, http.StatusNotFound, "key not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to revoke key")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type policyRequest struct {
	Name      string             `json:"name"`
	Effect    string             `json:"effect"`
	Priority  int                `json:"priority"`
	Subjects  []conditionRequest `json:"subjects,omitempty"`
	Resources []conditionRequest `json:"resources,omitempty"`
	Actions   []string           `json:"actions"`
	Enabled   *bool              `json:"enabled,omitempty"`
}

type conditionRequest struct {
	Attribute       string `json:"attribute"`
	Operator        string `json:"operator"`
	Value           any    `json:"value"`
	CaseInsensitive bool   `json:"case_insensitive,omitempty"`
}

func (s *Server) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "id")
	if _, err := s.manager.Store().GetTenant(tenantID); err != nil {
		writeStoreError(w, err)
		return
	}

	var req policyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	effect := types.PolicyEffect(req.Effect)
	if effect != types.PolicyAllow && effect != types.PolicyDeny {
		writeError(w, http.StatusBadRequest, "effect must be allow or deny")
		return
	}
	if len(req.Actions) == 0 {
		writeError(w, http.StatusBadRequest, "at least one action is required")
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	policy := &types.Policy{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Name:      req.Name,
		Effect:    effect,
		Priority:  req.Priority,
		Subjects:  toConditions(req.Subjects),
		Resources: toConditions(req.Resources),
		Actions:   req.Actions,
		Enabled:   enabled,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := s.manager.Store().CreatePolicy(policy); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create policy")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": policy.ID})
}

func (s *Server) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := s.manager.Store().ListPoliciesForTenant(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list policies")
		return
	}
	writeJSON(w, http.StatusOK, policies)
}

func (s *Server) handleDeletePolicy(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Store().DeletePolicy(chi.URLParam(r, "id")); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			writeError(w, http.StatusNotFound, "policy not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete policy")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toConditions(reqs []conditionRequest) []types.Condition {
	conds := make([]types.Condition, len(reqs))
	for i, c := range reqs {
		conds[i] = types.Condition{
			Attribute:       c.Attribute,
			Operator:        types.ConditionOperator(c.Operator),
			Value:           c.Value,
			CaseInsensitive: c.CaseInsensitive,
		}
	}
	return conds
}
