package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paddockio/paddock/pkg/config"
	"github.com/paddockio/paddock/pkg/executor"
	"github.com/paddockio/paddock/pkg/manager"
	"github.com/paddockio/paddock/pkg/quota"
	"github.com/paddockio/paddock/pkg/storage"
	"github.com/paddockio/paddock/pkg/types"
)

type noopWorker struct{}

func (noopWorker) Invoke(_ context.Context, _ *executor.StepRequest) (*executor.StepResult, error) {
	return &executor.StepResult{Output: []byte("ok"), Tokens: 10, Done: true}, nil
}

type testEnv struct {
	manager *manager.Manager
	server  *Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	mgr, err := manager.New(cfg, noopWorker{})
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Store().Close() })
	return &testEnv{manager: mgr, server: NewServer(mgr)}
}

// newKey mints a key with the given scopes, optionally bound to a role so
// the policy engine will allow its submissions.
func (e *testEnv) newKey(t *testing.T, tenantID, role string, scopes ...string) string {
	t.Helper()
	key, token, err := e.manager.Auth().CreateKey(tenantID, "test-key", scopes, time.Time{})
	require.NoError(t, err)
	if role != "" {
		require.NoError(t, e.manager.Store().CreateRoleBinding(&types.RoleBinding{
			ID:        uuid.New().String(),
			TenantID:  tenantID,
			SubjectID: key.ID,
			Role:      role,
			CreatedAt: time.Now(),
		}))
	}
	return token
}

func (e *testEnv) newTenant(t *testing.T) *types.Tenant {
	t.Helper()
	tenant, err := e.manager.CreateTenant("acme", types.TenantTierStandard)
	require.NoError(t, err)
	return tenant
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/runs/some-id", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestInvalidTokenRejected(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/runs/some-id", "not-a-key", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubmitRunAndGetItem(t *testing.T) {
	env := newTestEnv(t)
	tenant := env.newTenant(t)
	token := env.newKey(t, tenant.ID, "operator", "runs:submit", "runs:read")

	rec := env.do(t, http.MethodPost, "/v1/runs", token, map[string]any{
		"agent_id": "agent-1",
		"payload":  map[string]any{"q": "summarize"},
		"priority": 40,
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	item := decode[itemResponse](t, rec)
	assert.Equal(t, tenant.ID, item.TenantID)
	assert.Equal(t, "pending", item.Status)
	assert.Equal(t, float64(40), item.BasePriority)

	rec = env.do(t, http.MethodGet, "/v1/items/"+item.ID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[itemResponse](t, rec)
	assert.Equal(t, item.ID, got.ID)
}

func TestSubmitRequiresScope(t *testing.T) {
	env := newTestEnv(t)
	tenant := env.newTenant(t)
	token := env.newKey(t, tenant.ID, "operator", "runs:read")

	rec := env.do(t, http.MethodPost, "/v1/runs", token, map[string]any{
		"agent_id": "agent-1",
		"payload":  map[string]any{"q": 1},
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSubmitPolicyDeniedWithoutRole(t *testing.T) {
	env := newTestEnv(t)
	tenant := env.newTenant(t)
	token := env.newKey(t, tenant.ID, "", "runs:submit")

	rec := env.do(t, http.MethodPost, "/v1/runs", token, map[string]any{
		"agent_id": "agent-1",
		"payload":  map[string]any{"q": 1},
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSubmitSuspendedTenantRejected(t *testing.T) {
	env := newTestEnv(t)
	tenant := env.newTenant(t)
	token := env.newKey(t, tenant.ID, "operator", "runs:submit")
	_, err := env.manager.SetTenantStatus(tenant.ID, types.TenantStatusSuspended)
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/v1/runs", token, map[string]any{
		"agent_id": "agent-1",
		"payload":  map[string]any{"q": 1},
	})
	require.Equal(t, http.StatusForbidden, rec.Code)

	body := decode[map[string]string](t, rec)
	assert.Equal(t, string(types.RejectTenantInactive), body["reason"])
}

func TestSubmitRateLimitedCarriesQuotaType(t *testing.T) {
	env := newTestEnv(t)
	tenant := env.newTenant(t)
	tenant.Quota.MaxPerMinute = 1
	require.NoError(t, env.manager.Store().UpdateTenant(tenant))
	token := env.newKey(t, tenant.ID, "operator", "runs:submit")

	body := map[string]any{"agent_id": "agent-1", "payload": map[string]any{"q": 1}}
	rec := env.do(t, http.MethodPost, "/v1/runs", token, body)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/runs", token, body)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	resp := decode[map[string]string](t, rec)
	assert.Equal(t, string(types.RejectRatePerMinute), resp["reason"])
	assert.Equal(t, "minute", resp["quota_type"])
}

func TestTenantIsolationReturns404(t *testing.T) {
	env := newTestEnv(t)
	tenantA := env.newTenant(t)
	tokenA := env.newKey(t, tenantA.ID, "operator", "runs:submit", "runs:read")

	tenantB, err := env.manager.CreateTenant("rival", types.TenantTierFree)
	require.NoError(t, err)
	tokenB := env.newKey(t, tenantB.ID, "operator", "runs:read")

	rec := env.do(t, http.MethodPost, "/v1/runs", tokenA, map[string]any{
		"agent_id": "agent-1",
		"payload":  map[string]any{"q": 1},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	item := decode[itemResponse](t, rec)

	rec = env.do(t, http.MethodGet, "/v1/items/"+item.ID, tokenB, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetRunIncludesSteps(t *testing.T) {
	env := newTestEnv(t)
	tenant := env.newTenant(t)
	token := env.newKey(t, tenant.ID, "operator", "runs:read")

	run := &types.Run{
		ID:             uuid.New().String(),
		IdempotencyKey: "key-api",
		TenantID:       tenant.ID,
		AgentID:        "agent-1",
		Status:         types.RunStatusRunning,
		Tier:           types.TierBaseline,
		CreatedAt:      time.Now(),
		StartedAt:      time.Now(),
	}
	persisted, _, err := env.manager.Store().CreateRunIdempotent(run)
	require.NoError(t, err)
	_, err = env.manager.Store().AppendStep(&types.Step{
		ID:        uuid.New().String(),
		RunID:     persisted.ID,
		Index:     0,
		Tier:      types.TierBaseline,
		InputHash: "h0",
		Status:    types.StepStatusCompleted,
		Tokens:    50,
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/v1/runs/"+persisted.ID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	got := decode[runResponse](t, rec)
	assert.Equal(t, "running", got.Status)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, int64(50), got.Steps[0].Tokens)
}

func TestCancelTerminalRunConflicts(t *testing.T) {
	env := newTestEnv(t)
	tenant := env.newTenant(t)
	token := env.newKey(t, tenant.ID, "operator", "runs:cancel")

	run := &types.Run{
		ID:             uuid.New().String(),
		IdempotencyKey: "key-done",
		TenantID:       tenant.ID,
		AgentID:        "agent-1",
		Status:         types.RunStatusRunning,
		CreatedAt:      time.Now(),
	}
	persisted, _, err := env.manager.Store().CreateRunIdempotent(run)
	require.NoError(t, err)
	require.NoError(t, env.manager.Store().FinishRun(persisted.ID, types.RunStatusCompleted, types.Consumed{}, nil, "", "", ""))

	rec := env.do(t, http.MethodPost, "/v1/runs/"+persisted.ID+"/cancel", token, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestUsageEndpoint(t *testing.T) {
	env := newTestEnv(t)
	tenant := env.newTenant(t)
	token := env.newKey(t, tenant.ID, "", "usage:read")

	day := quota.Day(time.Now())
	require.NoError(t, env.manager.Store().RecordUsage(tenant.ID, day, storage.UsageDelta{Runs: 3, Tokens: 1500, Cost: 0.25}))

	rec := env.do(t, http.MethodGet, "/v1/tenants/"+tenant.ID+"/usage", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	got := decode[usageResponse](t, rec)
	assert.Equal(t, int64(3), got.Runs)
	assert.Equal(t, int64(1500), got.Tokens)
	assert.InDelta(t, 0.25, got.Cost, 1e-9)
}

func TestAdminBootstrapFlow(t *testing.T) {
	env := newTestEnv(t)
	root := env.newTenant(t)
	adminToken := env.newKey(t, root.ID, "", "admin")

	rec := env.do(t, http.MethodPost, "/v1/tenants", adminToken, map[string]any{
		"name": "newco",
		"tier": "standard",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	tenant := decode[tenantResponse](t, rec)
	assert.Equal(t, "standard", tenant.Tier)

	rec = env.do(t, http.MethodPost, "/v1/tenants/"+tenant.ID+"/keys", adminToken, map[string]any{
		"name":   "ci",
		"scopes": []string{"runs:submit", "runs:read"},
		"role":   "operator",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	key := decode[keyResponse](t, rec)
	require.NotEmpty(t, key.Token)

	// The minted key can submit immediately: scope check at the edge,
	// role binding in the policy engine.
	rec = env.do(t, http.MethodPost, "/v1/runs", key.Token, map[string]any{
		"agent_id": "agent-1",
		"payload":  map[string]any{"q": 1},
	})
	assert.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
}

func TestAdminScopeRequired(t *testing.T) {
	env := newTestEnv(t)
	tenant := env.newTenant(t)
	token := env.newKey(t, tenant.ID, "operator", "runs:submit")

	rec := env.do(t, http.MethodPost, "/v1/tenants", token, map[string]any{"name": "x"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAllowlistEnforcedThroughAPI(t *testing.T) {
	env := newTestEnv(t)
	tenant := env.newTenant(t)
	adminToken := env.newKey(t, tenant.ID, "", "admin")
	token := env.newKey(t, tenant.ID, "operator", "runs:submit")

	rec := env.do(t, http.MethodPut, "/v1/tenants/"+tenant.ID+"/allowlist", adminToken, map[string]any{
		"agent_ids": []string{"agent-approved"},
	})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/runs", token, map[string]any{
		"agent_id": "agent-other",
		"payload":  map[string]any{"q": 1},
	})
	require.Equal(t, http.StatusForbidden, rec.Code)
	body := decode[map[string]string](t, rec)
	assert.Equal(t, string(types.RejectAgentForbidden), body["reason"])
}

func TestHealthEndpointsUnauthenticated(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/livez", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
