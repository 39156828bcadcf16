package storage

import (
	"time"

	"github.com/paddockio/paddock/pkg/types"
)

// UsageDelta is an additive increment applied to a (tenant, day) usage row.
// All fields must be non-negative; usage never decrements.
type UsageDelta struct {
	Runs         int64
	Tokens       int64
	Cost         float64
	StorageBytes int64
	ActiveAgents int64
}

// Store defines the interface for the durable execution ledger.
// All compound operations are atomic: they either fully commit or leave no
// trace. The ledger is the single source of truth; in-memory state elsewhere
// is advisory.
type Store interface {
	// Tenants
	CreateTenant(tenant *types.Tenant) error
	GetTenant(id string) (*types.Tenant, error)
	ListTenants() ([]*types.Tenant, error)
	UpdateTenant(tenant *types.Tenant) error
	DeleteTenant(id string) error

	// Runs. CreateRunIdempotent returns the existing run (created=false) when
	// the idempotency key is already bound; otherwise it persists the run
	// with status running and binds the key, atomically.
	CreateRunIdempotent(run *types.Run) (*types.Run, bool, error)
	GetRun(id string) (*types.Run, error)
	GetRunByIdempotencyKey(key string) (*types.Run, error)
	ListRunsByTenant(tenantID string) ([]*types.Run, error)
	UpdateRun(run *types.Run) error
	// FinishRun transitions a run from running to the given terminal status,
	// freezing the consumed snapshot. A second call fails with
	// types.ErrTerminalState.
	FinishRun(runID string, status types.RunStatus, consumed types.Consumed, output []byte, outputHash, reason, errMsg string) error

	// Steps. AppendStep is idempotent on (run, index): an existing step with
	// the same input hash is returned as-is; a different hash fails with
	// types.ErrStepDivergence.
	AppendStep(step *types.Step) (*types.Step, error)
	GetStep(runID string, index int) (*types.Step, error)
	ListSteps(runID string) ([]*types.Step, error)

	// Queue items
	CreateQueueItem(item *types.QueueItem) error
	GetQueueItem(id string) (*types.QueueItem, error)
	ListQueueItemsByStatus(status types.QueueItemStatus) ([]*types.QueueItem, error)
	UpdateQueueItem(item *types.QueueItem) error
	// ClaimQueueItem CAS-transitions pending -> processing, incrementing
	// attempts and stamping startedAt. Returns false when the item was not
	// pending (lost race, cancelled, already claimed).
	ClaimQueueItem(id string, now time.Time) (*types.QueueItem, bool, error)
	// MutateQueueItem re-reads the item and applies mutate inside the same
	// transaction, but only while its status is one of want; mutate may
	// return false after inspecting the fresh copy to leave it untouched.
	// Returns the item as stored and whether the mutation was applied.
	// Writers that observed the item outside a transaction must go through
	// this instead of UpdateQueueItem, or they race the claim CAS.
	MutateQueueItem(id string, want []types.QueueItemStatus, mutate func(item *types.QueueItem) bool) (*types.QueueItem, bool, error)
	// CountQueueDepth returns pending+processing items for a tenant.
	CountQueueDepth(tenantID string) (int, error)
	// CountProcessingByTenant returns the in-flight census across tenants.
	CountProcessingByTenant() (map[string]int, error)

	// Usage
	RecordUsage(tenantID, date string, delta UsageDelta) error
	GetUsage(tenantID, date string) (*types.UsageDay, error)

	// Rate windows
	IncrRateWindow(tenantID string, kind types.RateWindowKind, bucketKey string) error
	RateWindowCount(tenantID string, kind types.RateWindowKind, bucketKey string) (int, error)
	PruneRateWindows(before time.Time) (int, error)

	// Agent allowlist. An empty list means all agents are permitted.
	SetAgentAllowlist(tenantID string, agentIDs []string) error
	GetAgentAllowlist(tenantID string) ([]string, error)

	// API keys
	CreateAPIKey(key *types.APIKey) error
	GetAPIKeyByHash(keyHash string) (*types.APIKey, error)
	ListAPIKeys(tenantID string) ([]*types.APIKey, error)
	UpdateAPIKey(key *types.APIKey) error
	DeleteAPIKey(id string) error

	// Policies
	CreatePolicy(policy *types.Policy) error
	GetPolicy(id string) (*types.Policy, error)
	// ListPoliciesForTenant returns tenant-scoped plus global policies.
	ListPoliciesForTenant(tenantID string) ([]*types.Policy, error)
	UpdatePolicy(policy *types.Policy) error
	DeletePolicy(id string) error

	// Role bindings
	CreateRoleBinding(binding *types.RoleBinding) error
	ListRoleBindings(tenantID, subjectID string) ([]*types.RoleBinding, error)
	DeleteRoleBinding(id string) error

	// Provider jobs
	CreateProviderJob(job *types.ProviderJob) error
	GetProviderJob(id string) (*types.ProviderJob, error)
	ListProviderJobsByStatus(statuses ...types.ProviderJobStatus) ([]*types.ProviderJob, error)
	UpdateProviderJob(job *types.ProviderJob) error

	// Utility
	Close() error
}
