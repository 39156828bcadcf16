package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/paddockio/paddock/pkg/types"
)

var (
	// Bucket names
	bucketTenants        = []byte("tenants")
	bucketRuns           = []byte("runs")
	bucketSteps          = []byte("steps")
	bucketQueueItems     = []byte("queue_items")
	bucketUsage          = []byte("tenant_usage")
	bucketRateWindows    = []byte("tenant_rate_windows")
	bucketAgentAllowlist = []byte("tenant_agent_allowlist")
	bucketAPIKeys        = []byte("tenant_api_keys")
	bucketPolicies       = []byte("policies")
	bucketRoleBindings   = []byte("role_bindings")
	bucketProviderJobs   = []byte("provider_jobs")
	bucketIdempotency    = []byte("idempotency")
)

// BoltStore implements Store using BoltDB. Every compound operation runs in
// a single Update transaction, which gives the atomicity the ledger
// contracts require.
type BoltStore struct {
	db *bolt.DB
}

// rateWindowRow is the stored form of one rate-window counter.
type rateWindowRow struct {
	Count     int       `json:"count"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewBoltStore creates a new BoltDB-backed ledger under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "paddock.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketTenants,
			bucketRuns,
			bucketSteps,
			bucketQueueItems,
			bucketUsage,
			bucketRateWindows,
			bucketAgentAllowlist,
			bucketAPIKeys,
			bucketPolicies,
			bucketRoleBindings,
			bucketProviderJobs,
			bucketIdempotency,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// stepKey orders steps densely within a run. The zero-padded index keeps
// bbolt's lexicographic cursor order equal to step order.
func stepKey(runID string, index int) []byte {
	return []byte(fmt.Sprintf("%s/%08d", runID, index))
}

func rateWindowKey(tenantID string, kind types.RateWindowKind, bucketKey string) []byte {
	return []byte(tenantID + "/" + string(kind) + "/" + bucketKey)
}

func usageKey(tenantID, date string) []byte {
	return []byte(tenantID + "/" + date)
}

// Tenant operations
func (s *BoltStore) CreateTenant(tenant *types.Tenant) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTenants)
		data, err := json.Marshal(tenant)
		if err != nil {
			return err
		}
		return b.Put([]byte(tenant.ID), data)
	})
}

func (s *BoltStore) GetTenant(id string) (*types.Tenant, error) {
	var tenant types.Tenant
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTenants)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("tenant %s: %w", id, types.ErrNotFound)
		}
		return json.Unmarshal(data, &tenant)
	})
	if err != nil {
		return nil, err
	}
	return &tenant, nil
}

func (s *BoltStore) ListTenants() ([]*types.Tenant, error) {
	var tenants []*types.Tenant
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTenants)
		return b.ForEach(func(k, v []byte) error {
			var tenant types.Tenant
			if err := json.Unmarshal(v, &tenant); err != nil {
				return err
			}
			tenants = append(tenants, &tenant)
			return nil
		})
	})
	return tenants, err
}

func (s *BoltStore) UpdateTenant(tenant *types.Tenant) error {
	return s.CreateTenant(tenant) // Same as create (upsert)
}

func (s *BoltStore) DeleteTenant(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTenants)
		return b.Delete([]byte(id))
	})
}

// Run operations

// CreateRunIdempotent creates the run and binds its idempotency key in one
// transaction. A bound key returns the existing run instead; the caller that
// observes created=true owns the step loop.
func (s *BoltStore) CreateRunIdempotent(run *types.Run) (*types.Run, bool, error) {
	var existing *types.Run

	err := s.db.Update(func(tx *bolt.Tx) error {
		idx := tx.Bucket(bucketIdempotency)
		runs := tx.Bucket(bucketRuns)

		if run.IdempotencyKey != "" {
			if runID := idx.Get([]byte(run.IdempotencyKey)); runID != nil {
				data := runs.Get(runID)
				if data == nil {
					return fmt.Errorf("idempotency index points at missing run %s", runID)
				}
				var r types.Run
				if err := json.Unmarshal(data, &r); err != nil {
					return err
				}
				existing = &r
				return nil
			}
		}

		data, err := json.Marshal(run)
		if err != nil {
			return err
		}
		if err := runs.Put([]byte(run.ID), data); err != nil {
			return err
		}
		if run.IdempotencyKey != "" {
			if err := idx.Put([]byte(run.IdempotencyKey), []byte(run.ID)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}
	return run, true, nil
}

func (s *BoltStore) GetRun(id string) (*types.Run, error) {
	var run types.Run
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("run %s: %w", id, types.ErrNotFound)
		}
		return json.Unmarshal(data, &run)
	})
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *BoltStore) GetRunByIdempotencyKey(key string) (*types.Run, error) {
	var run types.Run
	err := s.db.View(func(tx *bolt.Tx) error {
		runID := tx.Bucket(bucketIdempotency).Get([]byte(key))
		if runID == nil {
			return fmt.Errorf("idempotency key: %w", types.ErrNotFound)
		}
		data := tx.Bucket(bucketRuns).Get(runID)
		if data == nil {
			return fmt.Errorf("run %s: %w", runID, types.ErrNotFound)
		}
		return json.Unmarshal(data, &run)
	})
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *BoltStore) ListRunsByTenant(tenantID string) ([]*types.Run, error) {
	var runs []*types.Run
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		return b.ForEach(func(k, v []byte) error {
			var run types.Run
			if err := json.Unmarshal(v, &run); err != nil {
				return err
			}
			if run.TenantID == tenantID {
				runs = append(runs, &run)
			}
			return nil
		})
	})
	return runs, err
}

func (s *BoltStore) UpdateRun(run *types.Run) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		data, err := json.Marshal(run)
		if err != nil {
			return err
		}
		return b.Put([]byte(run.ID), data)
	})
}

// FinishRun transitions running -> terminal, freezing the consumed snapshot.
func (s *BoltStore) FinishRun(runID string, status types.RunStatus, consumed types.Consumed, output []byte, outputHash, reason, errMsg string) error {
	if !status.Terminal() {
		return fmt.Errorf("finish requires a terminal status, got %s", status)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		data := b.Get([]byte(runID))
		if data == nil {
			return fmt.Errorf("run %s: %w", runID, types.ErrNotFound)
		}
		var run types.Run
		if err := json.Unmarshal(data, &run); err != nil {
			return err
		}
		if run.Status.Terminal() {
			return fmt.Errorf("run %s: %w", runID, types.ErrTerminalState)
		}
		if run.Status != types.RunStatusRunning {
			return fmt.Errorf("run %s is %s, not running", runID, run.Status)
		}
		run.Status = status
		run.Consumed = consumed
		run.Output = output
		run.OutputHash = outputHash
		run.StatusReason = reason
		run.Error = errMsg
		run.FinishedAt = time.Now().UTC()

		updated, err := json.Marshal(&run)
		if err != nil {
			return err
		}
		return b.Put([]byte(runID), updated)
	})
}

// Step operations

// AppendStep persists a step, idempotent on (run, index). A step already at
// the index with the same input hash is returned unchanged; a different hash
// fails with types.ErrStepDivergence.
func (s *BoltStore) AppendStep(step *types.Step) (*types.Step, error) {
	var result *types.Step
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSteps)
		key := stepKey(step.RunID, step.Index)

		if data := b.Get(key); data != nil {
			var existing types.Step
			if err := json.Unmarshal(data, &existing); err != nil {
				return err
			}
			if existing.InputHash != step.InputHash {
				return fmt.Errorf("run %s step %d: %w", step.RunID, step.Index, types.ErrStepDivergence)
			}
			result = &existing
			return nil
		}

		data, err := json.Marshal(step)
		if err != nil {
			return err
		}
		if err := b.Put(key, data); err != nil {
			return err
		}
		result = step
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *BoltStore) GetStep(runID string, index int) (*types.Step, error) {
	var step types.Step
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSteps).Get(stepKey(runID, index))
		if data == nil {
			return fmt.Errorf("run %s step %d: %w", runID, index, types.ErrNotFound)
		}
		return json.Unmarshal(data, &step)
	})
	if err != nil {
		return nil, err
	}
	return &step, nil
}

func (s *BoltStore) ListSteps(runID string) ([]*types.Step, error) {
	var steps []*types.Step
	prefix := []byte(runID + "/")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSteps).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var step types.Step
			if err := json.Unmarshal(v, &step); err != nil {
				return err
			}
			steps = append(steps, &step)
		}
		return nil
	})
	return steps, err
}

// Queue item operations
func (s *BoltStore) CreateQueueItem(item *types.QueueItem) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketQueueItems)
		data, err := json.Marshal(item)
		if err != nil {
			return err
		}
		return b.Put([]byte(item.ID), data)
	})
}

func (s *BoltStore) GetQueueItem(id string) (*types.QueueItem, error) {
	var item types.QueueItem
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketQueueItems)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("queue item %s: %w", id, types.ErrNotFound)
		}
		return json.Unmarshal(data, &item)
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *BoltStore) ListQueueItemsByStatus(status types.QueueItemStatus) ([]*types.QueueItem, error) {
	var items []*types.QueueItem
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketQueueItems)
		return b.ForEach(func(k, v []byte) error {
			var item types.QueueItem
			if err := json.Unmarshal(v, &item); err != nil {
				return err
			}
			if item.Status == status {
				items = append(items, &item)
			}
			return nil
		})
	})
	return items, err
}

func (s *BoltStore) UpdateQueueItem(item *types.QueueItem) error {
	return s.CreateQueueItem(item)
}

// ClaimQueueItem CAS-transitions pending -> processing. The status check and
// the write share one transaction, so two drivers can never claim the same
// item.
func (s *BoltStore) ClaimQueueItem(id string, now time.Time) (*types.QueueItem, bool, error) {
	var claimed *types.QueueItem
	ok := false

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketQueueItems)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("queue item %s: %w", id, types.ErrNotFound)
		}
		var item types.QueueItem
		if err := json.Unmarshal(data, &item); err != nil {
			return err
		}
		if item.Status != types.QueueItemPending {
			return nil
		}
		item.Status = types.QueueItemProcessing
		item.Attempts++
		item.StartedAt = now

		updated, err := json.Marshal(&item)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(id), updated); err != nil {
			return err
		}
		claimed = &item
		ok = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return claimed, ok, nil
}

// MutateQueueItem applies mutate to the stored item while its status is one
// of want. The status check and the write share one transaction, like
// ClaimQueueItem, so a stale snapshot can never overwrite a concurrent
// claim or cancel.
func (s *BoltStore) MutateQueueItem(id string, want []types.QueueItemStatus, mutate func(item *types.QueueItem) bool) (*types.QueueItem, bool, error) {
	var result *types.QueueItem
	applied := false

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketQueueItems)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("queue item %s: %w", id, types.ErrNotFound)
		}
		var item types.QueueItem
		if err := json.Unmarshal(data, &item); err != nil {
			return err
		}
		result = &item

		eligible := false
		for _, status := range want {
			if item.Status == status {
				eligible = true
				break
			}
		}
		if !eligible || !mutate(&item) {
			return nil
		}

		updated, err := json.Marshal(&item)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(id), updated); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, applied, nil
}

func (s *BoltStore) CountQueueDepth(tenantID string) (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketQueueItems)
		return b.ForEach(func(k, v []byte) error {
			var item types.QueueItem
			if err := json.Unmarshal(v, &item); err != nil {
				return err
			}
			if item.TenantID == tenantID &&
				(item.Status == types.QueueItemPending || item.Status == types.QueueItemProcessing) {
				count++
			}
			return nil
		})
	})
	return count, err
}

func (s *BoltStore) CountProcessingByTenant() (map[string]int, error) {
	counts := make(map[string]int)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketQueueItems)
		return b.ForEach(func(k, v []byte) error {
			var item types.QueueItem
			if err := json.Unmarshal(v, &item); err != nil {
				return err
			}
			if item.Status == types.QueueItemProcessing {
				counts[item.TenantID]++
			}
			return nil
		})
	})
	return counts, err
}

// Usage operations

// RecordUsage upserts the (tenant, day) aggregate additively.
func (s *BoltStore) RecordUsage(tenantID, date string, delta UsageDelta) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUsage)
		key := usageKey(tenantID, date)

		usage := types.UsageDay{TenantID: tenantID, Date: date}
		if data := b.Get(key); data != nil {
			if err := json.Unmarshal(data, &usage); err != nil {
				return err
			}
		}
		usage.Runs += delta.Runs
		usage.Tokens += delta.Tokens
		usage.Cost += delta.Cost
		usage.StorageBytes += delta.StorageBytes
		usage.ActiveAgents += delta.ActiveAgents

		data, err := json.Marshal(&usage)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

func (s *BoltStore) GetUsage(tenantID, date string) (*types.UsageDay, error) {
	usage := &types.UsageDay{TenantID: tenantID, Date: date}
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketUsage).Get(usageKey(tenantID, date))
		if data == nil {
			return nil // Zero row for days with no activity
		}
		return json.Unmarshal(data, usage)
	})
	if err != nil {
		return nil, err
	}
	return usage, nil
}

// Rate window operations
func (s *BoltStore) IncrRateWindow(tenantID string, kind types.RateWindowKind, bucketKey string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRateWindows)
		key := rateWindowKey(tenantID, kind, bucketKey)

		var row rateWindowRow
		if data := b.Get(key); data != nil {
			if err := json.Unmarshal(data, &row); err != nil {
				return err
			}
		}
		row.Count++
		row.UpdatedAt = time.Now().UTC()

		data, err := json.Marshal(&row)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

func (s *BoltStore) RateWindowCount(tenantID string, kind types.RateWindowKind, bucketKey string) (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketRateWindows).Get(rateWindowKey(tenantID, kind, bucketKey))
		if data == nil {
			return nil
		}
		var row rateWindowRow
		if err := json.Unmarshal(data, &row); err != nil {
			return err
		}
		count = row.Count
		return nil
	})
	return count, err
}

// PruneRateWindows deletes counters untouched since before. Returns how many
// rows were removed.
func (s *BoltStore) PruneRateWindows(before time.Time) (int, error) {
	pruned := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRateWindows)
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var row rateWindowRow
			if err := json.Unmarshal(v, &row); err != nil {
				continue
			}
			if row.UpdatedAt.Before(before) {
				if err := c.Delete(); err != nil {
					return err
				}
				pruned++
			}
		}
		return nil
	})
	return pruned, err
}

// Agent allowlist operations
func (s *BoltStore) SetAgentAllowlist(tenantID string, agentIDs []string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAgentAllowlist)
		if len(agentIDs) == 0 {
			return b.Delete([]byte(tenantID))
		}
		data, err := json.Marshal(agentIDs)
		if err != nil {
			return err
		}
		return b.Put([]byte(tenantID), data)
	})
}

func (s *BoltStore) GetAgentAllowlist(tenantID string) ([]string, error) {
	var agents []string
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketAgentAllowlist).Get([]byte(tenantID))
		if data == nil {
			return nil // No allowlist set
		}
		return json.Unmarshal(data, &agents)
	})
	return agents, err
}

// API key operations. Keys are stored under their hash so that validation is
// a single point lookup.
func (s *BoltStore) CreateAPIKey(key *types.APIKey) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAPIKeys)
		data, err := json.Marshal(key)
		if err != nil {
			return err
		}
		return b.Put([]byte(key.KeyHash), data)
	})
}

func (s *BoltStore) GetAPIKeyByHash(keyHash string) (*types.APIKey, error) {
	var key types.APIKey
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketAPIKeys).Get([]byte(keyHash))
		if data == nil {
			return fmt.Errorf("api key: %w", types.ErrNotFound)
		}
		return json.Unmarshal(data, &key)
	})
	if err != nil {
		return nil, err
	}
	return &key, nil
}

func (s *BoltStore) ListAPIKeys(tenantID string) ([]*types.APIKey, error) {
	var keys []*types.APIKey
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAPIKeys)
		return b.ForEach(func(k, v []byte) error {
			var key types.APIKey
			if err := json.Unmarshal(v, &key); err != nil {
				return err
			}
			if key.TenantID == tenantID {
				keys = append(keys, &key)
			}
			return nil
		})
	})
	return keys, err
}

func (s *BoltStore) UpdateAPIKey(key *types.APIKey) error {
	return s.CreateAPIKey(key)
}

func (s *BoltStore) DeleteAPIKey(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAPIKeys)
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var key types.APIKey
			if err := json.Unmarshal(v, &key); err != nil {
				continue
			}
			if key.ID == id {
				return c.Delete()
			}
		}
		return fmt.Errorf("api key %s: %w", id, types.ErrNotFound)
	})
}

// Policy operations
func (s *BoltStore) CreatePolicy(policy *types.Policy) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPolicies)
		data, err := json.Marshal(policy)
		if err != nil {
			return err
		}
		return b.Put([]byte(policy.ID), data)
	})
}

func (s *BoltStore) GetPolicy(id string) (*types.Policy, error) {
	var policy types.Policy
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketPolicies).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("policy %s: %w", id, types.ErrNotFound)
		}
		return json.Unmarshal(data, &policy)
	})
	if err != nil {
		return nil, err
	}
	return &policy, nil
}

func (s *BoltStore) ListPoliciesForTenant(tenantID string) ([]*types.Policy, error) {
	var policies []*types.Policy
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPolicies)
		return b.ForEach(func(k, v []byte) error {
			var policy types.Policy
			if err := json.Unmarshal(v, &policy); err != nil {
				return err
			}
			if policy.TenantID == tenantID || policy.TenantID == "" {
				policies = append(policies, &policy)
			}
			return nil
		})
	})
	return policies, err
}

func (s *BoltStore) UpdatePolicy(policy *types.Policy) error {
	return s.CreatePolicy(policy)
}

func (s *BoltStore) DeletePolicy(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPolicies)
		return b.Delete([]byte(id))
	})
}

// Role binding operations
func (s *BoltStore) CreateRoleBinding(binding *types.RoleBinding) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRoleBindings)
		data, err := json.Marshal(binding)
		if err != nil {
			return err
		}
		return b.Put([]byte(binding.ID), data)
	})
}

func (s *BoltStore) ListRoleBindings(tenantID, subjectID string) ([]*types.RoleBinding, error) {
	var bindings []*types.RoleBinding
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRoleBindings)
		return b.ForEach(func(k, v []byte) error {
			var binding types.RoleBinding
			if err := json.Unmarshal(v, &binding); err != nil {
				return err
			}
			if binding.TenantID == tenantID && binding.SubjectID == subjectID {
				bindings = append(bindings, &binding)
			}
			return nil
		})
	})
	return bindings, err
}

func (s *BoltStore) DeleteRoleBinding(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRoleBindings)
		return b.Delete([]byte(id))
	})
}

// Provider job operations
func (s *BoltStore) CreateProviderJob(job *types.ProviderJob) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProviderJobs)
		data, err := json.Marshal(job)
		if err != nil {
			return err
		}
		return b.Put([]byte(job.ID), data)
	})
}

func (s *BoltStore) GetProviderJob(id string) (*types.ProviderJob, error) {
	var job types.ProviderJob
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketProviderJobs).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("provider job %s: %w", id, types.ErrNotFound)
		}
		return json.Unmarshal(data, &job)
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *BoltStore) ListProviderJobsByStatus(statuses ...types.ProviderJobStatus) ([]*types.ProviderJob, error) {
	want := make(map[types.ProviderJobStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	var jobs []*types.ProviderJob
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProviderJobs)
		return b.ForEach(func(k, v []byte) error {
			var job types.ProviderJob
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			if want[job.Status] {
				jobs = append(jobs, &job)
			}
			return nil
		})
	})
	return jobs, err
}

func (s *BoltStore) UpdateProviderJob(job *types.ProviderJob) error {
	return s.CreateProviderJob(job)
}
