package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/paddockio/paddock/pkg/auth"
	"github.com/paddockio/paddock/pkg/canonical"
	"github.com/paddockio/paddock/pkg/config"
	"github.com/paddockio/paddock/pkg/executor"
	"github.com/paddockio/paddock/pkg/log"
	"github.com/paddockio/paddock/pkg/metrics"
	"github.com/paddockio/paddock/pkg/policy"
	"github.com/paddockio/paddock/pkg/provenance"
	"github.com/paddockio/paddock/pkg/provider"
	"github.com/paddockio/paddock/pkg/queue"
	"github.com/paddockio/paddock/pkg/quota"
	"github.com/paddockio/paddock/pkg/storage"
	"github.com/paddockio/paddock/pkg/types"
)

// ErrPolicyDenied is returned when the policy engine refuses a submission.
var ErrPolicyDenied = errors.New("policy denied")

// Manager is the application context. It owns every collaborator explicitly
// (no package-level singletons) and runs the dispatch loop that turns
// claimed queue items into driven runs.
type Manager struct {
	cfg       *config.Config
	store     storage.Store
	tracker   *quota.Tracker
	queue     *queue.Queue
	engine    *policy.Engine
	exec      *executor.Executor
	provider  *provider.Tracker
	broker    *provenance.Broker
	sink      *provenance.JSONLSink
	authMgr   *auth.Manager
	collector *metrics.Collector
	worker    executor.Worker
	logger    zerolog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	cancels map[string]context.CancelFunc // in-flight runs by id
}

// New wires the control plane together. The worker performs the actual
// model steps; tests inject fakes.
func New(cfg *config.Config, wrk executor.Worker) (*Manager, error) {
	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	m := &Manager{
		cfg:     cfg,
		store:   store,
		worker:  wrk,
		logger:  log.WithComponent("manager"),
		stopCh:  make(chan struct{}),
		cancels: make(map[string]context.CancelFunc),
	}
	m.tracker = quota.NewTracker(store)
	m.queue = queue.New(store, m.tracker, cfg.Scheduler)
	m.engine = policy.NewEngine(store, policy.DefaultRoles)
	m.broker = provenance.NewBroker()
	m.exec = executor.New(store, m.broker, executor.DefaultCostModel(), cfg.Executor)
	m.provider = provider.NewTracker(store, cfg.Provider, m.finalizeProviderJob)
	m.authMgr = auth.NewManager(store)
	m.collector = metrics.NewCollector(store)
	return m, nil
}

// Start launches the background loops.
func (m *Manager) Start() error {
	m.broker.Start()
	if m.cfg.ProvenanceSink != "" {
		sink, err := provenance.NewJSONLSink(m.broker, m.cfg.ProvenanceSink)
		if err != nil {
			return err
		}
		m.sink = sink
	}

	m.queue.Start()
	m.provider.Start()
	m.collector.Start()

	m.wg.Add(1)
	go m.dispatchLoop()

	metrics.RegisterComponent("ledger", true, "")
	metrics.RegisterComponent("dispatcher", true, "")
	m.logger.Info().Msg("Manager started")
	return nil
}

// Stop drains the dispatch loop and shuts the collaborators down.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()

	m.collector.Stop()
	m.provider.Stop()
	m.queue.Stop()
	if m.sink != nil {
		m.sink.Close()
	}
	m.broker.Stop()
	if err := m.store.Close(); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to close ledger")
	}
	m.logger.Info().Msg("Manager stopped")
}

// Store exposes the ledger for read paths.
func (m *Manager) Store() storage.Store { return m.store }

// Auth exposes the API key manager.
func (m *Manager) Auth() *auth.Manager { return m.authMgr }

// Queue exposes the fair queue.
func (m *Manager) Queue() *queue.Queue { return m.queue }

// Policy exposes the policy engine.
func (m *Manager) Policy() *policy.Engine { return m.engine }

// Submit asks the policy engine for an allow, then admits the request. The
// subject describes the caller (id, roles, tier) for policy evaluation.
func (m *Manager) Submit(subject map[string]any, req *queue.SubmitRequest) (*types.QueueItem, error) {
	decision := m.engine.Evaluate(req.TenantID, &types.AccessRequest{
		Subject:      subject,
		ResourceType: "run",
		Action:       "submit",
		Resource: map[string]any{
			"tenant_id": req.TenantID,
			"agent_id":  req.AgentID,
		},
	})
	if decision.Allowed {
		metrics.PolicyDecisions.WithLabelValues("allow").Inc()
	} else {
		metrics.PolicyDecisions.WithLabelValues("deny").Inc()
		return nil, fmt.Errorf("%w: %s", ErrPolicyDenied, decision.Reason)
	}

	return m.queue.Submit(req)
}

// CancelItem cancels a queue item and, when a driver is mid-run, signals
// the cooperative cancel.
func (m *Manager) CancelItem(itemID string) error {
	item, err := m.store.GetQueueItem(itemID)
	if err != nil {
		return err
	}
	if item.RunID != "" {
		m.signalCancel(item.RunID)
	}
	return m.queue.Cancel(itemID)
}

// CancelRun cancels a run. In-flight runs get the cooperative signal and
// finish as partial at the next step boundary; runs parked on a provider
// job are finalized directly.
func (m *Manager) CancelRun(runID string) error {
	if m.signalCancel(runID) {
		return nil
	}

	run, err := m.store.GetRun(runID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return types.ErrTerminalState
	}
	return m.store.FinishRun(runID, types.RunStatusPartial, run.Consumed, run.Output, run.OutputHash, "CANCELLED", "")
}

// CreateTenant provisions a tenant with its tier's quota and limits.
func (m *Manager) CreateTenant(name string, tier types.TenantTier) (*types.Tenant, error) {
	tenant := &types.Tenant{
		ID:        uuid.New().String(),
		Name:      name,
		Status:    types.TenantStatusActive,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	quota.ApplyTier(tenant, tier)
	if err := m.store.CreateTenant(tenant); err != nil {
		return nil, fmt.Errorf("failed to create tenant: %w", err)
	}
	m.logger.Info().Str("tenant_id", tenant.ID).Str("tier", string(tier)).Msg("Created tenant")
	return tenant, nil
}

// SetTenantTier changes a tenant's tier, updating quota and limits in the
// same write.
func (m *Manager) SetTenantTier(tenantID string, tier types.TenantTier) (*types.Tenant, error) {
	tenant, err := m.store.GetTenant(tenantID)
	if err != nil {
		return nil, err
	}
	quota.ApplyTier(tenant, tier)
	tenant.UpdatedAt = time.Now()
	if err := m.store.UpdateTenant(tenant); err != nil {
		return nil, fmt.Errorf("failed to update tenant: %w", err)
	}
	return tenant, nil
}

// SetTenantStatus moves a tenant through its lifecycle. Only active tenants
// admit new work; in-flight work is unaffected.
func (m *Manager) SetTenantStatus(tenantID string, status types.TenantStatus) (*types.Tenant, error) {
	tenant, err := m.store.GetTenant(tenantID)
	if err != nil {
		return nil, err
	}
	tenant.Status = status
	tenant.UpdatedAt = time.Now()
	if err := m.store.UpdateTenant(tenant); err != nil {
		return nil, fmt.Errorf("failed to update tenant: %w", err)
	}
	return tenant, nil
}

// BindRole grants a role to a subject within a tenant's policy scope.
func (m *Manager) BindRole(tenantID, subjectID, role string) error {
	return m.store.CreateRoleBinding(&types.RoleBinding{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		SubjectID: subjectID,
		Role:      role,
		CreatedAt: time.Now(),
	})
}

// dispatchLoop polls the queue and fans claimed items out to run drivers.
func (m *Manager) dispatchLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.Scheduler.PollInterval)
	defer ticker.Stop()

	g := new(errgroup.Group)
	g.SetLimit(m.cfg.Scheduler.GlobalConcurrencyCap)

	for {
		select {
		case <-ticker.C:
			items, err := m.queue.Dequeue(m.cfg.Scheduler.GlobalConcurrencyCap, time.Now())
			if err != nil {
				m.logger.Warn().Err(err).Msg("Dispatch cycle failed")
				continue
			}
			for _, item := range items {
				item := item
				g.Go(func() error {
					m.driveItem(item)
					return nil
				})
			}
		case <-m.stopCh:
			g.Wait()
			return
		}
	}
}

// driveItem opens (or joins) the run for a claimed item and drives it to a
// terminal state, then reflects the outcome into the item and the tenant's
// usage counters.
func (m *Manager) driveItem(item *types.QueueItem) {
	logger := m.logger.With().Str("item_id", item.ID).Str("tenant_id", item.TenantID).Logger()
	metrics.InFlightRuns.Inc()
	defer metrics.InFlightRuns.Dec()

	tenant, err := m.store.GetTenant(item.TenantID)
	if err != nil {
		m.failItem(item, fmt.Errorf("tenant lookup failed: %w", err))
		return
	}

	budget := item.Budget
	if budget == nil {
		budget = &types.Budget{AllowDemote: true}
		if tenant.Limits != nil {
			budget.MaxTokens = tenant.Limits.MaxTokensPerRun
		}
	}
	if budget.TierFloor == "" {
		budget.TierFloor = m.cfg.Executor.TierFloors[tenant.Tier]
	}
	effort := item.Effort
	if effort == "" {
		effort = types.EffortMedium
	}

	est, err := m.exec.Preflight(item.Payload, budget, effort, budget.TierFloor)
	if err != nil {
		// Pre-flight rejection is non-retryable; the suggested budget rides
		// along in the error text.
		m.failItem(item, err)
		return
	}

	run := &types.Run{
		ID:             uuid.New().String(),
		IdempotencyKey: item.IdempotencyKey,
		TenantID:       item.TenantID,
		AgentID:        item.AgentID,
		TraceID:        uuid.New().String(),
		Input:          item.Payload,
		InputHash:      canonical.Hash(item.Payload),
		Budget:         budget,
		Tier:           est.StartTier,
		Effort:         effort,
		Status:         types.RunStatusRunning,
		CreatedAt:      time.Now(),
		StartedAt:      time.Now(),
	}
	persisted, created, err := m.store.CreateRunIdempotent(run)
	if err != nil {
		m.failItem(item, fmt.Errorf("failed to open run: %w", err))
		return
	}

	item.RunID = persisted.ID
	if !created {
		// Idempotency hit: the original driver owns the step loop. Reflect
		// the existing run and finish the item without driving.
		logger.Info().Str("run_id", persisted.ID).Msg("Idempotency hit, joining existing run")
		m.completeItem(item)
		return
	}
	runID := persisted.ID
	if _, _, err := m.store.MutateQueueItem(item.ID,
		[]types.QueueItemStatus{types.QueueItemProcessing},
		func(it *types.QueueItem) bool {
			it.RunID = runID
			return true
		}); err != nil {
		logger.Warn().Err(err).Msg("Failed to stamp run id on item")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.registerCancel(persisted.ID, cancel)
	defer m.unregisterCancel(persisted.ID)

	result, err := m.exec.Execute(ctx, persisted, m.worker)
	if err != nil {
		m.failItem(item, err)
		return
	}

	if !result.Status.Terminal() {
		// Parked on a provider job; the poller owns completion.
		m.completeItem(item)
		return
	}

	m.recordUsage(tenant, result)
	if result.Status == types.RunStatusFailed {
		m.failItem(item, errors.New(result.Error))
		return
	}
	m.completeItem(item)
}

func (m *Manager) registerCancel(runID string, cancel context.CancelFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancels[runID] = cancel
}

func (m *Manager) unregisterCancel(runID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cancels, runID)
}

// signalCancel fires the cooperative cancel for an in-flight run.
func (m *Manager) signalCancel(runID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	cancel, ok := m.cancels[runID]
	if ok {
		cancel()
	}
	return ok
}

// completeItem and failItem transition an item the driver owns into its
// terminal state. Both go through the ledger's conditional mutation: an item
// cancelled or swept out of processing while the driver was unwinding keeps
// that state instead of being overwritten.
func (m *Manager) completeItem(item *types.QueueItem) {
	runID := item.RunID
	_, ok, err := m.store.MutateQueueItem(item.ID,
		[]types.QueueItemStatus{types.QueueItemProcessing},
		func(it *types.QueueItem) bool {
			it.Status = types.QueueItemCompleted
			it.RunID = runID
			it.FinishedAt = time.Now()
			return true
		})
	if err != nil {
		m.logger.Warn().Err(err).Str("item_id", item.ID).Msg("Failed to complete item")
	} else if !ok {
		m.logger.Debug().Str("item_id", item.ID).Msg("Item left processing before completion, not overwriting")
	}
}

func (m *Manager) failItem(item *types.QueueItem, cause error) {
	runID := item.RunID
	_, ok, err := m.store.MutateQueueItem(item.ID,
		[]types.QueueItemStatus{types.QueueItemProcessing},
		func(it *types.QueueItem) bool {
			it.Status = types.QueueItemFailed
			it.RunID = runID
			it.Error = cause.Error()
			it.FinishedAt = time.Now()
			return true
		})
	if err != nil {
		m.logger.Warn().Err(err).Str("item_id", item.ID).Msg("Failed to fail item")
	} else if !ok {
		m.logger.Debug().Str("item_id", item.ID).Msg("Item left processing before failure, not overwriting")
	}
}

// recordUsage folds a terminal run into the tenant's daily rollup.
func (m *Manager) recordUsage(tenant *types.Tenant, run *types.Run) {
	delta := storage.UsageDelta{
		Runs:   1,
		Tokens: run.Consumed.Tokens,
		Cost:   run.Consumed.Cost,
	}
	if err := m.store.RecordUsage(tenant.ID, quota.Day(time.Now()), delta); err != nil {
		m.logger.Warn().Err(err).Str("tenant_id", tenant.ID).Msg("Failed to record usage")
	}
	metrics.TokensConsumed.WithLabelValues(string(tenant.Tier)).Add(float64(run.Consumed.Tokens))
}

// finalizeProviderJob reflects a terminal provider job into its run. The
// run was left running at handoff; this is where it completes.
func (m *Manager) finalizeProviderJob(job *types.ProviderJob) error {
	run, err := m.store.GetRun(job.RunID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return nil
	}

	consumed := run.Consumed
	consumed.Cost += job.Cost

	switch job.Status {
	case types.ProviderJobComplete:
		output := []byte(job.ResultURL)
		err = m.store.FinishRun(run.ID, types.RunStatusCompleted, consumed, output, canonical.Hash(output), "", "")
		metrics.RunsTotal.WithLabelValues(string(types.RunStatusCompleted)).Inc()
	case types.ProviderJobFailed:
		err = m.store.FinishRun(run.ID, types.RunStatusFailed, consumed, nil, "", "PROVIDER_FAILED", job.Error)
		metrics.RunsTotal.WithLabelValues(string(types.RunStatusFailed)).Inc()
	case types.ProviderJobCancelled:
		err = m.store.FinishRun(run.ID, types.RunStatusPartial, consumed, nil, "", "CANCELLED", "")
		metrics.RunsTotal.WithLabelValues(string(types.RunStatusPartial)).Inc()
	default:
		return nil
	}
	if err != nil {
		return err
	}

	if tenant, terr := m.store.GetTenant(run.TenantID); terr == nil {
		run.Consumed = consumed
		m.recordUsage(tenant, run)
	}
	return nil
}
