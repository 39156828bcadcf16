package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/paddockio/paddock/pkg/config"
	"github.com/paddockio/paddock/pkg/log"
	"github.com/paddockio/paddock/pkg/metrics"
	"github.com/paddockio/paddock/pkg/storage"
	"github.com/paddockio/paddock/pkg/types"
)

// JobStatus is a provider's report for one external job.
type JobStatus struct {
	State     types.ProviderJobStatus
	Progress  int // [0, 100]
	ResultURL string
	Cost      float64
	Error     string
}

// StatusClient queries one provider's status endpoint.
type StatusClient interface {
	JobStatus(ctx context.Context, externalID string) (*JobStatus, error)
}

// Finalizer is invoked once when a job reaches a terminal state. Per agent
// policy it either enqueues a follow-up step or finalizes the run the job
// belongs to.
type Finalizer func(job *types.ProviderJob) error

// Tracker polls outstanding provider jobs and drives their mirrored ledger
// entries. Each provider is polled at its own cadence behind a circuit
// breaker, so a misbehaving status endpoint cannot stall the loop.
type Tracker struct {
	store    storage.Store
	cfg      config.ProviderConfig
	finalize Finalizer
	logger   zerolog.Logger
	stopCh   chan struct{}

	mu       sync.Mutex
	clients  map[string]StatusClient
	breakers map[string]*gobreaker.CircuitBreaker
	lastPoll map[string]time.Time
}

// NewTracker creates a provider-job tracker. A nil finalizer leaves runs to
// the caller.
func NewTracker(store storage.Store, cfg config.ProviderConfig, finalize Finalizer) *Tracker {
	return &Tracker{
		store:    store,
		cfg:      cfg,
		finalize: finalize,
		logger:   log.WithComponent("provider"),
		stopCh:   make(chan struct{}),
		clients:  make(map[string]StatusClient),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		lastPoll: make(map[string]time.Time),
	}
}

// Register attaches a status client for a provider.
func (t *Tracker) Register(provider string, client StatusClient) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clients[provider] = client
	t.breakers[provider] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "provider-" + provider,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
}

// Start begins the polling loop.
func (t *Tracker) Start() {
	go t.run()
}

// Stop stops the polling loop.
func (t *Tracker) Stop() {
	close(t.stopCh)
}

func (t *Tracker) run() {
	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), t.cfg.PollInterval)
			if err := t.pollOnce(ctx, time.Now()); err != nil {
				t.logger.Warn().Err(err).Msg("Provider poll cycle failed")
			}
			cancel()
		case <-t.stopCh:
			return
		}
	}
}

// pollOnce walks outstanding jobs grouped by provider and applies status
// transitions. Providers under their cadence are skipped this cycle.
func (t *Tracker) pollOnce(ctx context.Context, now time.Time) error {
	jobs, err := t.store.ListProviderJobsByStatus(types.ProviderJobPending, types.ProviderJobProcessing)
	if err != nil {
		return fmt.Errorf("failed to list outstanding jobs: %w", err)
	}

	byProvider := make(map[string][]*types.ProviderJob)
	for _, job := range jobs {
		byProvider[job.Provider] = append(byProvider[job.Provider], job)
	}

	for provider, jobs := range byProvider {
		t.mu.Lock()
		client := t.clients[provider]
		breaker := t.breakers[provider]
		last := t.lastPoll[provider]
		t.mu.Unlock()

		if client == nil {
			t.logger.Warn().Str("provider", provider).Msg("No status client registered, skipping jobs")
			continue
		}

		cadence := t.cfg.PollInterval
		if c, ok := t.cfg.Cadence[provider]; ok {
			cadence = c
		}
		if !last.IsZero() && now.Sub(last) < cadence {
			continue
		}
		t.mu.Lock()
		t.lastPoll[provider] = now
		t.mu.Unlock()

		for _, job := range jobs {
			res, err := breaker.Execute(func() (interface{}, error) {
				return client.JobStatus(ctx, job.ExternalID)
			})
			if err != nil {
				metrics.ProviderPollsTotal.WithLabelValues(provider, "error").Inc()
				t.logger.Warn().Err(err).
					Str("provider", provider).
					Str("external_id", job.ExternalID).
					Msg("Status poll failed")
				if err == gobreaker.ErrOpenState {
					break // The breaker is open; spare the rest of the batch
				}
				continue
			}
			metrics.ProviderPollsTotal.WithLabelValues(provider, "ok").Inc()

			if err := t.apply(job, res.(*JobStatus), now); err != nil {
				t.logger.Error().Err(err).
					Str("job_id", job.ID).
					Msg("Failed to apply job status")
			}
		}
	}
	return nil
}

// apply folds a polled status into the job, persists it, and hands terminal
// jobs to the finalizer exactly once.
func (t *Tracker) apply(job *types.ProviderJob, status *JobStatus, now time.Time) error {
	prev := job.Status

	switch status.State {
	case types.ProviderJobComplete:
		job.Status = types.ProviderJobComplete
		job.Progress = 100
		job.ResultURL = status.ResultURL
		job.Cost = status.Cost
	case types.ProviderJobFailed:
		job.Status = types.ProviderJobFailed
		job.Error = status.Error
	case types.ProviderJobCancelled:
		job.Status = types.ProviderJobCancelled
	default:
		// First observed progress moves pending to processing.
		if job.Status == types.ProviderJobPending &&
			(status.State == types.ProviderJobProcessing || status.Progress > 0) {
			job.Status = types.ProviderJobProcessing
		}
		if status.Progress > job.Progress {
			job.Progress = status.Progress
		}
	}
	job.UpdatedAt = now

	if err := t.store.UpdateProviderJob(job); err != nil {
		return fmt.Errorf("failed to update provider job: %w", err)
	}

	if job.Status != prev {
		t.logger.Info().
			Str("job_id", job.ID).
			Str("provider", job.Provider).
			Str("from", string(prev)).
			Str("to", string(job.Status)).
			Msg("Provider job transitioned")
	}

	terminal := job.Status == types.ProviderJobComplete ||
		job.Status == types.ProviderJobFailed ||
		job.Status == types.ProviderJobCancelled
	if terminal && t.finalize != nil {
		if err := t.finalize(job); err != nil {
			return fmt.Errorf("finalizer failed for job %s: %w", job.ID, err)
		}
	}
	return nil
}
