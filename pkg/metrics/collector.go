package metrics

import (
	"time"

	"github.com/paddockio/paddock/pkg/storage"
	"github.com/paddockio/paddock/pkg/types"
)

// Collector periodically samples gauge metrics from the ledger
type Collector struct {
	store  storage.Store
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(store storage.Store) *Collector {
	return &Collector{
		store:  store,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectQueueMetrics()
	c.collectProviderJobMetrics()
}

func (c *Collector) collectQueueMetrics() {
	statuses := []types.QueueItemStatus{
		types.QueueItemPending,
		types.QueueItemProcessing,
		types.QueueItemCompleted,
		types.QueueItemFailed,
		types.QueueItemCancelled,
		types.QueueItemTimeout,
	}

	for _, status := range statuses {
		items, err := c.store.ListQueueItemsByStatus(status)
		if err != nil {
			continue
		}
		QueueItemsTotal.WithLabelValues(string(status)).Set(float64(len(items)))
	}
}

func (c *Collector) collectProviderJobMetrics() {
	statuses := []types.ProviderJobStatus{
		types.ProviderJobPending,
		types.ProviderJobProcessing,
		types.ProviderJobComplete,
		types.ProviderJobFailed,
		types.ProviderJobCancelled,
	}

	for _, status := range statuses {
		jobs, err := c.store.ListProviderJobsByStatus(status)
		if err != nil {
			continue
		}
		ProviderJobsTotal.WithLabelValues(string(status)).Set(float64(len(jobs)))
	}
}
