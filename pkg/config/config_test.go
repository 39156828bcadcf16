package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 100, cfg.Scheduler.GlobalConcurrencyCap)
	assert.Equal(t, 1*time.Second, cfg.Scheduler.PollInterval)
	assert.Equal(t, 10*time.Second, cfg.Scheduler.SweepInterval)
	assert.Equal(t, 300*time.Second, cfg.Scheduler.DefaultStepTimeout)
	assert.Equal(t, 0.5, cfg.Scheduler.AgingRatePerMinute)
	assert.Equal(t, 0.6, cfg.Executor.DemoteThreshold)
	assert.Equal(t, int64(2000), cfg.Executor.EstimateBaseTokens)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Scheduler, cfg.Scheduler)
}

func TestLoadPartialFileOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "paddock.yaml")
	body := "data_dir: /tmp/paddock\nscheduler:\n  global_concurrency_cap: 8\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/paddock", cfg.DataDir)
	assert.Equal(t, 8, cfg.Scheduler.GlobalConcurrencyCap)
	// Untouched fields keep their defaults.
	assert.Equal(t, 1*time.Second, cfg.Scheduler.PollInterval)
	assert.Equal(t, 0.6, cfg.Executor.DemoteThreshold)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scheduler: ["), 0644))
	_, err := Load(path)
	assert.Error(t, err)
}
