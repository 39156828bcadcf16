package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/paddockio/paddock/pkg/types"
)

// Config holds the full control-plane configuration. Zero values are filled
// from DefaultConfig, so a partial YAML file is enough.
type Config struct {
	DataDir   string `yaml:"data_dir"`
	ListenAddr string `yaml:"listen_addr"`

	Log struct {
		Level string `yaml:"level"`
		JSON  bool   `yaml:"json"`
	} `yaml:"log"`

	Scheduler SchedulerConfig `yaml:"scheduler"`
	Executor  ExecutorConfig  `yaml:"executor"`
	Provider  ProviderConfig  `yaml:"provider"`

	// ProvenanceSink is an optional path for the append-only provenance log.
	ProvenanceSink string `yaml:"provenance_sink"`

	// WorkerEndpoint is the upstream model worker address.
	WorkerEndpoint string `yaml:"worker_endpoint"`
}

// SchedulerConfig tunes admission and dispatch.
type SchedulerConfig struct {
	GlobalConcurrencyCap int           `yaml:"global_concurrency_cap"`
	PollInterval         time.Duration `yaml:"poll_interval"`
	SweepInterval        time.Duration `yaml:"sweep_interval"`
	DefaultStepTimeout   time.Duration `yaml:"default_step_timeout"`
	AgingRatePerMinute   float64       `yaml:"aging_rate_per_minute"`
	AgingInterval        time.Duration `yaml:"aging_interval"`
	RateWindowRetention  time.Duration `yaml:"rate_window_retention"`
}

// ExecutorConfig tunes pre-flight estimation and the step loop. The token
// estimate constants are deliberately configuration, not code.
type ExecutorConfig struct {
	// EstimateBaseTokens is the fixed per-step token floor.
	EstimateBaseTokens int64 `yaml:"estimate_base_tokens"`
	// EstimateOutputTokens is the assumed output tokens per step.
	EstimateOutputTokens int64 `yaml:"estimate_output_tokens"`
	// EstimateMaxStepTokens caps the per-step token estimate.
	EstimateMaxStepTokens int64 `yaml:"estimate_max_step_tokens"`
	// DemoteThreshold is the fraction of remaining budget a projected step
	// may consume before demotion triggers (default 0.6).
	DemoteThreshold float64 `yaml:"demote_threshold"`
	// MaxStepAttempts bounds retryable-error retries per step.
	MaxStepAttempts int `yaml:"max_step_attempts"`
	// BackoffCap bounds exponential retry backoff.
	BackoffCap time.Duration `yaml:"backoff_cap"`
	// TierFloors optionally pins a minimum tier per tenant tier.
	TierFloors map[types.TenantTier]types.TierID `yaml:"tier_floors"`
}

// ProviderConfig tunes the provider-job poller.
type ProviderConfig struct {
	PollInterval time.Duration            `yaml:"poll_interval"`
	Cadence      map[string]time.Duration `yaml:"cadence"` // per-provider override
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	cfg := &Config{
		DataDir:    "/var/lib/paddock",
		ListenAddr: ":8080",
	}
	cfg.Log.Level = "info"
	cfg.Scheduler = SchedulerConfig{
		GlobalConcurrencyCap: 100,
		PollInterval:         1 * time.Second,
		SweepInterval:        10 * time.Second,
		DefaultStepTimeout:   300 * time.Second,
		AgingRatePerMinute:   0.5,
		AgingInterval:        30 * time.Second,
		RateWindowRetention:  48 * time.Hour,
	}
	cfg.Executor = ExecutorConfig{
		EstimateBaseTokens:    2000,
		EstimateOutputTokens:  1000,
		EstimateMaxStepTokens: 5000,
		DemoteThreshold:       0.6,
		MaxStepAttempts:       3,
		BackoffCap:            60 * time.Second,
	}
	cfg.Provider = ProviderConfig{
		PollInterval: 15 * time.Second,
	}
	return cfg
}

// Load reads a YAML config file and overlays it on the defaults. A missing
// path returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// applyDefaults re-fills any zero fields a partial file left behind.
func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
	if c.ListenAddr == "" {
		c.ListenAddr = def.ListenAddr
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Scheduler.GlobalConcurrencyCap == 0 {
		c.Scheduler.GlobalConcurrencyCap = def.Scheduler.GlobalConcurrencyCap
	}
	if c.Scheduler.PollInterval == 0 {
		c.Scheduler.PollInterval = def.Scheduler.PollInterval
	}
	if c.Scheduler.SweepInterval == 0 {
		c.Scheduler.SweepInterval = def.Scheduler.SweepInterval
	}
	if c.Scheduler.DefaultStepTimeout == 0 {
		c.Scheduler.DefaultStepTimeout = def.Scheduler.DefaultStepTimeout
	}
	if c.Scheduler.AgingRatePerMinute == 0 {
		c.Scheduler.AgingRatePerMinute = def.Scheduler.AgingRatePerMinute
	}
	if c.Scheduler.AgingInterval == 0 {
		c.Scheduler.AgingInterval = def.Scheduler.AgingInterval
	}
	if c.Scheduler.RateWindowRetention == 0 {
		c.Scheduler.RateWindowRetention = def.Scheduler.RateWindowRetention
	}
	if c.Executor.EstimateBaseTokens == 0 {
		c.Executor.EstimateBaseTokens = def.Executor.EstimateBaseTokens
	}
	if c.Executor.EstimateOutputTokens == 0 {
		c.Executor.EstimateOutputTokens = def.Executor.EstimateOutputTokens
	}
	if c.Executor.EstimateMaxStepTokens == 0 {
		c.Executor.EstimateMaxStepTokens = def.Executor.EstimateMaxStepTokens
	}
	if c.Executor.DemoteThreshold == 0 {
		c.Executor.DemoteThreshold = def.Executor.DemoteThreshold
	}
	if c.Executor.MaxStepAttempts == 0 {
		c.Executor.MaxStepAttempts = def.Executor.MaxStepAttempts
	}
	if c.Executor.BackoffCap == 0 {
		c.Executor.BackoffCap = def.Executor.BackoffCap
	}
	if c.Provider.PollInterval == 0 {
		c.Provider.PollInterval = def.Provider.PollInterval
	}
}
