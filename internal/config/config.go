// Package config holds the engine configuration surface. Every setting is
// optional and has a default; a zero Config is usable after ApplyDefaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration recognized by the engine. Field names
// mirror the external config surface; YAML is the on-disk format.
type Config struct {
	// Adaptive collection loop.
	MinIterations int `yaml:"min_iterations"`
	MaxIterations int `yaml:"max_iterations"`
	StableWindow  int `yaml:"stable_window"`

	// Timeouts.
	PerIterationTimeout    time.Duration `yaml:"per_iteration_timeout"`
	AnalyzerRequestTimeout time.Duration `yaml:"analyzer_request_timeout"`
	OverallTimeout         time.Duration `yaml:"overall_timeout"`

	// Retry policy for analyzer calls.
	MaxRetries     int           `yaml:"max_retries"`
	BackoffInitial time.Duration `yaml:"backoff_initial"`
	BackoffMax     time.Duration `yaml:"backoff_max"`
	BackoffJitter  float64       `yaml:"backoff_jitter"`

	// Concurrency.
	BranchParallelism   int `yaml:"branch_parallelism"`
	AnalyzerConcurrency int `yaml:"analyzer_concurrency"`

	// Analyzer rate limiting and circuit breaker.
	AnalyzerRequestsPerSecond float64       `yaml:"analyzer_requests_per_second"`
	BreakerFailureThreshold   int           `yaml:"breaker_failure_threshold"`
	BreakerSuccessThreshold   int           `yaml:"breaker_success_threshold"`
	BreakerOpenTimeout        time.Duration `yaml:"breaker_open_timeout"`

	// Repository index.
	IndexFileSizeCap     int64 `yaml:"index_file_size_cap_bytes"`
	SnippetIndexGroupMin int   `yaml:"snippet_index_group_min"`
	SnippetIndexGroupMax int   `yaml:"snippet_index_group_max"`

	// Cache.
	CacheCapacityEntries  int           `yaml:"cache_capacity_entries"`
	CacheTTLComprehensive time.Duration `yaml:"cache_ttl_comprehensive"`
	CacheTTLGapFill       time.Duration `yaml:"cache_ttl_gap_fill"`

	// Analyzer model parameters. Temperature is a pointer so an explicit
	// zero survives ApplyDefaults.
	Model       string   `yaml:"model"`
	MaxTokens   int64    `yaml:"max_tokens"`
	Temperature *float64 `yaml:"temperature"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() *Config {
	return &Config{
		MinIterations:             3,
		MaxIterations:             10,
		StableWindow:              2,
		PerIterationTimeout:       60 * time.Second,
		AnalyzerRequestTimeout:    120 * time.Second,
		OverallTimeout:            5 * time.Minute,
		MaxRetries:                5,
		BackoffInitial:            500 * time.Millisecond,
		BackoffMax:                15 * time.Second,
		BackoffJitter:             0.2,
		BranchParallelism:         2,
		AnalyzerConcurrency:       2,
		AnalyzerRequestsPerSecond: 2,
		BreakerFailureThreshold:   5,
		BreakerSuccessThreshold:   2,
		BreakerOpenTimeout:        30 * time.Second,
		IndexFileSizeCap:          1 << 20, // 1 MiB
		SnippetIndexGroupMin:      2,
		SnippetIndexGroupMax:      10,
		CacheCapacityEntries:      50,
		CacheTTLComprehensive:     5 * time.Minute,
		CacheTTLGapFill:           10 * time.Minute,
		Model:                     "claude-sonnet-4-5-20250929",
		MaxTokens:                 8192,
		Temperature:               floatPtr(0.2),
	}
}

func floatPtr(v float64) *float64 { return &v }

// Load reads a YAML config file and overlays it on the defaults. A missing
// file returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills any zero-valued field with its default so partial
// YAML files and zero structs behave identically.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.MinIterations == 0 {
		c.MinIterations = d.MinIterations
	}
	if c.MaxIterations == 0 {
		c.MaxIterations = d.MaxIterations
	}
	if c.StableWindow == 0 {
		c.StableWindow = d.StableWindow
	}
	if c.PerIterationTimeout == 0 {
		c.PerIterationTimeout = d.PerIterationTimeout
	}
	if c.AnalyzerRequestTimeout == 0 {
		c.AnalyzerRequestTimeout = d.AnalyzerRequestTimeout
	}
	if c.OverallTimeout == 0 {
		c.OverallTimeout = d.OverallTimeout
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.BackoffInitial == 0 {
		c.BackoffInitial = d.BackoffInitial
	}
	if c.BackoffMax == 0 {
		c.BackoffMax = d.BackoffMax
	}
	if c.BackoffJitter == 0 {
		c.BackoffJitter = d.BackoffJitter
	}
	if c.BranchParallelism == 0 {
		c.BranchParallelism = d.BranchParallelism
	}
	if c.AnalyzerConcurrency == 0 {
		c.AnalyzerConcurrency = d.AnalyzerConcurrency
	}
	if c.AnalyzerRequestsPerSecond == 0 {
		c.AnalyzerRequestsPerSecond = d.AnalyzerRequestsPerSecond
	}
	if c.BreakerFailureThreshold == 0 {
		c.BreakerFailureThreshold = d.BreakerFailureThreshold
	}
	if c.BreakerSuccessThreshold == 0 {
		c.BreakerSuccessThreshold = d.BreakerSuccessThreshold
	}
	if c.BreakerOpenTimeout == 0 {
		c.BreakerOpenTimeout = d.BreakerOpenTimeout
	}
	if c.IndexFileSizeCap == 0 {
		c.IndexFileSizeCap = d.IndexFileSizeCap
	}
	if c.SnippetIndexGroupMin == 0 {
		c.SnippetIndexGroupMin = d.SnippetIndexGroupMin
	}
	if c.SnippetIndexGroupMax == 0 {
		c.SnippetIndexGroupMax = d.SnippetIndexGroupMax
	}
	if c.CacheCapacityEntries == 0 {
		c.CacheCapacityEntries = d.CacheCapacityEntries
	}
	if c.CacheTTLComprehensive == 0 {
		c.CacheTTLComprehensive = d.CacheTTLComprehensive
	}
	if c.CacheTTLGapFill == 0 {
		c.CacheTTLGapFill = d.CacheTTLGapFill
	}
	if c.Model == "" {
		c.Model = d.Model
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = d.MaxTokens
	}
	if c.Temperature == nil {
		c.Temperature = d.Temperature
	}
}

// Validate rejects configurations the loop cannot honor.
func (c *Config) Validate() error {
	if c.MinIterations < 1 {
		return fmt.Errorf("min_iterations must be >= 1 (got %d)", c.MinIterations)
	}
	if c.MaxIterations < c.MinIterations {
		return fmt.Errorf("max_iterations (%d) must be >= min_iterations (%d)",
			c.MaxIterations, c.MinIterations)
	}
	if c.StableWindow < 1 {
		return fmt.Errorf("stable_window must be >= 1 (got %d)", c.StableWindow)
	}
	if c.BackoffJitter < 0 || c.BackoffJitter > 1 {
		return fmt.Errorf("backoff_jitter must be in [0,1] (got %.2f)", c.BackoffJitter)
	}
	if c.SnippetIndexGroupMin < 1 || c.SnippetIndexGroupMax < c.SnippetIndexGroupMin {
		return fmt.Errorf("snippet index group bounds invalid (min=%d max=%d)",
			c.SnippetIndexGroupMin, c.SnippetIndexGroupMax)
	}
	if c.BranchParallelism < 1 {
		return fmt.Errorf("branch_parallelism must be >= 1 (got %d)", c.BranchParallelism)
	}
	if c.AnalyzerConcurrency < 1 {
		return fmt.Errorf("analyzer_concurrency must be >= 1 (got %d)", c.AnalyzerConcurrency)
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 1) {
		return fmt.Errorf("temperature must be in [0,1] (got %.2f)", *c.Temperature)
	}
	return nil
}
