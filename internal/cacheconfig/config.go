// Package cacheconfig holds the yaml-loadable configuration knobs spec.md
// §6 enumerates. Structure and Default()/Load() pattern follow
// kcli/internal/config/config.go, trimmed to the cache subsystem's own
// concerns (the TUI/AI/shell/plugin sections of the teacher's config do
// not apply here and are not carried over).
package cacheconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full set of tunables for C3-C7.
type Config struct {
	Cache   CacheConfig   `yaml:"cache"`
	Fetcher FetcherConfig `yaml:"fetcher"`
	Watch   WatchConfig   `yaml:"watch"`
	Client  ClientConfig  `yaml:"client"`
}

type CacheConfig struct {
	MaxMemoryMB int `yaml:"max_cache_memory_mb"`
}

type FetcherConfig struct {
	MaxConcurrentFetches int `yaml:"max_concurrent_fetches"`
	DedupWindowSeconds   int `yaml:"dedup_window_seconds"`
	MaxPrefetchQueueSize int `yaml:"max_prefetch_queue_size"`
	RetryBackoffBaseMS   int `yaml:"retry_backoff_base_ms"`
	MaxRetries           int `yaml:"max_retries"`
	PacingIntervalMS     int `yaml:"pacing_interval_ms"`
	RefreshIntervalSec   int `yaml:"refresh_interval_seconds"`
}

type WatchConfig struct {
	TimeoutSeconds         int `yaml:"watch_timeout_seconds"`
	MaxRestarts            int `yaml:"max_watch_restarts"`
	InitialBackoffSeconds  int `yaml:"initial_backoff_seconds"`
	MaxBackoffSeconds      int `yaml:"max_backoff_seconds"`
	RestartDelaySeconds    int `yaml:"restart_delay_seconds"`
	InvalidationBufferSize int `yaml:"invalidation_buffer_size"`
}

type ClientConfig struct {
	UserAgent string `yaml:"user_agent"`
}

// Default returns the configuration spec.md §6 specifies as defaults.
func Default() Config {
	return Config{
		Cache: CacheConfig{MaxMemoryMB: 100},
		Fetcher: FetcherConfig{
			MaxConcurrentFetches: 8,
			DedupWindowSeconds:   60,
			MaxPrefetchQueueSize: 500,
			RetryBackoffBaseMS:   2000,
			MaxRetries:           3,
			PacingIntervalMS:     100,
			RefreshIntervalSec:   5,
		},
		Watch: WatchConfig{
			TimeoutSeconds:         294,
			MaxRestarts:            50,
			InitialBackoffSeconds:  1,
			MaxBackoffSeconds:      60,
			RestartDelaySeconds:    1,
			InvalidationBufferSize: 100,
		},
		Client: ClientConfig{UserAgent: "navicache/0.1"},
	}
}

// Load reads and merges a yaml file over Default(); a missing file is not
// an error (the caller gets pure defaults).
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

func (c FetcherConfig) DedupWindow() time.Duration {
	return time.Duration(c.DedupWindowSeconds) * time.Second
}

func (c FetcherConfig) RetryBackoffBase() time.Duration {
	return time.Duration(c.RetryBackoffBaseMS) * time.Millisecond
}

func (c FetcherConfig) PacingInterval() time.Duration {
	return time.Duration(c.PacingIntervalMS) * time.Millisecond
}

func (c FetcherConfig) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalSec) * time.Second
}

func (c WatchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c WatchConfig) InitialBackoff() time.Duration {
	return time.Duration(c.InitialBackoffSeconds) * time.Second
}

func (c WatchConfig) MaxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffSeconds) * time.Second
}

func (c WatchConfig) RestartDelay() time.Duration {
	return time.Duration(c.RestartDelaySeconds) * time.Second
}
