package cacheconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultMatchesSpecDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Cache.MaxMemoryMB != 100 {
		t.Errorf("max_cache_memory_mb default = %d, want 100", cfg.Cache.MaxMemoryMB)
	}
	if cfg.Fetcher.MaxConcurrentFetches != 8 {
		t.Errorf("max_concurrent_fetches default = %d, want 8", cfg.Fetcher.MaxConcurrentFetches)
	}
	if cfg.Fetcher.DedupWindowSeconds != 60 {
		t.Errorf("dedup_window_seconds default = %d, want 60", cfg.Fetcher.DedupWindowSeconds)
	}
	if cfg.Watch.TimeoutSeconds != 294 {
		t.Errorf("watch_timeout_seconds default = %d, want 294", cfg.Watch.TimeoutSeconds)
	}
	if cfg.Watch.MaxRestarts != 50 {
		t.Errorf("max_watch_restarts default = %d, want 50", cfg.Watch.MaxRestarts)
	}
	if cfg.Watch.MaxBackoffSeconds != 60 {
		t.Errorf("max_backoff_seconds default = %d, want 60", cfg.Watch.MaxBackoffSeconds)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Cache.MaxMemoryMB != Default().Cache.MaxMemoryMB {
		t.Fatalf("expected defaults for missing file")
	}
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	body := "cache:\n  max_cache_memory_mb: 250\nfetcher:\n  dedup_window_seconds: 30\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Cache.MaxMemoryMB != 250 {
		t.Errorf("max_cache_memory_mb = %d, want 250", cfg.Cache.MaxMemoryMB)
	}
	if cfg.Fetcher.DedupWindowSeconds != 30 {
		t.Errorf("dedup_window_seconds = %d, want 30", cfg.Fetcher.DedupWindowSeconds)
	}
	if cfg.Fetcher.MaxConcurrentFetches != 8 {
		t.Errorf("expected untouched field to keep default, got %d", cfg.Fetcher.MaxConcurrentFetches)
	}
}
