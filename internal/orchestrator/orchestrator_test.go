package orchestrator

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/navicore/navicache/internal/cacheconfig"
	"github.com/navicore/navicache/internal/k8sclient"
)

func testKubeconfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config")
	body := `apiVersion: v1
kind: Config
current-context: c1
contexts:
- name: c1
  context:
    cluster: cl
    user: u
clusters:
- name: cl
  cluster:
    server: https://127.0.0.1:6443
users:
- name: u
  user:
    token: a
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write kubeconfig: %v", err)
	}
	return path
}

func testCfg() cacheconfig.Config {
	cfg := cacheconfig.Default()
	cfg.Watch.TimeoutSeconds = 5
	cfg.Watch.InitialBackoffSeconds = 0
	cfg.Watch.MaxBackoffSeconds = 0
	cfg.Fetcher.PacingIntervalMS = 5
	return cfg
}

func TestGetCacheOrDefaultBeforeInitialize(t *testing.T) {
	mgr := k8sclient.NewClientManager(testKubeconfig(t), "c1", "test-agent/1.0")
	o := New(testCfg(), mgr, nil)

	if _, ok := o.GetCache(); ok {
		t.Fatalf("expected GetCache to report uninitialised before Initialize")
	}
	c := o.GetCacheOrDefault()
	if c == nil {
		t.Fatalf("expected a non-nil fallback cache")
	}
}

func TestInitializeStartsLoopsAndShutdownStopsThem(t *testing.T) {
	mgr := k8sclient.NewClientManager(testKubeconfig(t), "c1", "test-agent/1.0")
	o := New(testCfg(), mgr, nil)

	if err := o.Initialize("default"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if _, ok := o.GetCache(); !ok {
		t.Fatalf("expected GetCache to report initialised after Initialize")
	}
	if err := o.Initialize("default"); err == nil {
		t.Fatalf("expected a second Initialize call to error")
	}
	if o.CurrentNamespace() != "default" {
		t.Fatalf("expected current namespace to be 'default', got %q", o.CurrentNamespace())
	}

	done := make(chan struct{})
	go func() {
		o.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Shutdown did not return promptly")
	}
}

func TestSwitchNamespaceBeforeInitializeErrors(t *testing.T) {
	mgr := k8sclient.NewClientManager(testKubeconfig(t), "c1", "test-agent/1.0")
	o := New(testCfg(), mgr, nil)
	if err := o.SwitchNamespace("other"); err == nil {
		t.Fatalf("expected SwitchNamespace before Initialize to error")
	}
}
