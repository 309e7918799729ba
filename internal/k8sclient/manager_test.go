package k8sclient

import (
	"errors"
	"sync"
	"testing"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

func TestGetClientCollapsesConcurrentBuilds(t *testing.T) {
	bundleCacheMu.Lock()
	bundleCache = map[string]bundleCacheEntry{}
	bundleCacheMu.Unlock()

	path := writeConfigFile(t, `apiVersion: v1
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
`)

	mgr := NewClientManager(path, "c1", "test-agent/1.0")

	var wg sync.WaitGroup
	results := make([]*Bundle, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := mgr.GetClient()
			if err != nil {
				t.Errorf("GetClient: %v", err)
				return
			}
			results[i] = b
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(results); i++ {
		if results[i] != results[0] {
			t.Fatalf("expected all concurrent GetClient callers to observe the same bundle")
		}
	}
}

func TestRefreshRebuildsBundle(t *testing.T) {
	bundleCacheMu.Lock()
	bundleCache = map[string]bundleCacheEntry{}
	bundleCacheMu.Unlock()

	path := writeConfigFile(t, `apiVersion: v1
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
`)

	mgr := NewClientManager(path, "c1", "test-agent/1.0")
	b1, err := mgr.GetClient()
	if err != nil {
		t.Fatalf("GetClient: %v", err)
	}
	b2, err := mgr.Refresh()
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if b1 == b2 {
		t.Fatalf("expected Refresh to discard the cached bundle and rebuild")
	}
}

func TestRefreshIfNeededOnlyOnAuthError(t *testing.T) {
	mgr := NewClientManager("", "", "")

	if _, refreshed, _ := mgr.RefreshIfNeeded(errors.New("boom")); refreshed {
		t.Fatalf("expected non-auth error to not trigger refresh")
	}

	authErr := apierrors.NewUnauthorized("bad token")
	if _, refreshed, _ := mgr.RefreshIfNeeded(authErr); !refreshed {
		t.Fatalf("expected auth error to trigger refresh")
	}
}
