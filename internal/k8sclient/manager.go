package k8sclient

import (
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/navicore/navicache/internal/cacheerr"
)

// ClientManager implements C7: a single entry point for obtaining a
// Bundle for the active kubeconfig/context, collapsing concurrent
// callers' builds into one with singleflight (NewBundle's own 2s cache
// only dedups across time, not across the thundering herd of callers
// that arrive before the first build finishes), and exposing an
// explicit Refresh for when a fetch has come back Auth-classed.
type ClientManager struct {
	mu             sync.RWMutex
	kubeconfigPath string
	contextName    string
	userAgent      string

	group singleflight.Group
}

// NewClientManager builds a manager that advertises userAgent on every
// client it builds (spec.md §4.7's "attach a user-agent header").
func NewClientManager(kubeconfigPath, contextName, userAgent string) *ClientManager {
	return &ClientManager{kubeconfigPath: kubeconfigPath, contextName: contextName, userAgent: userAgent}
}

// GetClient returns the current Bundle, building one if needed. Callers
// racing on an empty cache share a single in-flight build.
func (m *ClientManager) GetClient() (*Bundle, error) {
	path, ctxName, ua := m.snapshot()

	key := bundleCacheKey(path, ctxName, ua)
	v, err, _ := m.group.Do(key, func() (any, error) {
		return NewBundle(path, ctxName, ua)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Bundle), nil
}

// Refresh discards the cached bundle and rebuilds immediately, per
// spec.md §4.7's contract that an Auth-classed fetch error should force
// a fresh client rather than keep retrying against a stale one.
func (m *ClientManager) Refresh() (*Bundle, error) {
	path, ctxName, ua := m.snapshot()

	InvalidateBundle(path, ctxName, ua)

	key := bundleCacheKey(path, ctxName, ua)
	v, err, _ := m.group.Do(key, func() (any, error) {
		return NewBundle(path, ctxName, ua)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Bundle), nil
}

// RefreshIfNeeded is the convenience form fetch-failure handlers call:
// it only rebuilds when err classifies as an auth error.
func (m *ClientManager) RefreshIfNeeded(err error) (*Bundle, bool, error) {
	if !cacheerr.ShouldRefreshClient(err) {
		return nil, false, nil
	}
	b, rerr := m.Refresh()
	return b, true, rerr
}

// SetContext switches the active kubeconfig/context for subsequent
// GetClient calls without rebuilding immediately.
func (m *ClientManager) SetContext(kubeconfigPath, contextName string) {
	m.mu.Lock()
	m.kubeconfigPath = kubeconfigPath
	m.contextName = contextName
	m.mu.Unlock()
}

func (m *ClientManager) snapshot() (path, contextName, userAgent string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.kubeconfigPath, m.contextName, m.userAgent
}
