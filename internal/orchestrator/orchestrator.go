// Package orchestrator implements C8: the process-wide wiring of
// C3-C7, exposing a small lifecycle (Initialize/Shutdown/SwitchNamespace)
// plus cache accessors, and performing the two warm prefetches on start.
//
// The constructible Orchestrator type is the injectable-construction API
// spec.md's design notes require for tests; Initialize/Get/Shutdown at
// package scope are a thin singleton wrapper around exactly one
// *Orchestrator. The wrapper is what limits the process to one instance;
// the type itself only refuses a second Initialize on the same instance,
// so every other package (and every test) can build as many independent
// Orchestrators as it needs.
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/navicore/navicache/internal/cacheconfig"
	"github.com/navicore/navicache/internal/datacache"
	"github.com/navicore/navicache/internal/fetcher"
	"github.com/navicore/navicache/internal/k8sapi"
	"github.com/navicore/navicache/internal/k8sclient"
	"github.com/navicore/navicache/internal/obslog"
	"github.com/navicore/navicache/internal/request"
	"github.com/navicore/navicache/internal/watchmgr"
)

// Orchestrator wires one cache, one fetcher, one watch manager, and one
// client manager together for a single active namespace.
type Orchestrator struct {
	cfg cacheconfig.Config
	log *zap.Logger

	clientMgr *k8sclient.ClientManager

	mu        sync.RWMutex
	namespace string
	cache     *datacache.Cache
	fetch     *fetcher.Fetcher
	watch     *watchmgr.Manager

	ctx    context.Context
	cancel context.CancelFunc

	defaultCache *datacache.Cache
	defaultOnce  sync.Once
}

// New builds an uninitialised Orchestrator against a kubeconfig/context
// resolved through clientMgr. Call Initialize to start the cache,
// fetcher, and watchers.
func New(cfg cacheconfig.Config, clientMgr *k8sclient.ClientManager, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = obslog.Nop()
	}
	return &Orchestrator{cfg: cfg, clientMgr: clientMgr, log: log}
}

// Initialize builds C3-C6 for namespace and starts their background
// loops. Calling Initialize on an already-initialised Orchestrator is a
// programmer error; use SwitchNamespace to change namespace instead.
func (o *Orchestrator) Initialize(namespace string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cache != nil {
		return fmt.Errorf("orchestrator already initialized")
	}

	bundle, err := o.clientMgr.GetClient()
	if err != nil {
		return fmt.Errorf("building cluster client: %w", err)
	}
	client := k8sapi.New(bundle.Clientset)

	buildFetch := func(b *k8sclient.Bundle) fetcher.FetchFunc {
		return fetcher.NewClusterFetchFunc(k8sapi.New(b.Clientset))
	}

	o.cache = datacache.New(o.cfg.Cache.MaxMemoryMB, datacache.WithLogger(o.log))
	o.fetch = fetcher.New(o.cache, buildFetch(bundle), o.cfg.Fetcher,
		fetcher.WithLogger(o.log), fetcher.WithClientManager(o.clientMgr, buildFetch))
	o.watch = watchmgr.New(o.cache, client, o.cfg.Watch, watchmgr.WithLogger(o.log))
	o.namespace = namespace

	o.ctx, o.cancel = context.WithCancel(context.Background())
	o.fetch.Start(o.ctx)
	o.watch.Start(o.ctx, namespace)

	o.warmPrefetch(namespace)
	return nil
}

// warmPrefetch schedules the two startup prefetches spec.md names: all
// workloads, and default-namespace pods.
func (o *Orchestrator) warmPrefetch(namespace string) {
	o.fetch.EnqueueMany([]request.Request{
		request.NewWorkloads("", nil),
	}, request.Medium)
	o.fetch.EnqueueMany([]request.Request{
		request.NewPods(namespace, request.PodSelector{Kind: request.SelectAll}),
	}, request.High)
}

// GetCache returns the live cache, or (nil, false) before Initialize.
func (o *Orchestrator) GetCache() (*datacache.Cache, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cache, o.cache != nil
}

// GetCacheOrDefault returns the live cache if initialised, else a small
// unshared fallback cache, logging a warning. This prevents early-startup
// callers (a UI view painted before Initialize completes) from crashing.
func (o *Orchestrator) GetCacheOrDefault() *datacache.Cache {
	o.mu.RLock()
	c := o.cache
	o.mu.RUnlock()
	if c != nil {
		return c
	}
	o.defaultOnce.Do(func() {
		o.log.Warn("cache accessed before orchestrator initialization, using unshared fallback")
		o.defaultCache = datacache.New(8, datacache.WithLogger(o.log))
	})
	return o.defaultCache
}

// Fetcher returns the live fetcher, or (nil, false) before Initialize.
func (o *Orchestrator) Fetcher() (*fetcher.Fetcher, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.fetch, o.fetch != nil
}

// CurrentNamespace returns the namespace the watch manager is currently
// tracking.
func (o *Orchestrator) CurrentNamespace() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.namespace
}

// SwitchNamespace tears down the watchers, clears the cache, and starts
// watchers against the new namespace, then re-runs the warm prefetch.
func (o *Orchestrator) SwitchNamespace(namespace string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cache == nil {
		return fmt.Errorf("orchestrator not initialized")
	}
	o.watch.SwitchNamespace(o.ctx, namespace)
	o.namespace = namespace
	o.warmPrefetch(namespace)
	return nil
}

// Shutdown stops the fetcher and watch manager and waits for their
// loops to exit.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cache == nil {
		return
	}
	o.cancel()
	o.fetch.Wait()
	o.watch.Shutdown()
}

// --- package-scope singleton wrapper ---

var (
	globalMu   sync.Mutex
	global     *Orchestrator
	globalInit bool
)

// Initialize builds the process-wide Orchestrator exactly once. A second
// call returns an error rather than silently reinitialising; callers
// that need a fresh instance per test should build their own
// Orchestrator with New instead of using this package-scope wrapper.
func Initialize(cfg cacheconfig.Config, clientMgr *k8sclient.ClientManager, log *zap.Logger, namespace string) error {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalInit {
		return fmt.Errorf("orchestrator already initialized for this process")
	}
	o := New(cfg, clientMgr, log)
	if err := o.Initialize(namespace); err != nil {
		return err
	}
	global = o
	globalInit = true
	return nil
}

// Get returns the process-wide Orchestrator built by Initialize.
func Get() (*Orchestrator, bool) {
	globalMu.Lock()
	defer globalMu.Unlock()
	return global, globalInit
}

// Shutdown tears down the process-wide Orchestrator and clears the
// singleton, allowing a subsequent Initialize (e.g. after a config
// reload that needs a clean process-wide restart).
func Shutdown() {
	globalMu.Lock()
	defer globalMu.Unlock()
	if !globalInit {
		return
	}
	global.Shutdown()
	global = nil
	globalInit = false
}
