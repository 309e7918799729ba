// Package watchmgr implements C6: long-lived per-kind watch loops that
// translate the control plane's change feed into cache invalidations,
// with restart backoff-with-cap the original implementation never had.
package watchmgr

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/navicore/navicache/internal/cacheconfig"
	"github.com/navicore/navicache/internal/datacache"
	"github.com/navicore/navicache/internal/k8sapi"
	"github.com/navicore/navicache/internal/obslog"
	"github.com/navicore/navicache/internal/request"
)

// InvalidationEvent is the closed set of operations the invalidation
// processor applies to the cache.
type InvalidationEvent struct {
	kind    invKind
	key     string
	pattern string
	req     request.Request
	value   request.Result
}

type invKind int

const (
	invalidateKey invKind = iota
	invalidatePattern
	upsert
)

func InvalidateKey(key string) InvalidationEvent {
	return InvalidationEvent{kind: invalidateKey, key: key}
}

func InvalidatePattern(pattern string) InvalidationEvent {
	return InvalidationEvent{kind: invalidatePattern, pattern: pattern}
}

func Upsert(req request.Request, value request.Result) InvalidationEvent {
	return InvalidationEvent{kind: upsert, req: req, value: value}
}

// Stats is a real, tracked snapshot -- the original hardcoded
// active_watchers to a literal 3 and never incremented total_invalidations.
type Stats struct {
	ActiveWatchers     int
	TotalInvalidations int64
}

// Manager runs one watcher per watched kind (pods, replicasets, events)
// plus the invalidation processor, and exposes namespace-switch/shutdown.
type Manager struct {
	cache  *datacache.Cache
	client *k8sapi.ClusterClient
	cfg    cacheconfig.WatchConfig
	log    *zap.Logger

	invalidationCh chan InvalidationEvent

	mu          sync.Mutex
	namespace   string
	cancelRun   context.CancelFunc
	runWG       sync.WaitGroup
	processorWG sync.WaitGroup

	activeWatchers     atomic.Int64
	totalInvalidations atomic.Int64
}

type Option func(*Manager)

func WithLogger(l *zap.Logger) Option { return func(m *Manager) { m.log = l } }

func New(cache *datacache.Cache, client *k8sapi.ClusterClient, cfg cacheconfig.WatchConfig, opts ...Option) *Manager {
	m := &Manager{
		cache:          cache,
		client:         client,
		cfg:            cfg,
		log:            obslog.Nop(),
		invalidationCh: make(chan InvalidationEvent, cfg.InvalidationBufferSize),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins watching namespace. The invalidation processor runs for
// the lifetime of parentCtx; per-kind watchers run until either
// parentCtx is cancelled or SwitchNamespace tears them down.
func (m *Manager) Start(parentCtx context.Context, namespace string) {
	m.processorWG.Add(1)
	go m.runInvalidationProcessor(parentCtx)

	m.mu.Lock()
	m.namespace = namespace
	m.startWatchersLocked(parentCtx)
	m.mu.Unlock()
}

// startWatchersLocked must be called with mu held.
func (m *Manager) startWatchersLocked(parentCtx context.Context) {
	ctx, cancel := context.WithCancel(parentCtx)
	m.cancelRun = cancel

	kinds := []func(context.Context, string){m.watchPods, m.watchReplicaSets, m.watchEvents}
	m.runWG.Add(len(kinds))
	for _, w := range kinds {
		w := w
		ns := m.namespace
		go func() {
			defer m.runWG.Done()
			w(ctx, ns)
		}()
	}
}

// SwitchNamespace tears down all watchers, clears the cache, and starts
// new watchers against namespace, per spec.md §4.6.
func (m *Manager) SwitchNamespace(parentCtx context.Context, namespace string) {
	m.mu.Lock()
	if m.cancelRun != nil {
		m.cancelRun()
	}
	m.mu.Unlock()
	m.runWG.Wait()

	m.cache.Clear()

	m.mu.Lock()
	m.namespace = namespace
	m.startWatchersLocked(parentCtx)
	m.mu.Unlock()
}

// Shutdown tears down the watchers and waits for the invalidation
// processor (driven by parentCtx cancellation) to exit.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.cancelRun != nil {
		m.cancelRun()
	}
	m.mu.Unlock()
	m.runWG.Wait()
	m.processorWG.Wait()
}

func (m *Manager) Stats() Stats {
	return Stats{
		ActiveWatchers:     int(m.activeWatchers.Load()),
		TotalInvalidations: m.totalInvalidations.Load(),
	}
}

func (m *Manager) runInvalidationProcessor(ctx context.Context) {
	defer m.processorWG.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.invalidationCh:
			m.applyInvalidation(ev)
		}
	}
}

func (m *Manager) applyInvalidation(ev InvalidationEvent) {
	switch ev.kind {
	case invalidateKey:
		m.cache.InvalidateKey(ev.key)
	case invalidatePattern:
		m.cache.InvalidatePattern(ev.pattern)
	case upsert:
		_ = m.cache.Put(ev.req, ev.value)
	}
	m.totalInvalidations.Add(1)
}

// emit delivers ev to the processor; the channel is sized generously
// (InvalidationBufferSize) and a full channel drops the event rather
// than blocking the watcher, matching the "bounded-capacity with
// overflow drop" contract in spec.md §4.6.
func (m *Manager) emit(ev InvalidationEvent) {
	select {
	case m.invalidationCh <- ev:
	default:
		m.log.Warn("invalidation channel full, dropping event")
	}
}

// newRestartBackoff builds the exponential, capped backoff policy
// spec.md's watch-resilience knobs describe -- entirely absent from the
// original, which only ever slept a flat 5s on error.
func (m *Manager) newRestartBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.cfg.InitialBackoff()
	b.MaxInterval = m.cfg.MaxBackoff()
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0 // restart cap is max_watch_restarts, not elapsed time
	return b
}

func (m *Manager) watchPods(ctx context.Context, namespace string) {
	m.runWatchLoop(ctx, "pods", func(ctx context.Context) error {
		return m.runPodsWatch(ctx, namespace)
	})
}

func (m *Manager) watchReplicaSets(ctx context.Context, namespace string) {
	m.runWatchLoop(ctx, "workloads", func(ctx context.Context) error {
		return m.runReplicaSetsWatch(ctx, namespace)
	})
}

func (m *Manager) watchEvents(ctx context.Context, _ string) {
	// Events are watched cluster-wide; the invalidation pattern is the
	// global "events:*", unlike the namespaced pods/workloads patterns.
	m.runWatchLoop(ctx, "events", func(ctx context.Context) error {
		return m.runEventsWatch(ctx)
	})
}

// runWatchLoop is the shared per-kind watcher shell: open a stream with a
// server-side timeout, run until it ends or errors, then restart with
// backoff-with-cap. restarts beyond max_watch_restarts stay at the
// capped backoff and keep going (spec.md: "back off to the max and
// continue"), rather than giving up.
func (m *Manager) runWatchLoop(ctx context.Context, kind string, openAndDrain func(context.Context) error) {
	m.activeWatchers.Add(1)
	defer m.activeWatchers.Add(-1)

	b := m.newRestartBackoff()
	restarts := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := openAndDrain(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			m.log.Warn("watch stream error, restarting", zap.String("kind", kind), zap.Error(err))
		}

		var delay time.Duration
		if restarts < m.cfg.MaxRestarts {
			if d := b.NextBackOff(); d != backoff.Stop {
				delay = d
			} else {
				delay = m.cfg.MaxBackoff()
			}
			restarts++
		} else {
			delay = m.cfg.MaxBackoff()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (m *Manager) runPodsWatch(ctx context.Context, namespace string) error {
	w, err := m.client.WatchPods(ctx, namespace, int64(m.cfg.TimeoutSeconds))
	if err != nil {
		return err
	}
	defer w.Stop()

	pattern := "pods:" + namespace + ":*"
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.ResultChan():
			if !ok {
				return nil
			}
			we := k8sapi.Translate(ev)
			if we.Kind == k8sapi.WatchError {
				continue
			}
			m.emit(InvalidatePattern(pattern))
		}
	}
}

func (m *Manager) runReplicaSetsWatch(ctx context.Context, namespace string) error {
	w, err := m.client.WatchReplicaSets(ctx, namespace, int64(m.cfg.TimeoutSeconds))
	if err != nil {
		return err
	}
	defer w.Stop()

	pattern := "workloads:" + namespace + ":*"
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.ResultChan():
			if !ok {
				return nil
			}
			we := k8sapi.Translate(ev)
			if we.Kind == k8sapi.WatchError {
				continue
			}
			m.emit(InvalidatePattern(pattern))
		}
	}
}

func (m *Manager) runEventsWatch(ctx context.Context) error {
	w, err := m.client.WatchEvents(ctx, int64(m.cfg.TimeoutSeconds))
	if err != nil {
		return err
	}
	defer w.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.ResultChan():
			if !ok {
				return nil
			}
			we := k8sapi.Translate(ev)
			if we.Kind == k8sapi.WatchError {
				continue
			}
			m.emit(InvalidatePattern("events:*"))
		}
	}
}
