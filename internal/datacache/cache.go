// Package datacache implements C3: the memory-bounded key->entry map
// with LRU eviction, a freshness gate on read, and post-unlock
// notification to the subscription bus. Structure follows the
// giantswarm-mcp-kubernetes federation client cache (RWMutex-guarded map,
// functional-options constructor, injectable clock) adapted from a
// client cache to a value cache with TTL-based freshness instead of
// access-based touch.
package datacache

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/navicore/navicache/internal/cacheentry"
	"github.com/navicore/navicache/internal/obslog"
	"github.com/navicore/navicache/internal/request"
	"github.com/navicore/navicache/internal/subscribe"
	"go.uber.org/zap"
)

// Stats is a non-blocking snapshot of cache occupancy and health.
type Stats struct {
	TotalEntries    int
	FreshEntries    int
	StaleEntries    int
	ErrorEntries    int
	MemoryUsedBytes int
	MemoryLimit     int
}

func (s Stats) MemoryUsagePercent() float64 {
	if s.MemoryLimit == 0 {
		return 0
	}
	return float64(s.MemoryUsedBytes) / float64(s.MemoryLimit) * 100
}

// Option configures a Cache at construction time.
type Option func(*Cache)

// WithLogger overrides the default no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) { c.log = l }
}

// WithClock overrides time.Now, for deterministic eviction-order tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// Cache is the single mutation point for cached resource data. All
// mutations serialise on mu; reads take the shared lock. Subscriber
// notification happens strictly after the write lock is released.
type Cache struct {
	mu              sync.RWMutex
	entries         map[string]*cacheentry.Entry
	maxMemoryBytes  int
	currentMemory   int
	subscriptions   *subscribe.Bus
	now             func() time.Time
	log             *zap.Logger
}

// New builds a Cache bounded at maxMemoryMB megabytes.
func New(maxMemoryMB int, opts ...Option) *Cache {
	c := &Cache{
		entries:        make(map[string]*cacheentry.Entry),
		maxMemoryBytes: maxMemoryMB * 1024 * 1024,
		subscriptions:  subscribe.New(),
		now:            time.Now,
		log:            obslog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscriptions exposes the bus so C8/views can Subscribe/Unsubscribe.
func (c *Cache) Subscriptions() *subscribe.Bus { return c.subscriptions }

// Get returns the value if fresh, else (zero, false). Never fetches.
func (c *Cache) Get(req request.Request) (request.Result, bool) {
	key := req.Key()
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok {
		c.log.Debug("cache miss", zap.String("key", key))
		return request.Result{}, false
	}
	if !e.IsFresh() {
		c.log.Debug("cache stale", zap.String("key", key))
		return request.Result{}, false
	}
	c.log.Debug("cache hit", zap.String("key", key))
	return e.Value, true
}

// GetOrMarkStale returns the value if not expired; if expired, marks the
// entry Stale as a side effect and returns (zero, false).
func (c *Cache) GetOrMarkStale(req request.Request) (request.Result, bool) {
	key := req.Key()
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return request.Result{}, false
	}
	if e.IsExpired() {
		e.MarkStale()
		return request.Result{}, false
	}
	return e.Value, true
}

// Put stores value under req's key, evicting LRU entries first if needed
// so current+incoming never exceeds the memory bound, then notifies
// subscribers after releasing the write lock. A value larger than the
// whole memory bound is rejected with an error, leaving any existing
// entry for the key unchanged.
func (c *Cache) Put(req request.Request, value request.Result) error {
	key := req.Key()
	ttl := time.Duration(req.DefaultTTLSeconds()) * time.Second
	size := value.EstimateSize()

	if size > c.maxMemoryBytes {
		c.log.Warn("cache store rejected: value exceeds memory limit", zap.String("key", key), zap.Int("size_bytes", size))
		return fmt.Errorf("value for %s is %d bytes, over the %d-byte cache limit", key, size, c.maxMemoryBytes)
	}

	c.mu.Lock()
	if old, ok := c.entries[key]; ok {
		c.currentMemory -= old.SizeBytes
	}
	c.evictForSpaceLocked(key, size)

	e, ok := c.entries[key]
	if !ok {
		e = cacheentry.New(value, ttl)
		e.Now = c.now
		e.LastUpdated = c.now()
		c.entries[key] = e
	} else {
		e.TTL = ttl
		e.Update(value)
	}
	c.currentMemory += e.SizeBytes
	c.mu.Unlock() // drop cache lock before publishing

	c.log.Info("cache store", zap.String("key", key), zap.Int("size_bytes", size))
	c.subscriptions.Notify(key, value)
	return nil
}

// evictForSpaceLocked must be called with mu held. It removes the
// least-recently-updated entries (tie-break lexicographic on key) until
// incoming fits, or only the incoming key's slot would remain.
func (c *Cache) evictForSpaceLocked(incomingKey string, incomingSize int) {
	for c.currentMemory+incomingSize > c.maxMemoryBytes {
		victim, ok := c.lruVictimLocked(incomingKey)
		if !ok {
			return
		}
		if e, ok := c.entries[victim]; ok {
			c.currentMemory -= e.SizeBytes
			delete(c.entries, victim)
			c.log.Info("cache evict", zap.String("key", victim))
		}
	}
}

func (c *Cache) lruVictimLocked(excludeKey string) (string, bool) {
	var victim string
	var oldest time.Time
	found := false
	for k, e := range c.entries {
		if k == excludeKey {
			continue
		}
		if !found || e.LastUpdated.Before(oldest) || (e.LastUpdated.Equal(oldest) && k < victim) {
			victim, oldest, found = k, e.LastUpdated, true
		}
	}
	return victim, found
}

// Invalidate marks the entry Stale, keeping the value. Idempotent;
// no-op if missing.
func (c *Cache) Invalidate(req request.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[req.Key()]; ok {
		e.MarkStale()
	}
}

// InvalidateKey is the key-string form used by the watch manager, which
// only has a parsed-or-raw key, not necessarily a reconstructible Request.
func (c *Cache) InvalidateKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		e.MarkStale()
	}
}

// InvalidatePattern marks every entry whose key matches pattern as Stale.
// Linear scan; acceptable because pattern invalidations are rare.
func (c *Cache) InvalidatePattern(pattern string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if matchesPattern(pattern, k) {
			e.MarkStale()
		}
	}
}

func matchesPattern(pattern, key string) bool {
	switch {
	case pattern == "*":
		return true
	case len(pattern) > 0 && pattern[len(pattern)-1] == '*':
		prefix := pattern[:len(pattern)-1]
		return len(key) >= len(prefix) && key[:len(prefix)] == prefix
	default:
		return pattern == key
	}
}

// Remove deletes the entry and decrements the memory counter. Idempotent.
func (c *Cache) Remove(req request.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := req.Key()
	if e, ok := c.entries[key]; ok {
		c.currentMemory -= e.SizeBytes
		delete(c.entries, key)
	}
}

// Clear empties the cache and memory counter. Used on namespace switch.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheentry.Entry)
	c.currentMemory = 0
}

func (c *Cache) MarkFetching(req request.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[req.Key()]; ok {
		e.MarkFetching()
	}
}

func (c *Cache) MarkError(req request.Request, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[req.Key()]; ok {
		e.MarkError(msg)
	}
}

// Stats is a non-blocking snapshot of cache occupancy.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Stats{MemoryUsedBytes: c.currentMemory, MemoryLimit: c.maxMemoryBytes, TotalEntries: len(c.entries)}
	for _, e := range c.entries {
		switch {
		case e.IsFresh():
			s.FreshEntries++
		case e.Status == cacheentry.Stale:
			s.StaleEntries++
		case e.Status == cacheentry.Error:
			s.ErrorEntries++
		}
	}
	return s
}

// GetExpiredKeys lists keys whose entries are expired, for the fetcher's
// refresh loop.
func (c *Cache) GetExpiredKeys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0)
	for k, e := range c.entries {
		if e.IsExpired() {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// PrefetchRelated is the domain-aware predictive-prefetch rule: after a
// Workloads fetch, related Pods requests are suggested, one per distinct
// namespace+label-selector observed in the fetched workloads, capped at K.
// Every other kind cascades to nothing, matching spec.md's conservative
// default (no cascade beyond workload -> pod).
const PrefetchFanout = 10

func (c *Cache) PrefetchRelated(req request.Request, result request.Result) []request.Request {
	if req.Kind != request.Workloads {
		return nil
	}
	seen := make(map[string]bool)
	out := make([]request.Request, 0, PrefetchFanout)
	for _, w := range result.Workloads {
		if len(out) >= PrefetchFanout {
			break
		}
		sel := request.PodSelector{Kind: request.SelectByLabels, Labels: w.Labels}
		candidate := request.NewPods(w.Namespace, sel)
		key := candidate.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, candidate)
	}
	return out
}
