package datacache

import (
	"fmt"
	"testing"
	"time"

	"github.com/navicore/navicache/internal/request"
)

func TestCacheBasicGetPut(t *testing.T) {
	c := New(10)
	req := request.NewWorkloads("default", nil)

	if _, ok := c.Get(req); ok {
		t.Fatalf("expected miss on empty cache")
	}

	data := request.Result{Kind: request.Workloads, Workloads: []request.WorkloadView{{Name: "a"}}}
	if err := c.Put(req, data); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, ok := c.Get(req)
	if !ok {
		t.Fatalf("expected hit after put")
	}
	if len(got.Workloads) != 1 || got.Workloads[0].Name != "a" {
		t.Fatalf("unexpected value: %+v", got)
	}
}

func TestCacheInvalidateClearsFreshness(t *testing.T) {
	c := New(10)
	req := request.NewEvents(request.ResourceRef{Kind: request.RefPod, Name: "x"}, 10)
	c.Put(req, request.Result{Kind: request.Events})

	if _, ok := c.Get(req); !ok {
		t.Fatalf("expected hit before invalidate")
	}

	c.Invalidate(req)

	if _, ok := c.Get(req); ok {
		t.Fatalf("expected miss after invalidate (freshness gate)")
	}
}

func TestGetOrMarkStaleOnExpiredEntry(t *testing.T) {
	now := time.Now()
	c := New(10, WithClock(func() time.Time { return now }))

	req := request.NewPods("default", request.PodSelector{Kind: request.SelectAll})
	c.Put(req, request.Result{Kind: request.Pods})

	// advance past the pods TTL (120s)
	now = now.Add(200 * time.Second)

	v, ok := c.GetOrMarkStale(req)
	if ok {
		t.Fatalf("expected no value from an expired entry on first call, got %+v", v)
	}

	// The entry is now Stale but its age still exceeds ttl, so it keeps
	// reporting expired on subsequent calls too.
	if _, ok := c.GetOrMarkStale(req); ok {
		t.Fatalf("expected still-expired entry to keep returning no value")
	}
}

func TestCacheMemoryBoundEnforced(t *testing.T) {
	// 1MB limit; each workload item is estimated at 1024B, so each
	// 20-item entry below is 20KB.
	now := time.Now()
	tick := 0
	c := New(1, WithClock(func() time.Time {
		tick++
		return now.Add(time.Duration(tick) * time.Millisecond)
	}))

	for i := 0; i < 60; i++ {
		req := request.NewWorkloads(fmt.Sprintf("ns-%d", i), nil)
		data := request.Result{Kind: request.Workloads, Workloads: make([]request.WorkloadView, 20)} // 20*1024=20KB
		if err := c.Put(req, data); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}

	stats := c.Stats()
	if stats.MemoryUsedBytes > 1*1024*1024 {
		t.Fatalf("expected memory bound enforced, got %d bytes", stats.MemoryUsedBytes)
	}
	if stats.TotalEntries >= 60 {
		t.Fatalf("expected eviction to have occurred, got %d entries", stats.TotalEntries)
	}
}

func TestCacheLRUTieBreakLexicographic(t *testing.T) {
	now := time.Now()
	c := New(1, WithClock(func() time.Time { return now })) // frozen clock: all entries tie on LastUpdated

	reqB := request.NewWorkloads("b", nil)
	reqA := request.NewWorkloads("a", nil)
	// 1023*1024 = 1047552B: with the two 1024B entries present the total
	// exceeds the 1048576B limit, and dropping one entry makes it fit.
	big := request.Result{Kind: request.Workloads, Workloads: make([]request.WorkloadView, 1023)}

	c.Put(reqB, request.Result{Kind: request.Workloads, Workloads: make([]request.WorkloadView, 1)})
	c.Put(reqA, request.Result{Kind: request.Workloads, Workloads: make([]request.WorkloadView, 1)})

	// Force eviction: insert something big enough to require dropping one.
	reqC := request.NewWorkloads("c", nil)
	c.Put(reqC, big)

	// "a" sorts lexicographically before "b" so on a tie "a" should be
	// evicted first.
	if _, ok := c.Get(reqA); ok {
		t.Fatalf("expected lexicographically-first key to be evicted on tie")
	}
}

func TestPrefetchRelatedWorkloadsToPodsOnly(t *testing.T) {
	c := New(10)
	wreq := request.NewWorkloads("default", nil)
	result := request.Result{Kind: request.Workloads, Workloads: []request.WorkloadView{
		{Namespace: "default", Name: "a", Labels: map[string]string{"app": "a"}},
	}}

	related := c.PrefetchRelated(wreq, result)
	if len(related) != 1 || related[0].Kind != request.Pods {
		t.Fatalf("expected one pods prefetch request, got %+v", related)
	}

	preq := request.NewPods("default", request.PodSelector{Kind: request.SelectAll})
	if got := c.PrefetchRelated(preq, request.Result{Kind: request.Pods}); len(got) != 0 {
		t.Fatalf("expected no cascade beyond workload->pod, got %+v", got)
	}
}

func TestGetExpiredKeys(t *testing.T) {
	now := time.Now()
	c := New(10, WithClock(func() time.Time { return now }))

	req := request.NewIngresses("default", nil)
	c.Put(req, request.Result{Kind: request.Ingresses})

	if keys := c.GetExpiredKeys(); len(keys) != 0 {
		t.Fatalf("expected no expired keys yet, got %v", keys)
	}

	now = now.Add(10 * time.Minute)
	keys := c.GetExpiredKeys()
	if len(keys) != 1 || keys[0] != req.Key() {
		t.Fatalf("expected expired key %q, got %v", req.Key(), keys)
	}
}
