package cacheentry

import (
	"testing"
	"time"

	"github.com/navicore/navicache/internal/request"
)

func TestEntryExpiry(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }

	e := New(request.Result{Kind: request.Pods}, 100*time.Millisecond)
	e.Now = clock

	if e.IsExpired() {
		t.Fatalf("expected fresh entry to not be expired")
	}
	if !e.IsFresh() {
		t.Fatalf("expected fresh entry to be fresh")
	}

	now = now.Add(150 * time.Millisecond)
	if !e.IsExpired() {
		t.Fatalf("expected entry to be expired after ttl elapsed")
	}
	if e.IsFresh() {
		t.Fatalf("expected entry to not be fresh once expired")
	}
}

func TestEntryUpdateBumpsVersion(t *testing.T) {
	e := New(request.Result{Kind: request.Pods}, time.Minute)
	if e.Version != 0 {
		t.Fatalf("expected initial version 0, got %d", e.Version)
	}
	e.Update(request.Result{Kind: request.Pods, Pods: []request.PodView{{Name: "p"}}})
	if e.Version != 1 {
		t.Fatalf("expected version 1 after update, got %d", e.Version)
	}
	if !e.IsFresh() {
		t.Fatalf("expected entry fresh after update")
	}
}

func TestFetchStatusTransitions(t *testing.T) {
	e := New(request.Result{Kind: request.Events}, time.Minute)
	if e.Status != Fresh {
		t.Fatalf("expected initial status Fresh")
	}
	e.MarkStale()
	if e.Status != Stale {
		t.Fatalf("expected Stale after MarkStale")
	}
	e.MarkFetching()
	if e.Status != Fetching {
		t.Fatalf("expected Fetching after MarkFetching")
	}
	e.MarkError("boom")
	if e.Status != Error || e.ErrMsg != "boom" {
		t.Fatalf("expected Error status with message after MarkError")
	}
}

func TestTimeUntilExpiry(t *testing.T) {
	now := time.Now()
	e := New(request.Result{Kind: request.Events}, 50*time.Millisecond)
	e.Now = func() time.Time { return now }

	remaining, ok := e.TimeUntilExpiry()
	if !ok || remaining <= 0 {
		t.Fatalf("expected positive remaining ttl, got %v ok=%v", remaining, ok)
	}

	e.Now = func() time.Time { return now.Add(time.Second) }
	if _, ok := e.TimeUntilExpiry(); ok {
		t.Fatalf("expected no remaining ttl once expired")
	}
}
