package watchmgr

import (
	"context"
	"testing"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/navicore/navicache/internal/cacheconfig"
	"github.com/navicore/navicache/internal/datacache"
	"github.com/navicore/navicache/internal/k8sapi"
	"github.com/navicore/navicache/internal/request"
)

func testWatchConfig() cacheconfig.WatchConfig {
	cfg := cacheconfig.Default().Watch
	cfg.TimeoutSeconds = 60
	cfg.InitialBackoffSeconds = 0
	cfg.MaxBackoffSeconds = 0
	return cfg
}

func pollUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestPodWatchInvalidatesMatchingPattern(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	client := k8sapi.New(clientset)
	cache := datacache.New(10)

	req := request.NewPods("default", request.PodSelector{Kind: request.SelectAll})
	if err := cache.Put(req, request.Result{Kind: request.Pods}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, ok := cache.Get(req); !ok {
		t.Fatalf("expected entry to be fresh before any watch event")
	}

	mgr := New(cache, client, testWatchConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Start(ctx, "default")

	pollUntil(t, time.Second, func() bool { return mgr.Stats().ActiveWatchers == 3 })

	pod := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "web-1", Namespace: "default"}}
	if _, err := clientset.CoreV1().Pods("default").Create(ctx, pod, metav1.CreateOptions{}); err != nil {
		t.Fatalf("create pod: %v", err)
	}

	pollUntil(t, time.Second, func() bool {
		_, ok := cache.Get(req)
		return !ok
	})

	cancel()
	mgr.Shutdown()
}

func TestInvalidationStatsTracked(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	client := k8sapi.New(clientset)
	cache := datacache.New(10)

	mgr := New(cache, client, testWatchConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Start(ctx, "default")

	mgr.emit(InvalidateKey("pods:default:all"))
	mgr.emit(InvalidatePattern("pods:*"))

	pollUntil(t, time.Second, func() bool { return mgr.Stats().TotalInvalidations == 2 })

	cancel()
	mgr.Shutdown()
}

func TestSwitchNamespaceClearsCacheAndRestartsWatchers(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	client := k8sapi.New(clientset)
	cache := datacache.New(10)

	req := request.NewWorkloads("default", nil)
	if err := cache.Put(req, request.Result{Kind: request.Workloads}); err != nil {
		t.Fatalf("put: %v", err)
	}

	mgr := New(cache, client, testWatchConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Start(ctx, "default")
	pollUntil(t, time.Second, func() bool { return mgr.Stats().ActiveWatchers == 3 })

	mgr.SwitchNamespace(ctx, "other")

	if _, ok := cache.Get(req); ok {
		t.Fatalf("expected cache to be cleared on namespace switch")
	}
	pollUntil(t, time.Second, func() bool { return mgr.Stats().ActiveWatchers == 3 })

	cancel()
	mgr.Shutdown()
}
