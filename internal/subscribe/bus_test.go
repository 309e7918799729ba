package subscribe

import (
	"testing"

	"github.com/navicore/navicache/internal/request"
)

func TestPatternMatching(t *testing.T) {
	cases := []struct {
		pattern, key string
		want         bool
	}{
		{"*", "pods:default:all", true},
		{"pods:*", "pods:default:all", true},
		{"pods:*", "workloads:default:labels:", false},
		{"pods:default:all", "pods:default:all", true},
		{"pods:default:all", "pods:default:name=x", false},
	}
	for _, c := range cases {
		if got := patternMatches(c.pattern, c.key); got != c.want {
			t.Errorf("patternMatches(%q, %q) = %v, want %v", c.pattern, c.key, got, c.want)
		}
	}
}

func TestNotifyDeliversToMatchingSubscribers(t *testing.T) {
	b := New()
	_, ch := b.Subscribe("pods:*")

	b.Notify("pods:default:all", request.Result{Kind: request.Pods})

	select {
	case v := <-ch:
		if v.Kind != request.Pods {
			t.Fatalf("unexpected payload kind %v", v.Kind)
		}
	default:
		t.Fatalf("expected a delivered message")
	}
}

func TestNotifyNonBlockingOnFullQueue(t *testing.T) {
	b := New()
	_, ch := b.Subscribe("*")

	for i := 0; i < QueueCapacity+5; i++ {
		b.Notify("pods:default:all", request.Result{Kind: request.Pods})
	}

	drained := 0
	for {
		select {
		case <-ch:
			drained++
			continue
		default:
		}
		break
	}
	if drained != QueueCapacity {
		t.Fatalf("expected exactly %d delivered messages (rest dropped), got %d", QueueCapacity, drained)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	id, ch := b.Subscribe("*")
	b.Unsubscribe(id)

	b.Notify("pods:default:all", request.Result{Kind: request.Pods})

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected no further messages after unsubscribe")
		}
	default:
	}

	if b.ActiveSubscriptions() != 0 {
		t.Fatalf("expected 0 active subscriptions after unsubscribe")
	}
}
