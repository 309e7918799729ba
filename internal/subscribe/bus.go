// Package subscribe implements C4: the pattern-based subscription bus
// that pushes cache updates to interested views without ever blocking on
// a slow subscriber.
package subscribe

import (
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/navicore/navicache/internal/request"
)

// QueueCapacity is the bounded-queue size for every subscriber channel,
// matching spec.md's "capacity >= 10".
const QueueCapacity = 16

type subscription struct {
	id      string
	pattern string
	ch      chan request.Result
}

// Bus is the pattern -> subscribers map. The zero value is not usable;
// use New.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]*subscription
	byID map[string]*subscription
}

func New() *Bus {
	return &Bus{
		subs: make(map[string][]*subscription),
		byID: make(map[string]*subscription),
	}
}

// Subscribe registers pattern and returns a subscription id and the
// receive side of its bounded queue. Patterns are one of: an exact key,
// "*" (matches everything), or "prefix*" (matches keys with that prefix).
func (b *Bus) Subscribe(pattern string) (string, <-chan request.Result) {
	s := &subscription{
		id:      uuid.NewString(),
		pattern: pattern,
		ch:      make(chan request.Result, QueueCapacity),
	}

	b.mu.Lock()
	b.subs[pattern] = append(b.subs[pattern], s)
	b.byID[s.id] = s
	b.mu.Unlock()

	return s.id, s.ch
}

// Unsubscribe removes the subscription and closes its channel. No
// further messages are delivered afterward (the channel is gone from the
// pattern map before being closed, so a notify already in flight at the
// time of the call cannot race a send onto a closed channel once this
// returns). Empty pattern entries are garbage-collected.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.byID[id]
	if !ok {
		return
	}
	delete(b.byID, id)

	list := b.subs[s.pattern]
	for i, cand := range list {
		if cand.id == id {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(b.subs, s.pattern)
	} else {
		b.subs[s.pattern] = list
	}
	close(s.ch)
}

// patternMatches implements: "*" matches everything; "prefix*" matches
// keys starting with prefix; otherwise exact match.
func patternMatches(pattern, key string) bool {
	switch {
	case pattern == "*":
		return true
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(key, strings.TrimSuffix(pattern, "*"))
	default:
		return pattern == key
	}
}

// Notify delivers value to every subscription whose pattern matches key.
// Delivery is non-blocking: a subscriber with a full queue has this
// message dropped, never causing the publisher to wait. Per-subscriber
// delivery order preserves publication order; there is no cross-subscriber
// ordering guarantee.
func (b *Bus) Notify(key string, value request.Result) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for pattern, list := range b.subs {
		if !patternMatches(pattern, key) {
			continue
		}
		for _, s := range list {
			select {
			case s.ch <- value:
			default:
			}
		}
	}
}

// NotifyAll is a convenience batch form of Notify.
func (b *Bus) NotifyAll(pairs map[string]request.Result) {
	for key, value := range pairs {
		b.Notify(key, value)
	}
}

// ActiveSubscriptions returns the current subscriber count.
func (b *Bus) ActiveSubscriptions() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byID)
}

// Patterns returns the set of distinct patterns with at least one
// subscriber.
func (b *Bus) Patterns() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.subs))
	for p := range b.subs {
		out = append(out, p)
	}
	return out
}
