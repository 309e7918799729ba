package fetcher

import (
	"container/heap"
	"time"

	"github.com/navicore/navicache/internal/request"
)

// task is a fetch task: (request, priority, scheduled_at, retry_count).
// Equality for dedup purposes is by request key, handled by the caller
// (the heap itself tolerates duplicate keys: EnqueueMany drops repeats
// within the dedup window, while Refresh and retries push directly; the
// fetch loop's active-set check keeps at most one fetch per key in
// flight).
type task struct {
	req         request.Request
	priority    request.Priority
	scheduledAt time.Time
	retryCount  int
	index       int
}

// taskHeap is a max-heap on (priority desc, scheduled_at asc).
type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].scheduledAt.Before(h[j].scheduledAt)
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	t := x.(*task)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

var _ heap.Interface = (*taskHeap)(nil)
