package mempool

import (
	"time"

	"github.com/pool-sentry/sentry/types"
)

type entry struct {
	tx       *types.PendingTransaction
	deadline time.Time

	heapIndex int
}

// expiryHeap orders entries by eviction deadline so that sweeps only touch
// the expired prefix.  Implements container/heap.Interface.
type expiryHeap []*entry

func (h expiryHeap) Len() int {
	return len(h)
}

func (h expiryHeap) Less(i, j int) bool {
	return h[i].deadline.Before(h[j].deadline)
}

func (h expiryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *expiryHeap) Push(x any) {
	e := x.(*entry)
	e.heapIndex = len(*h)
	*h = append(*h, e)
}

func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.heapIndex = -1
	*h = old[:n-1]
	return e
}
