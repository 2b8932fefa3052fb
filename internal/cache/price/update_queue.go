package price

import (
	"sort"
	"sync"
)

// updateQueue is the set of symbols waiting for the next batched refresh.
type updateQueue struct {
	mu      sync.Mutex
	pending map[string]struct{}
}

func newUpdateQueue() *updateQueue {
	return &updateQueue{pending: make(map[string]struct{})}
}

func (q *updateQueue) Add(symbols ...string) {
	q.mu.Lock()
	for _, s := range symbols {
		q.pending[s] = struct{}{}
	}
	q.mu.Unlock()
}

// Drain empties the set and returns its symbols, sorted.
func (q *updateQueue) Drain() []string {
	q.mu.Lock()
	symbols := make([]string, 0, len(q.pending))
	for s := range q.pending {
		symbols = append(symbols, s)
	}
	q.pending = make(map[string]struct{})
	q.mu.Unlock()

	sort.Strings(symbols)
	return symbols
}

func (q *updateQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
