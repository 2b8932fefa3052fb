package chart

import (
	"sort"
	"sync"
	"time"

	"goflare.io/folio/internal/models"
)

// Compress subsamples data to at most about target points by keeping every stride-th point,
// stride = ceil(len/target), starting at index 0. Metadata is recomputed from the kept points.
// Series already at or below target are returned unchanged.
func Compress(data models.ChartData, target int, now time.Time) models.ChartData {
	n := len(data.Data)
	if target <= 0 || n <= target {
		return data
	}
	stride := (n + target - 1) / target

	kept := make([]models.ChartDataPoint, 0, (n+stride-1)/stride)
	for i := 0; i < n; i += stride {
		kept = append(kept, data.Data[i])
	}

	out := data
	out.Data = kept
	out.Metadata = models.ComputeMetadata(kept, now)
	return out
}

// compressionQueue holds keys of series waiting to be compressed.
type compressionQueue struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func newCompressionQueue() *compressionQueue {
	return &compressionQueue{keys: make(map[string]struct{})}
}

func (q *compressionQueue) add(key string) {
	q.mu.Lock()
	q.keys[key] = struct{}{}
	q.mu.Unlock()
}

func (q *compressionQueue) drain() []string {
	q.mu.Lock()
	keys := make([]string, 0, len(q.keys))
	for k := range q.keys {
		keys = append(keys, k)
	}
	q.keys = make(map[string]struct{})
	q.mu.Unlock()
	sort.Strings(keys)
	return keys
}

func (q *compressionQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.keys)
}
