package store

import "time"

// ttlEntry is one entry in a DB's expiry min-heap. tombstoned marks an
// entry whose expiry has been cleared or superseded; tombstoned entries
// are skipped (not removed) when popped, avoiding O(n) heap-middle
// removal on every TTL overwrite.
type ttlEntry struct {
	expiresAt  time.Time
	sequence   uint64
	key        string
	tombstoned bool
}

// ttlHeap orders entries by (expiresAt, sequence); sequence is a per-DB
// monotonically increasing tiebreak so heap operations stay total even
// when two entries share an expiry instant.
type ttlHeap []*ttlEntry

func (h ttlHeap) Len() int { return len(h) }

func (h ttlHeap) Less(i, j int) bool {
	if h[i].expiresAt.Equal(h[j].expiresAt) {
		return h[i].sequence < h[j].sequence
	}
	return h[i].expiresAt.Before(h[j].expiresAt)
}

func (h ttlHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *ttlHeap) Push(x any) {
	*h = append(*h, x.(*ttlEntry))
}

func (h *ttlHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return entry
}
