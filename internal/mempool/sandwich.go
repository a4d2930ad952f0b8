package mempool

import (
	"sync"
	"time"
)

// sandwichBuckets buckets pending-swap transaction hashes by a
// sorted-token-pair key over a rolling window, generalizing the
// executor package's TTL-dedup map idiom to a multi-entry bucket instead
// of a single last-seen timestamp.
type sandwichBuckets struct {
	mu      sync.Mutex
	window  time.Duration
	entries map[string][]bucketEntry
}

type bucketEntry struct {
	txHash string
	at     time.Time
}

func newSandwichBuckets(window time.Duration) *sandwichBuckets {
	return &sandwichBuckets{window: window, entries: make(map[string][]bucketEntry)}
}

// record appends txHash to pairKey's bucket, evicts entries older than
// the window, and returns the resulting bundle of transaction hashes.
func (b *sandwichBuckets) record(pairKey, txHash string, now time.Time) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := now.Add(-b.window)
	kept := b.entries[pairKey][:0]
	for _, e := range b.entries[pairKey] {
		if e.at.After(cutoff) {
			kept = append(kept, e)
		}
	}
	kept = append(kept, bucketEntry{txHash: txHash, at: now})
	b.entries[pairKey] = kept

	bundle := make([]string, len(kept))
	for i, e := range kept {
		bundle[i] = e.txHash
	}
	return bundle
}

// reset clears pairKey's bucket, called after a sandwich is emitted to
// avoid re-triggering on the same transaction set.
func (b *sandwichBuckets) reset(pairKey string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, pairKey)
}
