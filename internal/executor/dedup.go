package executor

import (
	"sync"
	"time"
)

// Dedup prevents the same opportunity ID from being forwarded to the
// external Executor more than once within a configurable time-to-live
// window. Safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time // opportunity ID -> last seen time
	ttl  time.Duration
	mu   sync.Mutex
}

// NewDedup creates a Dedup that considers an ID a duplicate if it has been
// seen within the given ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// IsDuplicate returns true if id has been seen within the TTL window. If it
// has not been seen (or its prior sighting has expired), it is recorded and
// false is returned.
func (d *Dedup) IsDuplicate(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if lastSeen, ok := d.seen[id]; ok {
		if now.Sub(lastSeen) < d.ttl {
			return true
		}
	}

	d.seen[id] = now
	return false
}

// Cleanup removes entries that have aged out beyond the TTL. Call
// periodically to bound memory growth.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for id, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, id)
		}
	}
}
