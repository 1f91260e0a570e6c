package cache

import (
	"fmt"
	"time"
)

// EvictionPolicy bounds the cache by entry count and entry age. A zero value
// for either bound disables it; the zero policy never evicts.
type EvictionPolicy struct {
	MaxEntries int
	TTL        time.Duration
}

// Unbounded reports whether the policy never evicts.
func (p EvictionPolicy) Unbounded() bool {
	return p.MaxEntries <= 0 && p.TTL <= 0
}

// Expired reports whether an entry stored at storedAt is past its TTL at now.
func (p EvictionPolicy) Expired(storedAt, now time.Time) bool {
	if p.TTL <= 0 {
		return false
	}
	return !now.Before(storedAt.Add(p.TTL))
}

// Overflow returns how many entries must go for size entries to fit.
func (p EvictionPolicy) Overflow(size int) int {
	if p.MaxEntries <= 0 || size <= p.MaxEntries {
		return 0
	}
	return size - p.MaxEntries
}

func (p EvictionPolicy) String() string {
	if p.Unbounded() {
		return "never evict"
	}
	return fmt.Sprintf("max_entries=%d ttl=%s", p.MaxEntries, p.TTL)
}
