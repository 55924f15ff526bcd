// Package cache implements the correlator's in-memory caches: a generic
// expiring map plus the page-visit, tab-visit, opener and commit-evidence
// instantiations built on top of it.
//
// Eviction never happens on insert. Callers run Maintain after the data
// needed for the current correlation has been read and dispatched, so a
// maintenance pass can never race an in-flight correlation out of the entry
// it depends on.
package cache

import "time"

// Partition selects a subset of entries whose most-recent member must be
// retained even past the expiry threshold.
type Partition[V any] func(V) bool

// Expiring is a map with per-entry timestamps. Put and Get never evict;
// Maintain removes stale entries while always keeping the most-recent entry
// of each partition.
type Expiring[K comparable, V any] struct {
	entries map[K]V
	expiry  int64
	stamp   func(V) int64
}

// NewExpiring builds an expiring map. stamp extracts an entry's timestamp in
// unix milliseconds.
func NewExpiring[K comparable, V any](expiry time.Duration, stamp func(V) int64) *Expiring[K, V] {
	return &Expiring[K, V]{
		entries: make(map[K]V),
		expiry:  expiry.Milliseconds(),
		stamp:   stamp,
	}
}

// Put inserts or replaces an entry. Never evicts.
func (c *Expiring[K, V]) Put(key K, value V) {
	c.entries[key] = value
}

// Get returns the entry for key, if present.
func (c *Expiring[K, V]) Get(key K) (V, bool) {
	v, ok := c.entries[key]
	return v, ok
}

// Delete removes the entry for key, if present.
func (c *Expiring[K, V]) Delete(key K) {
	delete(c.entries, key)
}

// Len returns the number of live entries.
func (c *Expiring[K, V]) Len() int {
	return len(c.entries)
}

// Values returns a copy of all live entries.
func (c *Expiring[K, V]) Values() []V {
	out := make([]V, 0, len(c.entries))
	for _, v := range c.entries {
		out = append(out, v)
	}
	return out
}

// Range calls fn for every live entry until fn returns false.
func (c *Expiring[K, V]) Range(fn func(K, V) bool) {
	for k, v := range c.entries {
		if !fn(k, v) {
			return
		}
	}
}

// Maintain removes every entry older than the expiry, except the most-recent
// entry of each given partition. With no partitions the single most-recent
// entry overall is still retained. Returns the removed keys so callers can
// keep secondary indexes consistent.
func (c *Expiring[K, V]) Maintain(now int64, partitions ...Partition[V]) []K {
	if len(c.entries) == 0 {
		return nil
	}
	if len(partitions) == 0 {
		partitions = []Partition[V]{func(V) bool { return true }}
	}

	keep := make(map[K]struct{}, len(partitions))
	for _, part := range partitions {
		var newest K
		var newestAt int64
		found := false
		for k, v := range c.entries {
			if !part(v) {
				continue
			}
			if at := c.stamp(v); !found || at > newestAt {
				newest, newestAt, found = k, at, true
			}
		}
		if found {
			keep[newest] = struct{}{}
		}
	}

	var removed []K
	for k, v := range c.entries {
		if _, ok := keep[k]; ok {
			continue
		}
		if now-c.stamp(v) > c.expiry {
			delete(c.entries, k)
			removed = append(removed, k)
		}
	}
	return removed
}
