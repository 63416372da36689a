// Package keyed provides a lock-striped map for per-key check-and-update state.
package keyed

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultShards is used when NewMap is given a non-positive shard count.
const DefaultShards = 64

// Map spreads keys over independently locked shards so that two keys only
// contend when they hash to the same shard. Every mutation of a key's value
// must happen inside Do (or Sweep) for that key.
type Map[V any] struct {
	shards []*shard[V]
}

type shard[V any] struct {
	mu    sync.Mutex
	items map[string]V
}

// NewMap creates a map with n shards.
func NewMap[V any](n int) *Map[V] {
	if n <= 0 {
		n = DefaultShards
	}
	m := &Map[V]{shards: make([]*shard[V], n)}
	for i := range m.shards {
		m.shards[i] = &shard[V]{items: make(map[string]V)}
	}
	return m
}

func (m *Map[V]) shardFor(key string) *shard[V] {
	return m.shards[xxhash.Sum64String(key)%uint64(len(m.shards))]
}

// Do runs fn with the shard holding key locked. fn may read, store or delete
// entries of the passed map but must not call back into m.
func (m *Map[V]) Do(key string, fn func(items map[string]V)) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.items)
}

// Delete removes key and returns the removed value, if any.
func (m *Map[V]) Delete(key string) (V, bool) {
	var (
		v  V
		ok bool
	)
	m.Do(key, func(items map[string]V) {
		v, ok = items[key]
		delete(items, key)
	})
	return v, ok
}

// Sweep visits every entry one shard at a time, holding that shard's lock,
// and removes entries for which fn returns true. Returns the number removed.
func (m *Map[V]) Sweep(fn func(key string, v V) bool) int {
	removed := 0
	for _, s := range m.shards {
		s.mu.Lock()
		for k, v := range s.items {
			if fn(k, v) {
				delete(s.items, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len returns the number of entries. It is a snapshot across shards.
func (m *Map[V]) Len() int {
	total := 0
	for _, s := range m.shards {
		s.mu.Lock()
		total += len(s.items)
		s.mu.Unlock()
	}
	return total
}
