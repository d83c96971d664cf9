// Package cache provides a bounded, TTL-aware LRU used to front slow stores.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// LRU is a least-recently-used cache whose entries also expire after ttl.
// A non-positive capacity disables caching: Put becomes a no-op.
type LRU[K comparable, V any] struct {
	mu      sync.Mutex
	limit   int
	ttl     time.Duration
	index   map[K]*list.Element
	recency *list.List // front = most recently used
	now     func() time.Time

	hits, misses int64
}

type slot[K comparable, V any] struct {
	key     K
	val     V
	expires time.Time
}

func NewLRU[K comparable, V any](capacity int, ttl time.Duration) *LRU[K, V] {
	return &LRU[K, V]{
		limit:   capacity,
		ttl:     ttl,
		index:   make(map[K]*list.Element),
		recency: list.New(),
		now:     time.Now,
	}
}

// Get returns the live value for key, dropping it first if it has expired.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.index[key]
	if !ok {
		c.misses++
		return zero, false
	}
	s := el.Value.(*slot[K, V])
	if c.now().After(s.expires) {
		c.unlink(el)
		c.misses++
		return zero, false
	}
	c.recency.MoveToFront(el)
	c.hits++
	return s.val, true
}

// Put stores value under key, evicting the least recently used entry when full.
func (c *LRU[K, V]) Put(key K, value V) {
	if c.limit <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.now().Add(c.ttl)
	if el, ok := c.index[key]; ok {
		s := el.Value.(*slot[K, V])
		s.val, s.expires = value, expires
		c.recency.MoveToFront(el)
		return
	}
	for c.recency.Len() >= c.limit {
		c.unlink(c.recency.Back())
	}
	c.index[key] = c.recency.PushFront(&slot[K, V]{key: key, val: value, expires: expires})
}

func (c *LRU[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[key]; ok {
		c.unlink(el)
	}
}

// Purge drops every entry but keeps hit/miss counters.
func (c *LRU[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = make(map[K]*list.Element)
	c.recency.Init()
}

// Len counts entries, including expired ones not yet touched.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recency.Len()
}

func (c *LRU[K, V]) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func (c *LRU[K, V]) unlink(el *list.Element) {
	c.recency.Remove(el)
	delete(c.index, el.Value.(*slot[K, V]).key)
}
