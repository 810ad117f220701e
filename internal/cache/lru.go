package cache

import (
	"container/list"
	"sync"
	"time"
)

type lruEntry struct {
	key       Key
	value     any
	expiresAt time.Time
	delivered bool
}

// LRU is the bounded process-local tier. Expired entries are dropped on
// read; when the cache is full, delivered entries are evicted before the
// least recently used live one.
type LRU struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recently used
	entries  map[Key]*list.Element
	now      func() time.Time
}

// NewLRU returns an LRU bounded to capacity entries.
func NewLRU(capacity int) *LRU {
	if capacity < 1 {
		capacity = 1
	}
	return &LRU{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[Key]*list.Element),
		now:      time.Now,
	}
}

func (c *LRU) Get(key Key) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	entry := elem.Value.(*lruEntry)
	if c.now().After(entry.expiresAt) {
		c.removeLocked(elem)
		return nil, false
	}
	c.order.MoveToFront(elem)
	return entry.value, true
}

func (c *LRU) Set(key Key, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	expires := c.now().Add(ttl)
	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*lruEntry)
		entry.value = value
		entry.expiresAt = expires
		entry.delivered = false
		c.order.MoveToFront(elem)
		return
	}
	for c.order.Len() >= c.capacity {
		c.evictOneLocked()
	}
	elem := c.order.PushFront(&lruEntry{key: key, value: value, expiresAt: expires})
	c.entries[key] = elem
}

func (c *LRU) Invalidate(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[key]; ok {
		c.removeLocked(elem)
	}
}

func (c *LRU) MarkDelivered(keys []Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		if elem, ok := c.entries[key]; ok {
			elem.Value.(*lruEntry).delivered = true
		}
	}
}

// Len reports live (non-expired) entry count.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	now := c.now()
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		if !now.After(elem.Value.(*lruEntry).expiresAt) {
			n++
		}
	}
	return n
}

// evictOneLocked removes one entry: the oldest delivered or expired entry
// if any, otherwise the least recently used.
func (c *LRU) evictOneLocked() {
	now := c.now()
	for elem := c.order.Back(); elem != nil; elem = elem.Prev() {
		entry := elem.Value.(*lruEntry)
		if entry.delivered || now.After(entry.expiresAt) {
			c.removeLocked(elem)
			return
		}
	}
	if back := c.order.Back(); back != nil {
		c.removeLocked(back)
	}
}

func (c *LRU) removeLocked(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.entries, elem.Value.(*lruEntry).key)
}
