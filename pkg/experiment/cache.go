package experiment

import (
	"container/list"
	"sync"
)

type cacheEntry struct {
	key     assignmentKey
	variant string
}

// assignmentCache is a bounded LRU of (experiment, user) to variant.
// Assignments never change once stored, so entries need no invalidation.
// A nil *assignmentCache is a valid, always-missing cache.
type assignmentCache struct {
	mu       sync.Mutex
	capacity int
	items    map[assignmentKey]*list.Element
	order    *list.List
}

func newAssignmentCache(capacity int) *assignmentCache {
	if capacity <= 0 {
		return nil
	}
	return &assignmentCache{
		capacity: capacity,
		items:    make(map[assignmentKey]*list.Element, capacity),
		order:    list.New(),
	}
}

func (c *assignmentCache) get(key assignmentKey) (string, bool) {
	if c == nil {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return "", false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*cacheEntry).variant, true
}

func (c *assignmentCache) put(key assignmentKey, variant string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.order.MoveToFront(elem)
		elem.Value.(*cacheEntry).variant = variant
		return
	}
	c.items[key] = c.order.PushFront(&cacheEntry{key: key, variant: variant})
	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
	}
}

func (c *assignmentCache) len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
