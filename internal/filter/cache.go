package filter

import (
	"container/list"
	"sync"
)

// pointerCache is a fixed capacity LRU of pointer reads, keyed by address.
// Chains found by one scan share long prefixes, so re-resolving them reads the
// same few locations over and over.
type pointerCache struct {
	capacity int
	mu       sync.Mutex
	items    map[uint64]*list.Element
	lruList  *list.List
}

type cacheEntry struct {
	addr  uint64
	value uint64
}

func newPointerCache(capacity int) *pointerCache {
	return &pointerCache{
		capacity: capacity,
		items:    make(map[uint64]*list.Element),
		lruList:  list.New(),
	}
}

// Get returns the cached pointer at addr and marks it as recently used.
func (c *pointerCache) Get(addr uint64) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[addr]; ok {
		c.lruList.MoveToFront(elem)
		return elem.Value.(*cacheEntry).value, true
	}
	return 0, false
}

// Add records the pointer read at addr, evicting the oldest entry when full.
func (c *pointerCache) Add(addr, value uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[addr]; ok {
		c.lruList.MoveToFront(elem)
		elem.Value.(*cacheEntry).value = value
		return
	}

	c.items[addr] = c.lruList.PushFront(&cacheEntry{addr: addr, value: value})
	if c.lruList.Len() > c.capacity {
		oldest := c.lruList.Back()
		c.lruList.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).addr)
	}
}

// Len returns the number of cached pointers.
func (c *pointerCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lruList.Len()
}
