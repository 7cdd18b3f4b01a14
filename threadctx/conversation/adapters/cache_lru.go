package adapters

import (
	"context"
	"slices"
	"sync"
	"time"

	ports "github.com/ZanzyTHEbar/threadctx/threadctx/conversation/ports"
)

// LRUCache is a bounded LRU with per-entry TTL. A ttlSeconds <= 0 keeps the
// entry until it is evicted.
type LRUCache struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*cacheItem
	head     *cacheItem // most recently used
	tail     *cacheItem
	now      func() time.Time
}

type cacheItem struct {
	key     string
	value   []byte
	expires time.Time // zero means no expiry
	prev    *cacheItem
	next    *cacheItem
}

// NewLRUCache creates a cache holding at most capacity entries.
func NewLRUCache(capacity int) *LRUCache {
	if capacity < 1 {
		capacity = 1
	}
	return &LRUCache{
		capacity: capacity,
		items:    make(map[string]*cacheItem),
		now:      time.Now,
	}
}

// Get returns a copy of the cached value. Lookups reorder the list, so they
// take the write lock.
func (c *LRUCache) Get(ctx context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if !item.expires.IsZero() && c.now().After(item.expires) {
		c.unlink(item)
		delete(c.items, key)
		return nil, false
	}

	c.moveToFront(item)
	return slices.Clone(item.value), true
}

func (c *LRUCache) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expires time.Time
	if ttlSeconds > 0 {
		expires = c.now().Add(time.Duration(ttlSeconds) * time.Second)
	}

	if item, ok := c.items[key]; ok {
		item.value = slices.Clone(value)
		item.expires = expires
		c.moveToFront(item)
		return nil
	}

	item := &cacheItem{key: key, value: slices.Clone(value), expires: expires}
	c.pushFront(item)
	c.items[key] = item

	if len(c.items) > c.capacity {
		c.evictOldest()
	}
	return nil
}

func (c *LRUCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if item, ok := c.items[key]; ok {
		c.unlink(item)
		delete(c.items, key)
	}
	return nil
}

// Len reports the number of entries, expired or not.
func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *LRUCache) moveToFront(item *cacheItem) {
	if item == c.head {
		return
	}
	c.unlink(item)
	c.pushFront(item)
}

func (c *LRUCache) pushFront(item *cacheItem) {
	item.prev = nil
	item.next = c.head
	if c.head != nil {
		c.head.prev = item
	}
	c.head = item
	if c.tail == nil {
		c.tail = item
	}
}

func (c *LRUCache) unlink(item *cacheItem) {
	if item.prev != nil {
		item.prev.next = item.next
	} else {
		c.head = item.next
	}
	if item.next != nil {
		item.next.prev = item.prev
	} else {
		c.tail = item.prev
	}
	item.prev, item.next = nil, nil
}

func (c *LRUCache) evictOldest() {
	if c.tail == nil {
		return
	}
	item := c.tail
	c.unlink(item)
	delete(c.items, item.key)
}

var _ ports.Cache = (*LRUCache)(nil)
