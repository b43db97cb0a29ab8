package util

import (
	"container/list"
	"sync"
	"time"
)

// CacheItem represents an item in the cache
type CacheItem struct {
	Key        string
	Value      interface{}
	Expiration time.Time
	element    *list.Element
}

// LRUCache implements a thread-safe LRU cache with TTL support.
// Instances are owned by the component that needs them; there is no
// process-wide cache.
type LRUCache struct {
	mu          sync.RWMutex
	items       map[string]*CacheItem
	lruList     *list.List
	maxSize     int
	defaultTTL  time.Duration
	cleanupDone chan struct{}
	closeOnce   sync.Once
}

// NewLRUCache creates a new LRU cache
func NewLRUCache(maxSize int, defaultTTL time.Duration) *LRUCache {
	cache := &LRUCache{
		items:       make(map[string]*CacheItem),
		lruList:     list.New(),
		maxSize:     maxSize,
		defaultTTL:  defaultTTL,
		cleanupDone: make(chan struct{}),
	}

	go cache.cleanup()

	return cache
}

// Get retrieves an item from the cache
func (c *LRUCache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, exists := c.items[key]
	if !exists {
		return nil, false
	}

	if time.Now().After(item.Expiration) {
		c.removeItem(item)
		return nil, false
	}

	c.lruList.MoveToFront(item.element)

	return item.Value, true
}

// Set adds or updates an item in the cache
func (c *LRUCache) Set(key string, value interface{}) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

// SetWithTTL adds or updates an item with custom TTL
func (c *LRUCache) SetWithTTL(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiration := time.Now().Add(ttl)

	if existing, exists := c.items[key]; exists {
		existing.Value = value
		existing.Expiration = expiration
		c.lruList.MoveToFront(existing.element)
		return
	}

	item := &CacheItem{
		Key:        key,
		Value:      value,
		Expiration: expiration,
	}

	item.element = c.lruList.PushFront(item)
	c.items[key] = item

	c.evictIfNeeded()
}

// Delete removes an item from the cache
func (c *LRUCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if item, exists := c.items[key]; exists {
		c.removeItem(item)
	}
}

// Size returns the current number of items in the cache
func (c *LRUCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.items)
}

// removeItem removes an item from the cache (assumes lock is held)
func (c *LRUCache) removeItem(item *CacheItem) {
	delete(c.items, item.Key)
	c.lruList.Remove(item.element)
}

// evictIfNeeded removes items if cache is over capacity (assumes lock is held)
func (c *LRUCache) evictIfNeeded() {
	for len(c.items) > c.maxSize {
		oldest := c.lruList.Back()
		if oldest == nil {
			return
		}
		c.removeItem(oldest.Value.(*CacheItem))
	}
}

// cleanup periodically removes expired items
func (c *LRUCache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.cleanupDone:
			return
		}
	}
}

func (c *LRUCache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	var toRemove []*CacheItem

	for _, item := range c.items {
		if now.After(item.Expiration) {
			toRemove = append(toRemove, item)
		}
	}

	for _, item := range toRemove {
		c.removeItem(item)
	}
}

// Close stops the cleanup goroutine
func (c *LRUCache) Close() {
	c.closeOnce.Do(func() {
		close(c.cleanupDone)
	})
}
