package fetcher

import (
	"sync"
	"time"
)

// cacheItem represents a single cached page body with expiration
type cacheItem struct {
	body       []byte
	expiration time.Time
}

// pageCache is a thread-safe in-memory page cache with TTL support. It
// keeps resolver probes and the scrape pass from hitting the same URL twice
// within one run.
type pageCache struct {
	ttl   time.Duration
	data  map[string]cacheItem
	mutex sync.RWMutex
}

// newPageCache creates a page cache and starts its cleanup goroutine.
func newPageCache(ttl time.Duration) *pageCache {
	cache := &pageCache{
		ttl:  ttl,
		data: make(map[string]cacheItem),
	}
	go cache.cleanupExpired()
	return cache
}

func (c *pageCache) get(url string) ([]byte, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	item, exists := c.data[url]
	if !exists {
		return nil, false
	}
	if time.Now().After(item.expiration) {
		return nil, false
	}
	return item.body, true
}

func (c *pageCache) set(url string, body []byte) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.data[url] = cacheItem{
		body:       body,
		expiration: time.Now().Add(c.ttl),
	}
}

// cleanupExpired removes expired entries from the cache periodically
func (c *pageCache) cleanupExpired() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		c.mutex.Lock()
		now := time.Now()
		for url, item := range c.data {
			if now.After(item.expiration) {
				delete(c.data, url)
			}
		}
		c.mutex.Unlock()
	}
}
