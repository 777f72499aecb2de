package thought

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// searchCache is the in-process text-search result cache: an LRU guarded
// by a mutex, with a fixed 5-minute TTL applied on read.
type searchCache struct {
	mu  sync.Mutex
	lru *lru.Cache[string, cacheEntry]
	ttl time.Duration
}

type cacheEntry struct {
	thoughts []Thought
	expires  time.Time
}

func newSearchCache(size int, ttl time.Duration) *searchCache {
	if size <= 0 {
		size = 256
	}
	c, _ := lru.New[string, cacheEntry](size)
	return &searchCache{lru: c, ttl: ttl}
}

func (c *searchCache) get(key string) ([]Thought, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expires) {
		c.lru.Remove(key)
		return nil, false
	}
	return entry.thoughts, true
}

func (c *searchCache) put(key string, thoughts []Thought) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, cacheEntry{thoughts: thoughts, expires: time.Now().Add(c.ttl)})
}
