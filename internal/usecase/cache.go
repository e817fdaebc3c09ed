package usecase

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// QueryCache is a TTL cache for retrieval results, keyed by
// (user, query, sender filter). Expired entries are dropped lazily on Get
// and in bulk whenever Len is called.
type QueryCache struct {
	ttl time.Duration
	mu  sync.Mutex
	m   map[string]queryCacheEntry
	now func() time.Time
}

type queryCacheEntry struct {
	docs    []RetrievedDoc
	expires time.Time
}

// NewQueryCache creates a cache with the given TTL.
func NewQueryCache(ttl time.Duration) *QueryCache {
	return &QueryCache{ttl: ttl, m: make(map[string]queryCacheEntry), now: time.Now}
}

// CacheKey derives the cache key for a retrieval request.
func CacheKey(userID, query, senderFilter string) string {
	h := sha256.Sum256([]byte(userID + "|" + query + "|" + senderFilter))
	return hex.EncodeToString(h[:])
}

// Get returns the cached result set, or false when absent or expired.
func (c *QueryCache) Get(key string) ([]RetrievedDoc, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[key]
	if !ok {
		return nil, false
	}
	if c.now().After(e.expires) {
		delete(c.m, key)
		return nil, false
	}
	return e.docs, true
}

// Set stores a result set under key with the configured TTL.
func (c *QueryCache) Set(key string, docs []RetrievedDoc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = queryCacheEntry{docs: docs, expires: c.now().Add(c.ttl)}
}

// Clear drops every entry. Called after an index pass adds new chunks so
// stale result sets never outlive the data they were computed from.
func (c *QueryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m = make(map[string]queryCacheEntry)
}

// Len evicts expired entries and returns the number of live ones.
func (c *QueryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, e := range c.m {
		if now.After(e.expires) {
			delete(c.m, k)
		}
	}
	return len(c.m)
}
