package storage

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// DefaultQueryTTL is how long an unused query snapshot is kept.
const DefaultQueryTTL = 10 * time.Second

// QueryCache is an in-memory store of query snapshots keyed by query
// identity (job:<id>, agent-poll:<session>, settings). Entries expire after
// the configured TTL.
type QueryCache struct {
	c *cache.Cache
}

// NewQueryCache creates a QueryCache whose entries expire after ttl.
func NewQueryCache(ttl time.Duration) *QueryCache {
	if ttl <= 0 {
		ttl = DefaultQueryTTL
	}
	return &QueryCache{c: cache.New(ttl, 2*ttl)}
}

// Set stores value under key with the default expiration.
func (q *QueryCache) Set(key string, value any) {
	q.c.Set(key, value, cache.DefaultExpiration)
}

// Get returns the value stored under key, if present and not expired.
func (q *QueryCache) Get(key string) (any, bool) {
	return q.c.Get(key)
}

// Delete invalidates key.
func (q *QueryCache) Delete(key string) {
	q.c.Delete(key)
}

// Keys lists the keys of all unexpired entries.
func (q *QueryCache) Keys() []string {
	items := q.c.Items()
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	return keys
}
