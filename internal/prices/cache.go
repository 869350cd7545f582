package prices

import (
	"context"
	"sync"
	"time"
)

// CachedPrice is one cache entry: the aggregated value, the sources that
// contributed, and when it was computed. Staleness is judged by the caller
// against the configured TTL; the cache itself never evicts, because a stale
// entry is still the fallback of last resort when every source is down.
type CachedPrice struct {
	Price   float64
	Sources []string
	At      time.Time
}

// Cache stores the latest aggregated price per token. Entries are keyed per
// token and each update is a last-writer-wins overwrite.
type Cache interface {
	Get(ctx context.Context, tokenID string) (*CachedPrice, error)
	Set(ctx context.Context, tokenID string, entry CachedPrice) error
}

// MemoryCache is the in-process Cache used in tests and single-node
// deployments without Redis.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]CachedPrice
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: map[string]CachedPrice{}}
}

func (c *MemoryCache) Get(_ context.Context, tokenID string) (*CachedPrice, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[tokenID]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (c *MemoryCache) Set(_ context.Context, tokenID string, entry CachedPrice) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[tokenID] = entry
	return nil
}

var _ Cache = (*MemoryCache)(nil)
