package cache

import (
	"context"
	"sync"
	"time"

	"github.com/maypok86/otter"

	"github.com/hostuk/visibility/internal/observability"
	"github.com/hostuk/visibility/internal/targeting"
)

// MemoryCache is the in-process L1 of compiled page snapshots (otter, S3-FIFO).
// The TTL bounds staleness if an invalidation message is lost.
//
// Read-through fills race with invalidations: a reader can fetch v1 from L2,
// the listener then drops the (absent) entry for v2, and the reader stores v1
// afterwards. To close that window every Del and Clear bumps a generation
// under mu. A filler captures Generation before its L2 read and stores with
// SetIfUnchanged, which refuses the write once any invalidation has landed
// in between. The counter is global rather than per page, so an unrelated
// invalidation only costs one extra L2 read on the next request.
type MemoryCache struct {
	store otter.Cache[int64, *targeting.PageRules]

	mu         sync.Mutex
	generation uint64
}

// NewMemoryCache creates an L1 holding at most capacity pages for ttl each.
func NewMemoryCache(capacity int, ttl time.Duration) (*MemoryCache, error) {
	store, err := otter.MustBuilder[int64, *targeting.PageRules](capacity).
		CollectStats().
		WithTTL(ttl).
		Build()
	if err != nil {
		return nil, err
	}

	return &MemoryCache{store: store}, nil
}

// Get returns the cached snapshot and records a hit or miss.
func (c *MemoryCache) Get(pageID int64) (*targeting.PageRules, bool) {
	rules, ok := c.store.Get(pageID)
	if ok {
		observability.DataPlaneCacheHits.Inc()
	} else {
		observability.DataPlaneCacheMisses.Inc()
	}
	return rules, ok
}

// Set stores a snapshot unless a newer version is already cached.
func (c *MemoryCache) Set(rules *targeting.PageRules) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(rules)
}

// Generation returns the current invalidation generation.
func (c *MemoryCache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// SetIfUnchanged stores a snapshot only if no Del or Clear happened since gen
// was read. It reports whether the snapshot was offered to the store.
func (c *MemoryCache) SetIfUnchanged(rules *targeting.PageRules, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		return false
	}
	c.setLocked(rules)
	return true
}

func (c *MemoryCache) setLocked(rules *targeting.PageRules) {
	if rules == nil {
		return
	}
	if current, ok := c.store.Get(rules.PageID); ok && current.Version > rules.Version {
		return
	}
	c.store.Set(rules.PageID, rules)
}

// Del drops a page. Called when an invalidation arrives.
func (c *MemoryCache) Del(pageID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.store.Delete(pageID)
}

// Clear drops every page, e.g. after the invalidation subscription reconnects.
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.store.Clear()
}

// Size returns the number of cached pages.
func (c *MemoryCache) Size() int {
	return c.store.Size()
}

// Close stops otter's background goroutines.
func (c *MemoryCache) Close() {
	c.store.Close()
}

// RunMetricsCollector publishes size and eviction metrics every interval until ctx is done.
func (c *MemoryCache) RunMetricsCollector(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastEvicted int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			observability.DataPlaneCacheUsage.Set(float64(c.store.Size()))

			evicted := c.store.Stats().EvictedCount()
			if delta := evicted - lastEvicted; delta > 0 {
				observability.DataPlaneCacheEvictions.Add(float64(delta))
			}
			lastEvicted = evicted
		}
	}
}
