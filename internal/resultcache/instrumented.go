package resultcache

import "mathsnap-api/internal/metrics"

// InstrumentedCache wraps another cache and records hit/miss counts both
// in-process and in Prometheus.
type InstrumentedCache struct {
	cache Cache
	stats *Stats
	name  string
}

func NewInstrumentedCache(cache Cache, stats *Stats, name string) *InstrumentedCache {
	if cache == nil {
		return nil
	}
	return &InstrumentedCache{
		cache: cache,
		stats: stats,
		name:  name,
	}
}

func (c *InstrumentedCache) Get(key string) (Entry, bool) {
	if c == nil || c.cache == nil {
		return Entry{}, false
	}
	entry, ok := c.cache.Get(key)
	if ok {
		c.stats.Hit()
		metrics.CacheHits.WithLabelValues(c.name, "hit").Inc()
		return entry, true
	}
	c.stats.Miss()
	metrics.CacheHits.WithLabelValues(c.name, "miss").Inc()
	return Entry{}, false
}

func (c *InstrumentedCache) Put(key string, entry Entry) {
	if c == nil || c.cache == nil {
		return
	}
	c.cache.Put(key, entry)
}
