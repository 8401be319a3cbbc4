package cache

import (
	"sync/atomic"

	"github.com/dgraph-io/ristretto"
)

// LFUCacheFactory creates Ristretto cache instances.
type LFUCacheFactory struct {
	config LocalCacheConfig
}

// NewLFUCacheFactory creates a new Ristretto cache factory.
func NewLFUCacheFactory(config LocalCacheConfig) LocalCacheFactory {
	return &LFUCacheFactory{config: config}
}

// Create creates a new Ristretto cache instance.
func (rcf *LFUCacheFactory) Create() (LocalCache, error) {
	return NewLFUCache(rcf.config)
}

// LFUCache is a local cache implementation backed by Ristretto's
// cost-based admission and TinyLFU eviction.
type LFUCache struct {
	cache     *ristretto.Cache
	onEvict   func(key string, value any)
	hits      int64
	misses    int64
	evictions int64
}

// NewLFUCache creates a new Ristretto-based local cache.
func NewLFUCache(config LocalCacheConfig) (*LFUCache, error) {
	rc := &LFUCache{}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        config.NumCounters,
		MaxCost:            config.MaxCost,
		BufferItems:        config.BufferItems,
		IgnoreInternalCost: config.IgnoreInternalCost,
		OnEvict: func(item *ristretto.Item) {
			atomic.AddInt64(&rc.evictions, 1)
			// Ristretto only keeps the key's hash, so the hook gets
			// the stored value and an empty key.
			if rc.onEvict != nil {
				rc.onEvict("", item.Value)
			}
		},
	})
	if err != nil {
		return nil, err
	}

	rc.cache = cache
	return rc, nil
}

// Get retrieves a value from the local cache.
func (rc *LFUCache) Get(key string) (any, bool) {
	value, found := rc.cache.Get(key)
	if found {
		atomic.AddInt64(&rc.hits, 1)
	} else {
		atomic.AddInt64(&rc.misses, 1)
	}
	return value, found
}

// Set stores a value in the local cache. Admission is asynchronous; Wait
// flushes the set buffers so the entry is visible to an immediate Get, which
// the synchronization path relies on when applying received batches.
func (rc *LFUCache) Set(key string, value any, cost int64) bool {
	ok := rc.cache.Set(key, value, cost)
	if ok {
		rc.cache.Wait()
	}
	return ok
}

// Delete removes a value from the local cache.
func (rc *LFUCache) Delete(key string) {
	rc.cache.Del(key)
}

// Clear removes all values from the local cache.
func (rc *LFUCache) Clear() {
	rc.cache.Clear()
}

// Close closes the local cache.
func (rc *LFUCache) Close() {
	rc.cache.Close()
}

// SetEvictionHook registers fn for dropped entries. Ristretto fires it from
// its internal processing goroutine, so fn must not block.
func (rc *LFUCache) SetEvictionHook(fn func(key string, value any)) {
	rc.onEvict = fn
}

// Metrics returns cache metrics.
func (rc *LFUCache) Metrics() LocalCacheMetrics {
	return LocalCacheMetrics{
		Hits:      atomic.LoadInt64(&rc.hits),
		Misses:    atomic.LoadInt64(&rc.misses),
		Evictions: atomic.LoadInt64(&rc.evictions),
	}
}
