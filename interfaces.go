package cachesync

import (
	"github.com/minhng/cache-sync/cache"
	"github.com/minhng/cache-sync/types"
)

// Logger is an alias for cache.Logger.
type Logger = cache.Logger

// Marshaller is an alias for cache.Marshaller.
type Marshaller = cache.Marshaller

// LocalCache is an alias for cache.LocalCache.
type LocalCache = cache.LocalCache

// LocalCacheMetrics is an alias for cache.LocalCacheMetrics.
type LocalCacheMetrics = cache.LocalCacheMetrics

// LocalCacheFactory is an alias for cache.LocalCacheFactory.
type LocalCacheFactory = cache.LocalCacheFactory

// LocalCacheConfig is an alias for cache.LocalCacheConfig.
type LocalCacheConfig = cache.LocalCacheConfig

// SyncStore is an alias for cache.SyncStore.
type SyncStore = cache.SyncStore

// Publisher is an alias for cache.Publisher.
type Publisher = cache.Publisher

// Cache is an alias for the cache.Cache interface.
type Cache = cache.Cache

// Stats is an alias for cache.Stats.
type Stats = cache.Stats

// Operation is an alias for types.Operation.
type Operation = types.Operation

// Message is an alias for types.Message.
type Message = types.Message

// Batch is an alias for types.Batch.
type Batch = types.Batch

// Entry is an alias for types.Entry.
type Entry = types.Entry

// Operation tags of the synchronization protocol.
const (
	OpClear          = types.OpClear
	OpRemove         = types.OpRemove
	OpSet            = types.OpSet
	OpRemoveByPrefix = types.OpRemoveByPrefix
)

// DefaultLocalCacheConfig returns default local cache configuration for Ristretto.
func DefaultLocalCacheConfig() LocalCacheConfig {
	return cache.DefaultLocalCacheConfig()
}
