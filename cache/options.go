package cache

import (
	"time"
)

// LocalCacheConfig configures the local cache.
type LocalCacheConfig struct {
	// NumCounters is the number of counters for the cache (Ristretto only).
	// Recommended: 10 * the expected number of entries.
	NumCounters int64

	// MaxCost is the maximum cost of items in the cache (Ristretto only).
	MaxCost int64

	// BufferItems is the number of items to buffer before eviction (Ristretto only).
	// Recommended: 64
	BufferItems int64

	// IgnoreInternalCost ignores the internal cost of items (Ristretto only).
	IgnoreInternalCost bool

	// MaxSize is the maximum number of items in the cache (LRU only).
	MaxSize int
}

// Options configures a SyncedCache instance.
type Options struct {
	// NodeID is the unique identifier for this node/instance.
	// It names this node as the origin of broadcast mutations.
	NodeID string

	// LocalCacheConfig configures the local cache.
	LocalCacheConfig LocalCacheConfig

	// LocalCacheFactory is the factory for creating local cache instances.
	// If nil, defaults to the Ristretto factory.
	LocalCacheFactory LocalCacheFactory

	// Publisher broadcasts mutations to peer nodes.
	// If nil, mutations apply locally only.
	Publisher Publisher

	// Logger receives debug logging and failure reports.
	// If nil, defaults to the no-op logger.
	Logger Logger

	// DefaultTTL is the TTL applied by Set. Zero means no expiration.
	DefaultTTL time.Duration

	// DebugMode enables debug logging.
	DebugMode bool

	// OnError is called when an error occurs in background operations.
	OnError func(error)
}

// DefaultOptions returns default cache options.
func DefaultOptions() Options {
	return Options{
		NodeID:           "node-1",
		LocalCacheConfig: DefaultLocalCacheConfig(),
		DefaultTTL:       0,
		DebugMode:        false,
	}
}

// DefaultLocalCacheConfig returns default local cache configuration.
func DefaultLocalCacheConfig() LocalCacheConfig {
	return LocalCacheConfig{
		NumCounters:        1e7,     // 10 million
		MaxCost:            1 << 30, // 1GB
		BufferItems:        64,
		IgnoreInternalCost: false,
		MaxSize:            10000,
	}
}

// Validate validates the options.
func (o *Options) Validate() error {
	if o.NodeID == "" {
		return ErrInvalidConfig
	}
	if o.LocalCacheFactory == nil {
		if o.LocalCacheConfig.NumCounters <= 0 {
			return ErrInvalidConfig
		}
		if o.LocalCacheConfig.MaxCost <= 0 {
			return ErrInvalidConfig
		}
		if o.LocalCacheConfig.BufferItems <= 0 {
			return ErrInvalidConfig
		}
	}
	if o.DefaultTTL < 0 {
		return ErrInvalidConfig
	}
	return nil
}
