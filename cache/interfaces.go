package cache

import (
	"context"
	"time"

	"github.com/minhng/cache-sync/types"
)

// Logger defines the interface for logging in the cache synchronization layer.
// It doubles as the observability sink for protocol failures: handlers report
// the error category, message, and originating peer as key-value args,
// fire-and-forget.
type Logger interface {
	// Debug logs a debug message.
	Debug(msg string, args ...any)

	// Info logs an info message.
	Info(msg string, args ...any)

	// Warn logs a warning message.
	Warn(msg string, args ...any)

	// Error logs an error message.
	Error(msg string, args ...any)
}

// Marshaller defines the interface for serializing payload values.
type Marshaller interface {
	// Marshal serializes a value to bytes.
	Marshal(v any) ([]byte, error)

	// Unmarshal deserializes a value from bytes.
	Unmarshal(data []byte, v any) error
}

// LocalCache defines the interface for local in-process value storage.
type LocalCache interface {
	// Get retrieves a value from the local cache.
	Get(key string) (any, bool)

	// Set stores a value in the local cache.
	Set(key string, value any, cost int64) bool

	// Delete removes a value from the local cache.
	Delete(key string)

	// Clear removes all values from the local cache.
	Clear()

	// Close closes the local cache.
	Close()

	// Metrics returns cache metrics.
	Metrics() LocalCacheMetrics

	// SetEvictionHook registers fn, invoked whenever the cache drops an
	// entry. Implementations may fire it from inside Set or Delete, or
	// from internal goroutines, so fn must not call back into the cache
	// synchronously. Backends that track entries by hash rather than key
	// pass an empty key and the stored value. Register before the cache
	// is shared between goroutines.
	SetEvictionHook(fn func(key string, value any))
}

// LocalCacheMetrics represents local cache metrics.
type LocalCacheMetrics struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int64
}

// LocalCacheFactory defines the interface for creating local cache implementations.
type LocalCacheFactory interface {
	// Create creates a new local cache instance.
	Create() (LocalCache, error)
}

// SyncStore is the store contract consumed by the synchronization protocol.
// These are exactly the four operations a handler invokes while applying a
// received batch. Implementations must be safe to call concurrently from many
// independent connections; the protocol layer takes no locks of its own.
//
// Remove, Set, and RemoveByPrefix receive the origin's write timestamp and
// resolve conflicts last-writer-wins: an incoming mutation older than the
// stored entry's own write time is silently ignored. Removals are not
// tombstoned: once a key is gone its timestamp is gone too, and a staler
// Set arriving afterwards recreates the entry.
type SyncStore interface {
	// Clear evicts every entry. When suppressRebroadcast is true the call
	// applies locally only and must not be propagated to peers; handlers
	// always pass true so a received Clear cannot start a broadcast storm.
	Clear(ctx context.Context, suppressRebroadcast bool) error

	// Remove removes the entry for key.
	Remove(ctx context.Context, key string, writtenAt time.Time) error

	// Set upserts the entry for key with the given value and TTL.
	Set(ctx context.Context, key string, value any, ttl time.Duration, writtenAt time.Time) error

	// RemoveByPrefix removes every entry whose key starts with prefix.
	RemoveByPrefix(ctx context.Context, prefix string, writtenAt time.Time) error
}

// Publisher broadcasts a batch of synchronization messages to peer nodes.
// Delivery is best effort; retry and backoff belong to the sending side's
// implementation, never to the receiving protocol.
type Publisher interface {
	// Publish sends the batch to every peer.
	Publish(ctx context.Context, batch types.Batch) error

	// Close releases the publisher's connections.
	Close() error
}

// Cache defines the application-facing interface of a synchronized cache.
// Mutations apply locally and broadcast a matching synchronization message
// to peers.
type Cache interface {
	// Get retrieves a value from the cache.
	// Returns the value and true if found, nil and false otherwise.
	Get(ctx context.Context, key string) (any, bool)

	// Set stores a value with the default TTL and propagates it to peers.
	Set(ctx context.Context, key string, value any) error

	// SetWithTTL stores a value with an explicit TTL and propagates it to peers.
	SetWithTTL(ctx context.Context, key string, value any, ttl time.Duration) error

	// Delete removes a value from the cache and propagates the removal.
	Delete(ctx context.Context, key string) error

	// DeleteByPrefix removes every entry whose key starts with prefix and
	// propagates the removal.
	DeleteByPrefix(ctx context.Context, prefix string) error

	// Clear removes all values from the cache and propagates the clear.
	Clear(ctx context.Context) error

	// Stats returns cache statistics.
	Stats() Stats

	// Close closes the cache and releases all resources.
	Close() error
}

// Stats represents synchronized cache statistics.
type Stats struct {
	Hits       int64
	Misses     int64
	Expired    int64
	Applied    int64
	Rejected   int64
	Broadcasts int64
}
