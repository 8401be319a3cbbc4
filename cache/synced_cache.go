package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/minhng/cache-sync/types"
)

// SyncedCache is the application-facing synchronized cache. Reads are served
// from the local store; mutations apply locally first and then broadcast a
// one-message batch to peers through the configured Publisher.
//
// Broadcast failures never fail the local mutation: the local store is the
// source of truth for this node, and peers recover on the next successful
// synchronization event.
type SyncedCache struct {
	store      *SyncedStore
	publisher  Publisher
	logger     Logger
	options    Options
	closed     int32
	broadcasts int64
}

// New creates a new SyncedCache instance.
func New(opts Options) (*SyncedCache, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	// Set defaults for optional fields
	if opts.LocalCacheFactory == nil {
		opts.LocalCacheFactory = NewLFUCacheFactory(opts.LocalCacheConfig)
	}
	if opts.Logger == nil {
		opts.Logger = NewNoOpLogger()
	}

	local, err := opts.LocalCacheFactory.Create()
	if err != nil {
		return nil, err
	}

	return &SyncedCache{
		store:     NewSyncedStore(local),
		publisher: opts.Publisher,
		logger:    opts.Logger,
		options:   opts,
	}, nil
}

// Store returns the handler-facing side of this cache. The synchronization
// protocol applies received batches through it.
func (sc *SyncedCache) Store() SyncStore {
	return sc.store
}

// SetPublisher attaches the publisher used to broadcast mutations. Transports
// need the store to exist before they can be built, so wiring happens in two
// steps; call this before the cache is shared between goroutines.
func (sc *SyncedCache) SetPublisher(p Publisher) {
	sc.publisher = p
}

// Get retrieves a value from the cache.
func (sc *SyncedCache) Get(ctx context.Context, key string) (any, bool) {
	if atomic.LoadInt32(&sc.closed) != 0 {
		return nil, false
	}

	value, found := sc.store.Get(key)
	if sc.options.DebugMode {
		sc.logger.Debug("Get", "key", key, "found", found)
	}
	return value, found
}

// Set stores a value with the default TTL and propagates it to peers.
func (sc *SyncedCache) Set(ctx context.Context, key string, value any) error {
	return sc.SetWithTTL(ctx, key, value, sc.options.DefaultTTL)
}

// SetWithTTL stores a value with an explicit TTL and propagates it to peers.
func (sc *SyncedCache) SetWithTTL(ctx context.Context, key string, value any, ttl time.Duration) error {
	if atomic.LoadInt32(&sc.closed) != 0 {
		return ErrCacheClosed
	}

	now := time.Now().UTC()
	if err := sc.store.Set(ctx, key, value, ttl, now); err != nil {
		return err
	}
	if sc.options.DebugMode {
		sc.logger.Debug("Set: stored locally", "key", key, "ttl", ttl)
	}

	sc.broadcast(ctx, types.NewSet(key, value, ttl, now))
	return nil
}

// Delete removes a value from the cache and propagates the removal.
func (sc *SyncedCache) Delete(ctx context.Context, key string) error {
	if atomic.LoadInt32(&sc.closed) != 0 {
		return ErrCacheClosed
	}

	now := time.Now().UTC()
	if err := sc.store.Remove(ctx, key, now); err != nil {
		return err
	}
	if sc.options.DebugMode {
		sc.logger.Debug("Delete: removed locally", "key", key)
	}

	sc.broadcast(ctx, types.NewRemove(key, now))
	return nil
}

// DeleteByPrefix removes every entry whose key starts with prefix and
// propagates the removal.
func (sc *SyncedCache) DeleteByPrefix(ctx context.Context, prefix string) error {
	if atomic.LoadInt32(&sc.closed) != 0 {
		return ErrCacheClosed
	}

	now := time.Now().UTC()
	if err := sc.store.RemoveByPrefix(ctx, prefix, now); err != nil {
		return err
	}
	if sc.options.DebugMode {
		sc.logger.Debug("DeleteByPrefix: removed locally", "prefix", prefix)
	}

	sc.broadcast(ctx, types.NewRemoveByPrefix(prefix, now))
	return nil
}

// Clear removes all values from the cache and propagates the clear.
// Receivers apply it locally only, so a Clear never echoes back.
func (sc *SyncedCache) Clear(ctx context.Context) error {
	if atomic.LoadInt32(&sc.closed) != 0 {
		return ErrCacheClosed
	}

	if err := sc.store.Clear(ctx, false); err != nil {
		return err
	}
	if sc.options.DebugMode {
		sc.logger.Debug("Clear: cleared locally")
	}

	sc.broadcast(ctx, types.NewClear())
	return nil
}

// broadcast sends a one-message batch to peers. Failures are reported and
// swallowed; the sending side owns any corrective retry.
func (sc *SyncedCache) broadcast(ctx context.Context, msg types.Message) {
	if sc.publisher == nil {
		return
	}

	if err := sc.publisher.Publish(ctx, types.Batch{msg}); err != nil {
		if sc.options.OnError != nil {
			sc.options.OnError(err)
		}
		sc.logger.Warn("broadcast failed", "op", string(msg.Op), "key", msg.Key, "error", err)
		return
	}

	atomic.AddInt64(&sc.broadcasts, 1)
	if sc.options.DebugMode {
		sc.logger.Debug("broadcast", "op", string(msg.Op), "key", msg.Key)
	}
}

// Stats returns cache statistics.
func (sc *SyncedCache) Stats() Stats {
	stats := sc.store.Stats()
	stats.Broadcasts = atomic.LoadInt64(&sc.broadcasts)
	return stats
}

// Close closes the cache and releases all resources.
func (sc *SyncedCache) Close() error {
	if !atomic.CompareAndSwapInt32(&sc.closed, 0, 1) {
		return nil
	}

	var err error
	if sc.publisher != nil {
		err = sc.publisher.Close()
	}
	sc.store.Close()
	return err
}
