package cache

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Entry is the record a SyncedStore keeps in the local cache for each key.
// The key is stored in the record as well, so an eviction reported by a
// backend that only knows the value can still be traced back to its key.
type Entry struct {
	Key       string
	Value     any
	WrittenAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the entry is expired at the given time.
// The zero ExpiresAt means no expiration.
func (e Entry) Expired(now time.Time) bool {
	if e.ExpiresAt.IsZero() {
		return false
	}
	return now.After(e.ExpiresAt)
}

// SyncedStore implements SyncStore over a pluggable LocalCache with
// last-writer-wins conflict resolution.
//
// Values live in the local cache as Entry records. Alongside the cache the
// store keeps an index of each key's write timestamp; the index is what makes
// RemoveByPrefix possible over cache backends that cannot enumerate their
// keys, and it answers the LWW comparison without fetching the entry.
//
// A store-level mutex serializes mutations. This is the single
// cross-connection serialization point the synchronization protocol relies
// on: handlers on different connections call in concurrently and take no
// locks of their own.
type SyncedStore struct {
	mu    sync.RWMutex
	local LocalCache
	index map[string]time.Time

	hits     int64
	misses   int64
	expired  int64
	applied  int64
	rejected int64
}

// NewSyncedStore creates a SyncedStore over the given local cache.
func NewSyncedStore(local LocalCache) *SyncedStore {
	ss := &SyncedStore{
		local: local,
		index: make(map[string]time.Time),
	}
	local.SetEvictionHook(ss.onLocalEvict)
	return ss
}

// onLocalEvict keeps the index from outliving entries the local cache drops
// on its own (capacity pressure). Backends fire the hook while the store
// mutex may already be held on this goroutine, so pruning runs on a fresh
// one.
func (ss *SyncedStore) onLocalEvict(key string, value any) {
	if key == "" {
		entry, ok := value.(Entry)
		if !ok {
			return
		}
		key = entry.Key
	}
	go ss.pruneIndex(key)
}

// pruneIndex drops key from the index unless the local cache holds it
// again, which means a newer Set won the race against the eviction.
func (ss *SyncedStore) pruneIndex(key string) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if _, found := ss.local.Get(key); found {
		return
	}
	delete(ss.index, key)
}

// Get retrieves the value for key. Expired entries are evicted lazily and
// reported as missing.
func (ss *SyncedStore) Get(key string) (any, bool) {
	ss.mu.RLock()
	raw, found := ss.local.Get(key)
	ss.mu.RUnlock()

	if !found {
		atomic.AddInt64(&ss.misses, 1)
		return nil, false
	}

	entry, ok := raw.(Entry)
	if !ok {
		atomic.AddInt64(&ss.misses, 1)
		return nil, false
	}

	if entry.Expired(time.Now()) {
		ss.mu.Lock()
		ss.local.Delete(key)
		delete(ss.index, key)
		ss.mu.Unlock()

		atomic.AddInt64(&ss.expired, 1)
		atomic.AddInt64(&ss.misses, 1)
		return nil, false
	}

	atomic.AddInt64(&ss.hits, 1)
	return entry.Value, true
}

// Len returns the number of indexed keys.
func (ss *SyncedStore) Len() int {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return len(ss.index)
}

// Set upserts the entry for key.
//
// Rules:
//   - If the key does not exist, insert it.
//   - If the key exists, overwrite only if writtenAt is not older than the
//     stored entry's own write time.
func (ss *SyncedStore) Set(ctx context.Context, key string, value any, ttl time.Duration, writtenAt time.Time) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if prev, exists := ss.index[key]; exists && writtenAt.Before(prev) {
		atomic.AddInt64(&ss.rejected, 1)
		return nil
	}

	entry := Entry{Key: key, Value: value, WrittenAt: writtenAt}
	if ttl > 0 {
		entry.ExpiresAt = time.Now().Add(ttl)
	}

	ss.local.Set(key, entry, 1)
	ss.index[key] = writtenAt
	atomic.AddInt64(&ss.applied, 1)
	return nil
}

// Remove removes the entry for key. A removal older than the stored entry's
// write time is ignored.
func (ss *SyncedStore) Remove(ctx context.Context, key string, writtenAt time.Time) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	prev, exists := ss.index[key]
	if !exists {
		return nil
	}
	if writtenAt.Before(prev) {
		atomic.AddInt64(&ss.rejected, 1)
		return nil
	}

	ss.local.Delete(key)
	delete(ss.index, key)
	atomic.AddInt64(&ss.applied, 1)
	return nil
}

// RemoveByPrefix removes every entry whose key starts with prefix. The LWW
// check runs per entry: keys written after writtenAt survive.
func (ss *SyncedStore) RemoveByPrefix(ctx context.Context, prefix string, writtenAt time.Time) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	for key, prev := range ss.index {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if writtenAt.Before(prev) {
			atomic.AddInt64(&ss.rejected, 1)
			continue
		}
		ss.local.Delete(key)
		delete(ss.index, key)
		atomic.AddInt64(&ss.applied, 1)
	}
	return nil
}

// Clear evicts every entry unconditionally.
//
// A bare SyncedStore broadcasts nothing itself, so suppressRebroadcast has no
// effect here; the flag is part of the SyncStore contract and is honored by
// the layers that do publish (a received Clear is applied with the flag set
// and never propagates further).
func (ss *SyncedStore) Clear(ctx context.Context, suppressRebroadcast bool) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	ss.local.Clear()
	ss.index = make(map[string]time.Time)
	atomic.AddInt64(&ss.applied, 1)
	return nil
}

// Close closes the underlying local cache.
func (ss *SyncedStore) Close() {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.local.Close()
}

// Stats returns store statistics.
func (ss *SyncedStore) Stats() Stats {
	return Stats{
		Hits:     atomic.LoadInt64(&ss.hits),
		Misses:   atomic.LoadInt64(&ss.misses),
		Expired:  atomic.LoadInt64(&ss.expired),
		Applied:  atomic.LoadInt64(&ss.applied),
		Rejected: atomic.LoadInt64(&ss.rejected),
	}
}
