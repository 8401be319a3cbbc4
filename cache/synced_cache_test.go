package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/minhng/cache-sync/types"
)

// fakePublisher records broadcast batches.
type fakePublisher struct {
	batches []types.Batch
	err     error
	closed  bool
}

func (fp *fakePublisher) Publish(ctx context.Context, batch types.Batch) error {
	if fp.err != nil {
		return fp.err
	}
	fp.batches = append(fp.batches, batch)
	return nil
}

func (fp *fakePublisher) Close() error {
	fp.closed = true
	return nil
}

func newTestCache(t *testing.T, pub Publisher) *SyncedCache {
	t.Helper()

	opts := DefaultOptions()
	opts.NodeID = "test-node"
	opts.LocalCacheFactory = NewLRUCacheFactory(1000)
	opts.Publisher = pub

	sc, err := New(opts)
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	return sc
}

func TestSyncedCacheSetGet(t *testing.T) {
	sc := newTestCache(t, nil)
	defer sc.Close()

	ctx := context.Background()
	if err := sc.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	value, found := sc.Get(ctx, "k")
	if !found {
		t.Fatal("Value should be found")
	}
	if value != "v" {
		t.Fatalf("Expected 'v', got %v", value)
	}
}

func TestSyncedCacheSetBroadcasts(t *testing.T) {
	pub := &fakePublisher{}
	sc := newTestCache(t, pub)
	defer sc.Close()

	if err := sc.SetWithTTL(context.Background(), "k", "v", time.Minute); err != nil {
		t.Fatalf("SetWithTTL failed: %v", err)
	}

	if len(pub.batches) != 1 {
		t.Fatalf("Expected 1 broadcast, got %d", len(pub.batches))
	}
	batch := pub.batches[0]
	if len(batch) != 1 {
		t.Fatalf("Expected one-message batch, got %d", len(batch))
	}
	msg := batch[0]
	if msg.Op != types.OpSet || msg.Key != "k" {
		t.Fatalf("Unexpected message: %+v", msg)
	}
	if msg.Entry == nil || msg.Entry.Value != "v" || msg.Entry.TTL != time.Minute {
		t.Fatalf("Unexpected entry: %+v", msg.Entry)
	}
	if msg.Entry.WrittenAt.IsZero() {
		t.Fatal("Broadcast message should carry a write timestamp")
	}
}

func TestSyncedCacheDeleteBroadcasts(t *testing.T) {
	pub := &fakePublisher{}
	sc := newTestCache(t, pub)
	defer sc.Close()

	ctx := context.Background()
	sc.Set(ctx, "k", "v")

	if err := sc.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if _, found := sc.Get(ctx, "k"); found {
		t.Fatal("Deleted value should not be found")
	}

	if len(pub.batches) != 2 {
		t.Fatalf("Expected 2 broadcasts, got %d", len(pub.batches))
	}
	if pub.batches[1][0].Op != types.OpRemove {
		t.Fatalf("Expected remove broadcast, got %q", pub.batches[1][0].Op)
	}
}

func TestSyncedCacheDeleteByPrefixBroadcasts(t *testing.T) {
	pub := &fakePublisher{}
	sc := newTestCache(t, pub)
	defer sc.Close()

	ctx := context.Background()
	sc.Set(ctx, "product_1", 1)
	sc.Set(ctx, "product_2", 2)
	sc.Set(ctx, "order_1", 3)

	if err := sc.DeleteByPrefix(ctx, "product_"); err != nil {
		t.Fatalf("DeleteByPrefix failed: %v", err)
	}

	if _, found := sc.Get(ctx, "product_1"); found {
		t.Fatal("product_1 should be removed")
	}
	if _, found := sc.Get(ctx, "order_1"); !found {
		t.Fatal("order_1 should survive")
	}

	last := pub.batches[len(pub.batches)-1][0]
	if last.Op != types.OpRemoveByPrefix || last.Key != "product_" {
		t.Fatalf("Unexpected broadcast: %+v", last)
	}
}

func TestSyncedCacheClearBroadcasts(t *testing.T) {
	pub := &fakePublisher{}
	sc := newTestCache(t, pub)
	defer sc.Close()

	ctx := context.Background()
	sc.Set(ctx, "k", "v")

	if err := sc.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	if _, found := sc.Get(ctx, "k"); found {
		t.Fatal("Cleared value should not be found")
	}

	last := pub.batches[len(pub.batches)-1][0]
	if last.Op != types.OpClear {
		t.Fatalf("Expected clear broadcast, got %q", last.Op)
	}
	if last.Entry != nil {
		t.Fatalf("Clear message should carry no entry, got %+v", last.Entry)
	}
}

func TestSyncedCacheBroadcastFailureIsNotFatal(t *testing.T) {
	var reported error
	pub := &fakePublisher{err: errors.New("peer unreachable")}

	opts := DefaultOptions()
	opts.NodeID = "test-node"
	opts.LocalCacheFactory = NewLRUCacheFactory(1000)
	opts.Publisher = pub
	opts.OnError = func(err error) { reported = err }

	sc, err := New(opts)
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	defer sc.Close()

	ctx := context.Background()
	if err := sc.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("Set should not fail on broadcast error: %v", err)
	}

	// The local mutation stands.
	if _, found := sc.Get(ctx, "k"); !found {
		t.Fatal("Value should be stored locally despite the broadcast failure")
	}
	if reported == nil {
		t.Fatal("Broadcast failure should be reported via OnError")
	}
}

func TestSyncedCacheClosed(t *testing.T) {
	sc := newTestCache(t, &fakePublisher{})

	if err := sc.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	ctx := context.Background()
	if err := sc.Set(ctx, "k", "v"); !errors.Is(err, ErrCacheClosed) {
		t.Fatalf("Expected ErrCacheClosed, got %v", err)
	}
	if err := sc.Delete(ctx, "k"); !errors.Is(err, ErrCacheClosed) {
		t.Fatalf("Expected ErrCacheClosed, got %v", err)
	}
	if err := sc.Clear(ctx); !errors.Is(err, ErrCacheClosed) {
		t.Fatalf("Expected ErrCacheClosed, got %v", err)
	}
	if _, found := sc.Get(ctx, "k"); found {
		t.Fatal("Get on a closed cache should miss")
	}

	// Close is idempotent.
	if err := sc.Close(); err != nil {
		t.Fatalf("Second Close failed: %v", err)
	}
}

func TestSyncedCacheClosePublisher(t *testing.T) {
	pub := &fakePublisher{}
	sc := newTestCache(t, pub)

	sc.Close()

	if !pub.closed {
		t.Fatal("Close should close the publisher")
	}
}

func TestSyncedCacheStats(t *testing.T) {
	pub := &fakePublisher{}
	sc := newTestCache(t, pub)
	defer sc.Close()

	ctx := context.Background()
	sc.Set(ctx, "k", "v")
	sc.Get(ctx, "k")
	sc.Get(ctx, "missing")

	stats := sc.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Fatalf("Unexpected hit/miss counts: %+v", stats)
	}
	if stats.Broadcasts != 1 {
		t.Fatalf("Expected 1 broadcast, got %d", stats.Broadcasts)
	}
}

func TestSyncedCacheInvalidOptions(t *testing.T) {
	opts := DefaultOptions()
	opts.NodeID = ""

	if _, err := New(opts); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Expected ErrInvalidConfig, got %v", err)
	}
}
