package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/minhng/cache-sync/cache"
	"github.com/minhng/cache-sync/protocol"
	"github.com/minhng/cache-sync/types"
)

func newStoreAndServer(t *testing.T, store cache.SyncStore) *Server {
	t.Helper()

	srv := NewServer(ServerConfig{
		Addr:          "127.0.0.1:0",
		MaxFrameBytes: 1 << 20,
	}, store, protocol.NewCodec(nil, nil))

	if err := srv.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { srv.Close() })

	return srv
}

func newSyncedStore(t *testing.T) *cache.SyncedStore {
	t.Helper()
	local, err := cache.NewLRUCache(1000)
	if err != nil {
		t.Fatalf("Failed to create local cache: %v", err)
	}
	return cache.NewSyncedStore(local)
}

// testClient is a raw protocol client for exercising the wire directly.
type testClient struct {
	conn net.Conn
	r    *bufio.Reader
}

func dialServer(t *testing.T, addr string) *testClient {
	t.Helper()

	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("Failed to dial server: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return &testClient{conn: conn, r: bufio.NewReader(conn)}
}

func (tc *testClient) roundTrip(t *testing.T, frame []byte) string {
	t.Helper()

	tc.conn.SetDeadline(time.Now().Add(2 * time.Second))
	if _, err := tc.conn.Write(append(frame, '\n')); err != nil {
		t.Fatalf("Failed to write frame: %v", err)
	}

	line, err := tc.r.ReadString('\n')
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	return strings.TrimRight(line, "\r\n")
}

func encodeBatch(t *testing.T, batch types.Batch) []byte {
	t.Helper()

	frame, err := protocol.NewCodec(nil, nil).Encode(batch)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	return frame
}

func TestServerAppliesSetFrame(t *testing.T) {
	store := newSyncedStore(t)
	defer store.Close()
	srv := newStoreAndServer(t, store)

	client := dialServer(t, srv.Addr())
	frame := encodeBatch(t, types.Batch{
		types.NewSet("k", "v", 0, time.Now().UTC()),
	})

	response := client.roundTrip(t, frame)
	if response != protocol.Ack {
		t.Fatalf("Expected %q, got %q", protocol.Ack, response)
	}

	value, found := store.Get("k")
	if !found {
		t.Fatal("Value should be applied to the store")
	}
	if value != "v" {
		t.Fatalf("Expected 'v', got %v", value)
	}
}

func TestServerMalformedFrameKeepsConnection(t *testing.T) {
	store := newSyncedStore(t)
	defer store.Close()
	srv := newStoreAndServer(t, store)

	client := dialServer(t, srv.Addr())

	response := client.roundTrip(t, []byte("this is not a frame"))
	if !strings.HasPrefix(response, "ERR decode:") {
		t.Fatalf("Expected decode error response, got %q", response)
	}

	// The same connection processes the next well-formed frame normally.
	frame := encodeBatch(t, types.Batch{
		types.NewSet("k", "v", 0, time.Now().UTC()),
	})
	response = client.roundTrip(t, frame)
	if response != protocol.Ack {
		t.Fatalf("Expected %q after recovery, got %q", protocol.Ack, response)
	}
}

func TestServerDependentOperationsOverWire(t *testing.T) {
	store := newSyncedStore(t)
	defer store.Close()
	srv := newStoreAndServer(t, store)

	client := dialServer(t, srv.Addr())
	now := time.Now().UTC()
	frame := encodeBatch(t, types.Batch{
		types.NewSet("a", int64(1), 0, now),
		types.NewRemove("a", now),
	})

	response := client.roundTrip(t, frame)
	if response != protocol.Ack {
		t.Fatalf("Expected %q, got %q", protocol.Ack, response)
	}

	if _, found := store.Get("a"); found {
		t.Fatal("Set followed by Remove in one batch should leave no entry")
	}
}

// failingStore fails any mutation touching the trip key.
type failingStore struct {
	*cache.SyncedStore
	trip string
}

func (fs *failingStore) Set(ctx context.Context, key string, value any, ttl time.Duration, writtenAt time.Time) error {
	if key == fs.trip {
		return fmt.Errorf("store rejected key %q", key)
	}
	return fs.SyncedStore.Set(ctx, key, value, ttl, writtenAt)
}

func TestServerPartialApplyOverWire(t *testing.T) {
	inner := newSyncedStore(t)
	defer inner.Close()
	store := &failingStore{SyncedStore: inner, trip: "b"}
	srv := newStoreAndServer(t, store)

	client := dialServer(t, srv.Addr())
	now := time.Now().UTC()
	frame := encodeBatch(t, types.Batch{
		types.NewSet("a", "v1", 0, now),
		types.NewSet("b", "v2", 0, now),
		types.NewSet("c", "v3", 0, now),
	})

	response := client.roundTrip(t, frame)
	if !strings.HasPrefix(response, "ERR dispatch:") {
		t.Fatalf("Expected dispatch error response, got %q", response)
	}

	// Partial apply: the first message stands, the third never ran.
	if _, found := inner.Get("a"); !found {
		t.Fatal("First message should remain applied")
	}
	if _, found := inner.Get("c"); found {
		t.Fatal("Third message should never be applied")
	}
}

func TestServerMultipleConnections(t *testing.T) {
	store := newSyncedStore(t)
	defer store.Close()
	srv := newStoreAndServer(t, store)

	now := time.Now().UTC()
	done := make(chan struct{})

	for i := 0; i < 4; i++ {
		go func(n int) {
			defer func() { done <- struct{}{} }()

			conn, err := net.DialTimeout("tcp", srv.Addr(), 2*time.Second)
			if err != nil {
				return
			}
			defer conn.Close()

			client := &testClient{conn: conn, r: bufio.NewReader(conn)}
			frame := encodeBatch(t, types.Batch{
				types.NewSet(fmt.Sprintf("conn_%d", n), n, 0, now),
			})
			client.roundTrip(t, frame)
		}(i)
	}
	for i := 0; i < 4; i++ {
		<-done
	}

	for i := 0; i < 4; i++ {
		if _, found := store.Get(fmt.Sprintf("conn_%d", i)); !found {
			t.Fatalf("conn_%d should be applied", i)
		}
	}
}

func TestServerClose(t *testing.T) {
	store := newSyncedStore(t)
	defer store.Close()

	srv := NewServer(ServerConfig{Addr: "127.0.0.1:0"}, store, nil)
	if err := srv.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	addr := srv.Addr()

	if err := srv.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Close is idempotent.
	if err := srv.Close(); err != nil {
		t.Fatalf("Second Close failed: %v", err)
	}

	if conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond); err == nil {
		conn.Close()
		t.Fatal("Dial should fail after Close")
	}
}

func TestReadFrameTooLarge(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	go func() {
		defer client.Close()
		client.Write(make([]byte, 64*1024))
	}()

	_, err := readFrame(bufio.NewReader(server), 1024)
	if !errors.Is(err, errFrameTooLarge) {
		t.Fatalf("Expected errFrameTooLarge, got %v", err)
	}
}

func TestServerWriteDeadlineUnblocksStalledPeer(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	store := newSyncedStore(t)
	defer store.Close()

	srv := NewServer(ServerConfig{
		IdleTimeout: 200 * time.Millisecond,
	}, store, protocol.NewCodec(nil, nil))

	done := make(chan struct{})
	go func() {
		srv.serveConn(context.Background(), server)
		close(done)
	}()

	// An empty batch; the pipe is unbuffered, so the response write can
	// only complete if the peer reads it, which this peer never does.
	if _, err := client.Write([]byte("[]\n")); err != nil {
		t.Fatalf("Failed to write frame: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Connection goroutine stuck writing to a stalled peer")
	}
}

func TestPeersPublish(t *testing.T) {
	store := newSyncedStore(t)
	defer store.Close()
	srv := newStoreAndServer(t, store)

	peers := NewPeers([]string{srv.Addr()}, nil, nil, 2*time.Second)
	defer peers.Close()

	batch := types.Batch{types.NewSet("k", "v", 0, time.Now().UTC())}
	if err := peers.Publish(context.Background(), batch); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if _, found := store.Get("k"); !found {
		t.Fatal("Published value should be applied on the peer")
	}

	// The connection is reused for subsequent publishes.
	batch = types.Batch{types.NewSet("k2", "v2", 0, time.Now().UTC())}
	if err := peers.Publish(context.Background(), batch); err != nil {
		t.Fatalf("Second publish failed: %v", err)
	}
	if _, found := store.Get("k2"); !found {
		t.Fatal("Second published value should be applied")
	}
}

func TestPeersPublishDeadPeer(t *testing.T) {
	store := newSyncedStore(t)
	defer store.Close()
	srv := newStoreAndServer(t, store)

	// One live peer, one unreachable.
	peers := NewPeers([]string{srv.Addr(), "127.0.0.1:1"}, nil, nil, 500*time.Millisecond)
	defer peers.Close()

	batch := types.Batch{types.NewSet("k", "v", 0, time.Now().UTC())}
	err := peers.Publish(context.Background(), batch)
	if err == nil {
		t.Fatal("Expected error for the unreachable peer")
	}

	// The live peer still received the frame.
	if _, found := store.Get("k"); !found {
		t.Fatal("Live peer should be updated despite the dead one")
	}
}

func TestPeersPublishRejectedFrame(t *testing.T) {
	inner := newSyncedStore(t)
	defer inner.Close()
	store := &failingStore{SyncedStore: inner, trip: "boom"}
	srv := newStoreAndServer(t, store)

	peers := NewPeers([]string{srv.Addr()}, nil, nil, 2*time.Second)
	defer peers.Close()

	batch := types.Batch{types.NewSet("boom", "v", 0, time.Now().UTC())}
	if err := peers.Publish(context.Background(), batch); err == nil {
		t.Fatal("Expected error when the peer rejects the frame")
	}
}
