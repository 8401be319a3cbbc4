package transport

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"github.com/minhng/cache-sync/cache"
	"github.com/minhng/cache-sync/protocol"
	"github.com/minhng/cache-sync/types"
)

// redisEnvelope wraps one frame on the pub/sub channel. The sender field
// lets a node skip its own broadcasts, since pub/sub echoes to every
// subscriber including the publisher.
type redisEnvelope struct {
	Sender string          `json:"sender"`
	Frame  json.RawMessage `json:"frame"`
}

// RedisTransport carries synchronization frames over a Redis Pub/Sub
// channel instead of direct peer connections. It is both sides at once:
// Publish broadcasts this node's mutations, and a subscription loop applies
// frames received from other nodes.
//
// Pub/sub has no reply path, so received frames are acknowledged nowhere.
// Failures are still reported through the logger with their category, and
// delivery remains at-most-once, which the protocol already assumes.
type RedisTransport struct {
	client  *redis.Client
	channel string
	nodeID  string
	store   cache.SyncStore
	codec   *protocol.Codec
	logger  cache.Logger
	pubsub  *redis.PubSub
	done    chan struct{}
	wg      sync.WaitGroup
	closed  int32
}

// NewRedisTransport creates a transport over the given client and channel.
// nodeID identifies this node as a sender; frames it published are not
// re-applied locally.
func NewRedisTransport(client *redis.Client, channel, nodeID string, store cache.SyncStore, codec *protocol.Codec, logger cache.Logger) *RedisTransport {
	if codec == nil {
		codec = protocol.NewCodec(nil, nil)
	}
	if logger == nil {
		logger = cache.NewNoOpLogger()
	}
	return &RedisTransport{
		client:  client,
		channel: channel,
		nodeID:  nodeID,
		store:   store,
		codec:   codec,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Subscribe starts listening for frames from other nodes.
func (rt *RedisTransport) Subscribe(ctx context.Context) error {
	rt.pubsub = rt.client.Subscribe(ctx, rt.channel)

	rt.wg.Add(1)
	go rt.listen()

	return nil
}

// Publish encodes the batch and broadcasts it on the channel.
func (rt *RedisTransport) Publish(ctx context.Context, batch types.Batch) error {
	frame, err := rt.codec.Encode(batch)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(redisEnvelope{Sender: rt.nodeID, Frame: frame})
	if err != nil {
		return err
	}

	return rt.client.Publish(ctx, rt.channel, payload).Err()
}

// Close stops the subscription loop and closes the subscription.
// Safe to call more than once.
func (rt *RedisTransport) Close() error {
	if !atomic.CompareAndSwapInt32(&rt.closed, 0, 1) {
		return nil
	}

	close(rt.done)
	rt.wg.Wait()

	if rt.pubsub != nil {
		return rt.pubsub.Close()
	}
	return nil
}

// listen applies frames received on the channel.
func (rt *RedisTransport) listen() {
	defer rt.wg.Done()

	if rt.pubsub == nil {
		return
	}

	ch := rt.pubsub.Channel()

	for {
		select {
		case <-rt.done:
			return
		case msg := <-ch:
			if msg == nil {
				return
			}

			var env redisEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				rt.logger.Error("frame failed",
					"category", string(protocol.CategoryDecode),
					"error", "malformed envelope: "+err.Error(),
					"peer", rt.channel,
				)
				continue
			}

			// Don't re-apply your own broadcasts
			if env.Sender == rt.nodeID {
				continue
			}

			handler := protocol.NewHandler(rt.store, rt.codec, rt.logger, env.Sender)
			handler.HandleFrame(context.Background(), env.Frame)
		}
	}
}
