package cachesync

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/minhng/cache-sync/cache"
	"github.com/minhng/cache-sync/protocol"
	"github.com/minhng/cache-sync/transport"
)

// Config configures a synchronized cache node.
type Config struct {
	// NodeID is the unique identifier for this node/instance.
	NodeID string

	// ListenAddr is the TCP address the synchronization listener binds,
	// e.g. "0.0.0.0:7400". Empty disables serving (send-only node).
	ListenAddr string

	// Peers are the peer listeners mutations are broadcast to.
	// Empty disables broadcasting (receive-only node).
	Peers []string

	// RedisAddr selects the Redis Pub/Sub fabric instead of direct TCP
	// peering. Mutually exclusive with ListenAddr/Peers.
	RedisAddr string

	// RedisPassword is the optional Redis password.
	RedisPassword string

	// RedisDB is the Redis database number.
	RedisDB int

	// Channel is the pub/sub channel frames travel on (Redis fabric only).
	Channel string

	// IdleTimeout closes an inbound connection idle for this long.
	IdleTimeout time.Duration

	// MaxFrameBytes caps the size of one inbound frame. Zero means no cap.
	MaxFrameBytes int

	// MaxConns caps concurrently served inbound connections. Zero means no cap.
	MaxConns int

	// PublishTimeout bounds each peer dial, write, and acknowledgment read.
	PublishTimeout time.Duration

	// DefaultTTL is the TTL applied by Set. Zero means no expiration.
	DefaultTTL time.Duration

	// LocalCacheConfig configures the local cache.
	LocalCacheConfig cache.LocalCacheConfig

	// LocalCacheFactory is the factory for creating local cache instances.
	// If nil, defaults to the Ristretto factory.
	LocalCacheFactory cache.LocalCacheFactory

	// Marshaller serializes frames and payload values.
	// If nil, defaults to the JSON marshaller.
	Marshaller cache.Marshaller

	// Logger receives debug logging and failure reports.
	// If nil, defaults to the no-op logger.
	Logger cache.Logger

	// DebugMode enables debug logging.
	DebugMode bool

	// OnError is called when an error occurs in background operations.
	OnError func(error)
}

// DefaultConfig returns default node configuration.
func DefaultConfig() Config {
	return Config{
		NodeID:           "node-1",
		Channel:          "cache:sync",
		IdleTimeout:      5 * time.Minute,
		MaxFrameBytes:    8 << 20, // 8MB
		PublishTimeout:   5 * time.Second,
		LocalCacheConfig: cache.DefaultLocalCacheConfig(),
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return ErrInvalidConfig
	}
	if c.RedisAddr != "" {
		if c.ListenAddr != "" || len(c.Peers) > 0 {
			return ErrInvalidConfig
		}
		if c.Channel == "" {
			return ErrInvalidConfig
		}
	}
	return nil
}

// Node is one synchronized cache instance: the application-facing cache plus
// the transports keeping it consistent with its peers.
type Node struct {
	cache       *cache.SyncedCache
	codec       *protocol.Codec
	server      *transport.Server
	redisClient *redis.Client
}

// New creates a node from the configuration and starts its transports.
func New(cfg Config) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	codec := protocol.NewCodec(cfg.Marshaller, protocol.NewValueRegistry())

	sc, err := cache.New(cache.Options{
		NodeID:            cfg.NodeID,
		LocalCacheConfig:  cfg.LocalCacheConfig,
		LocalCacheFactory: cfg.LocalCacheFactory,
		Logger:            cfg.Logger,
		DefaultTTL:        cfg.DefaultTTL,
		DebugMode:         cfg.DebugMode,
		OnError:           cfg.OnError,
	})
	if err != nil {
		return nil, err
	}

	node := &Node{cache: sc, codec: codec}

	if cfg.RedisAddr != "" {
		if err := node.startRedis(cfg); err != nil {
			sc.Close()
			return nil, err
		}
		return node, nil
	}

	if cfg.ListenAddr != "" {
		node.server = transport.NewServer(transport.ServerConfig{
			Addr:          cfg.ListenAddr,
			IdleTimeout:   cfg.IdleTimeout,
			MaxFrameBytes: cfg.MaxFrameBytes,
			MaxConns:      cfg.MaxConns,
			Logger:        cfg.Logger,
		}, sc.Store(), codec)

		if err := node.server.Start(); err != nil {
			sc.Close()
			return nil, err
		}
	}

	if len(cfg.Peers) > 0 {
		sc.SetPublisher(transport.NewPeers(cfg.Peers, codec, cfg.Logger, cfg.PublishTimeout))
	}

	return node, nil
}

// startRedis wires the pub/sub fabric: one transport acting as both the
// node's publisher and its subscription loop.
func (n *Node) startRedis(cfg Config) error {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return err
	}

	rt := transport.NewRedisTransport(client, cfg.Channel, cfg.NodeID, n.cache.Store(), n.codec, cfg.Logger)
	if err := rt.Subscribe(ctx); err != nil {
		client.Close()
		return err
	}

	n.redisClient = client
	n.cache.SetPublisher(rt)
	return nil
}

// Cache returns the application-facing cache.
func (n *Node) Cache() cache.Cache {
	return n.cache
}

// Registry returns the node's value registry, for allow-listing custom
// payload types before any frames are exchanged.
func (n *Node) Registry() *protocol.ValueRegistry {
	return n.codec.Registry()
}

// Addr returns the bound listen address, or "" when the node is not serving.
func (n *Node) Addr() string {
	if n.server == nil {
		return ""
	}
	return n.server.Addr()
}

// Close stops the transports and closes the cache.
func (n *Node) Close() error {
	if n.server != nil {
		n.server.Close()
	}

	err := n.cache.Close()

	if n.redisClient != nil {
		n.redisClient.Close()
	}
	return err
}
