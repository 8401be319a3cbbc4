package cachesync

import "github.com/minhng/cache-sync/cache"

// ErrCacheClosed is returned when operations are performed on a closed cache.
var ErrCacheClosed = cache.ErrCacheClosed

// ErrInvalidConfig is returned when the node configuration is invalid.
var ErrInvalidConfig = cache.ErrInvalidConfig
