package cache

import "errors"

// ErrCacheClosed is returned when operations are performed on a closed cache.
var ErrCacheClosed = errors.New("cache is closed")

// ErrInvalidConfig is returned when the cache configuration is invalid.
var ErrInvalidConfig = errors.New("invalid cache configuration")
