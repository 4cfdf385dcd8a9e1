// ABOUTME: Key-value cache port shared by the Redis and in-memory backends
// ABOUTME: String values with per-key TTL; misses are reported as ErrMiss

package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// ErrClosed is returned by a backend after Close.
var ErrClosed = errors.New("cache: closed")

// Backend is the minimal key-value contract the cache layer is built on.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Get returns the value for key or ErrMiss.
	Get(ctx context.Context, key string) (string, error)
	// Set stores value at key. A ttl <= 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Del removes keys and returns how many existed.
	Del(ctx context.Context, keys ...string) (int64, error)
	// DelPrefix removes every key starting with prefix.
	DelPrefix(ctx context.Context, prefix string) (int64, error)
	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error
	// Close releases resources held by the backend.
	Close() error
}
