package cache

import (
	"context"
	"time"
)

// Cache is the key-value surface the arena needs from Redis.
// Get returns "" with a nil error for a missing key.
type Cache interface {
	BasicOps
	SetOps
	PipelineOps

	// Ping verifies the cache connection is alive
	Ping(ctx context.Context) error

	// Close closes the cache connection
	Close() error
}

// BasicOps defines basic key-value operations
type BasicOps interface {
	Get(ctx context.Context, key string) (string, error)

	// Set stores a key-value pair; a zero ttl never expires.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	Del(ctx context.Context, keys ...string) error

	// Exists returns how many of keys exist.
	Exists(ctx context.Context, keys ...string) (int64, error)

	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// SetOps defines set operations
type SetOps interface {
	SAdd(ctx context.Context, key string, members ...interface{}) error
	SRem(ctx context.Context, key string, members ...interface{}) error
	SMembers(ctx context.Context, key string) ([]string, error)
}

// PipelineOps batches commands into one round trip.
type PipelineOps interface {
	Pipeline(ctx context.Context, fn func(pipe Pipeliner) error) error
}

// Pipeliner queues commands; they are sent when the Pipeline callback returns nil.
type Pipeliner interface {
	Set(key string, value interface{}, ttl time.Duration) error
	Del(keys ...string) error
	SAdd(key string, members ...interface{}) error
	SRem(key string, members ...interface{}) error
}
