// Package cache holds the shared side tables for embeddings and lexical corpus
// statistics, over an in-memory or Redis backend.
package cache

import (
	"context"
	"fmt"
	"time"
)

// Backend is a key-value store with TTL. Writes replace a value atomically;
// readers never observe a partially written value.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// DeletePrefix removes every key starting with prefix and returns how many were removed.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	Close() error
}

// BackendOptions selects and configures a backend.
type BackendOptions struct {
	// Kind is "memory" or "redis".
	Kind          string
	Capacity      int
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// NewBackend returns the backend named by opts.Kind.
func NewBackend(ctx context.Context, opts BackendOptions) (Backend, error) {
	switch opts.Kind {
	case "memory", "":
		return NewMemoryBackend(opts.Capacity), nil
	case "redis":
		return NewRedisBackend(ctx, RedisOptions{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
		})
	default:
		return nil, fmt.Errorf("unknown cache backend: %s (supported: memory, redis)", opts.Kind)
	}
}
