// Package redis implements store.Store using Redis for high-throughput
// ephemeral clusters. Entities are stored as Redis Hashes with Set-based
// indexes for enumeration; snapshots are msgpack blobs in a bounded List.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/hashfleet/hashfleet/job"
	"github.com/hashfleet/hashfleet/membership"
	"github.com/hashfleet/hashfleet/store"
)

// Compile-time interface checks.
var (
	_ job.Store           = (*Store)(nil)
	_ membership.Store    = (*Store)(nil)
	_ store.SnapshotStore = (*Store)(nil)
	_ store.Store         = (*Store)(nil)
)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithSnapshotHistory bounds how many snapshots are retained.
func WithSnapshotHistory(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.snapshotHistory = n
		}
	}
}

// Store implements the composite store.Store interface backed by Redis.
type Store struct {
	client          redis.Cmdable
	logger          *slog.Logger
	snapshotHistory int
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client redis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client:          client,
		logger:          slog.Default(),
		snapshotHistory: 8,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() redis.Cmdable { return s.client }

// Migrate is a no-op for Redis (schemaless).
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op — the caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }
