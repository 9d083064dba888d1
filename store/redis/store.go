package redis

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/Joy-Aviation/Joy-Aviation-Supplies/job"
)

// Compile-time interface check.
var _ job.Store = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements the composite store.Store interface backed by Redis.
type Store struct {
	client redis.Cmdable
	logger *slog.Logger
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client redis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default()}
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

// Close is a no-op; the caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }
