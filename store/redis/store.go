package redis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/courier/job"
	"github.com/xraph/courier/message"
)

var (
	_ job.Store     = (*Store)(nil)
	_ message.Store = (*Store)(nil)
)

// Store keeps courier records in Redis. The client may be a single node, a
// failover client or a cluster; every key shares one hash slot.
type Store struct {
	client redis.Cmdable
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger used for script loading.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New wraps client. The caller keeps ownership of the client and closes it.
func New(client redis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the wrapped client.
func (s *Store) Client() redis.Cmdable { return s.client }

// Migrate preloads the insert and status scripts. Redis has no schema, and
// scripts run with EVALSHA fall back to EVAL when the cache was flushed, so
// this only saves a round trip on first use.
func (s *Store) Migrate(ctx context.Context) error {
	scripts := map[string]*redis.Script{"reserve": reserveScript, "cas": casScript}
	for name, script := range scripts {
		if err := script.Load(ctx, s.client).Err(); err != nil {
			return fmt.Errorf("courier/redis: load %s script: %w", name, err)
		}
		s.logger.Debug("loaded script", slog.String("script", name), slog.String("sha", script.Hash()))
	}
	return nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("courier/redis: ping: %w", err)
	}
	return nil
}

// Close does nothing; the client belongs to the caller.
func (s *Store) Close() error { return nil }
