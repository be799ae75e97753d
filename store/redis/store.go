// Package redis records attempts in Redis so workers can share history
// without a SQL database. Each attempt is a Hash. A global Sorted Set and
// one Sorted Set per queue index them by creation time in microseconds,
// and a Set per round lists its attempt IDs.
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client, redisstore.WithNamespace("crank-devnet"))
package redis

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/crank/attempt"
)

var _ attempt.Store = (*Store)(nil)

// DefaultNamespace prefixes every key unless WithNamespace overrides it.
const DefaultNamespace = "crank"

// keyspace builds the keys of one namespace.
type keyspace string

func (k keyspace) attempt(id string) string    { return string(k) + ":attempt:" + id }
func (k keyspace) all() string                 { return string(k) + ":attempts" }
func (k keyspace) queue(addr string) string    { return string(k) + ":queue_attempts:" + addr }
func (k keyspace) round(roundID string) string { return string(k) + ":round:" + roundID }

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithNamespace isolates the store's keys, letting several networks share
// one Redis.
func WithNamespace(ns string) Option {
	return func(s *Store) {
		if ns != "" {
			s.keys = keyspace(ns)
		}
	}
}

// Store is the Redis attempt store. The caller owns the client.
type Store struct {
	client redis.Cmdable
	keys   keyspace
	logger *slog.Logger
}

// New wraps client.
func New(client redis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, keys: DefaultNamespace, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Migrate does nothing; Redis has no schema.
func (s *Store) Migrate(context.Context) error { return nil }

// Ping round-trips a PING.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close does nothing; the client belongs to the caller.
func (s *Store) Close() error { return nil }
