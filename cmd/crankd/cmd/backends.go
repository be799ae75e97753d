package cmd

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/crank"
	"github.com/xraph/crank/crankset"
	"github.com/xraph/crank/store"
	bunstore "github.com/xraph/crank/store/bun"
	memstore "github.com/xraph/crank/store/memory"
	mongostore "github.com/xraph/crank/store/mongo"
	pebblestore "github.com/xraph/crank/store/pebble"
	pgstore "github.com/xraph/crank/store/postgres"
	redisstore "github.com/xraph/crank/store/redis"
)

// openStore opens the attempt store named by kind. dsn is a Postgres
// connection string (postgres and bun), a Redis or MongoDB URL, or a Pebble
// directory.
func openStore(ctx context.Context, kind, dsn string, logger *slog.Logger) (store.Store, error) {
	var (
		s   store.Store
		err error
	)
	switch kind {
	case "memory", "":
		s = memstore.New()
	case "postgres":
		s, err = pgstore.New(ctx, dsn, pgstore.WithLogger(logger))
	case "redis":
		var client *goredis.Client
		client, err = redisClient(dsn)
		if err == nil {
			s = redisstore.New(client, redisstore.WithLogger(logger))
		}
	case "bun":
		s, err = bunstore.Open(dsn, bunstore.WithLogger(logger))
	case "pebble":
		s, err = pebblestore.Open(dsn, pebblestore.WithLogger(logger))
	case "mongo":
		s, err = mongostore.Open(dsn, "", mongostore.WithLogger(logger))
	default:
		return nil, fmt.Errorf("%w: unknown store %q", crank.ErrInvalidConfig, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", kind, err)
	}

	if err := store.Prepare(ctx, s); err != nil {
		return nil, fmt.Errorf("%s store: %w", kind, err)
	}
	return s, nil
}

// openCrankset returns the crankable set named by kind. The returned
// close function releases the Redis subscription, if any.
func openCrankset(kind, redisURL, name string, logger *slog.Logger) (crankset.Set, func() error, error) {
	switch kind {
	case "memory", "":
		return crankset.NewMemory(), func() error { return nil }, nil
	case "redis":
		client, err := redisClient(redisURL)
		if err != nil {
			return nil, nil, err
		}
		set := crankset.NewRedis(client,
			crankset.WithName(name),
			crankset.WithRedisLogger(logger),
		)
		return set, func() error {
			setErr := set.Close()
			if err := client.Close(); err != nil {
				return err
			}
			return setErr
		}, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown crankset %q", crank.ErrInvalidConfig, kind)
	}
}

func redisClient(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	return goredis.NewClient(opts), nil
}
