package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/xraph/crank/attempt"
	"github.com/xraph/crank/store"
)

const colAttempts = "crank_attempts"

// DefaultDatabase is the database Open uses when the URI names none.
const DefaultDatabase = "crank"

var (
	_ store.Store   = (*Store)(nil)
	_ attempt.Store = (*Store)(nil)
)

// Store is a MongoDB implementation of store.Store.
type Store struct {
	db     *mongod.Database
	owned  bool
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a store on db. The caller owns the client; Close is a
// no-op.
func New(db *mongod.Database, opts ...Option) *Store {
	s := &Store{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to uri and uses database, or DefaultDatabase when it is
// empty. The returned store disconnects the client on Close.
func Open(uri, database string, opts ...Option) (*Store, error) {
	if uri == "" {
		return nil, errors.New("crank/mongo: empty uri")
	}
	if database == "" {
		database = DefaultDatabase
	}
	client, err := mongod.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("crank/mongo: connect: %w", err)
	}
	s := New(client.Database(database), opts...)
	s.owned = true
	return s, nil
}

// DB returns the underlying database for advanced usage.
func (s *Store) DB() *mongod.Database { return s.db }

func (s *Store) attempts() *mongod.Collection { return s.db.Collection(colAttempts) }

// Migrate creates the attempt indexes. Creating an existing index is a
// no-op, so Migrate is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.attempts().Indexes().CreateMany(ctx, []mongod.IndexModel{
		{Keys: bson.D{{Key: "round_id", Value: 1}}},
		{Keys: bson.D{{Key: "queue", Value: 1}, {Key: "created_us", Value: -1}}},
		{Keys: bson.D{{Key: "created_us", Value: -1}, {Key: "_id", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_us", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("crank/mongo: migrate %s indexes: %w", colAttempts, err)
	}
	s.logger.Debug("mongo indexes ready", slog.String("collection", colAttempts))
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, readpref.Primary())
}

// Close disconnects the client when the store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Client().Disconnect(context.Background())
}

func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}
