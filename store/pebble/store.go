package pebble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/xraph/crank"
	"github.com/xraph/crank/attempt"
)

// Compile-time interface check.
var _ attempt.Store = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithSync makes every write wait for a WAL fsync.
func WithSync(sync bool) Option {
	return func(s *Store) { s.sync = sync }
}

// WithPebbleOptions overrides the Pebble tuning options.
func WithPebbleOptions(po *pebble.Options) Option {
	return func(s *Store) { s.pebbleOpts = po }
}

// Store implements store.Store on an embedded Pebble database.
type Store struct {
	db         *pebble.DB
	logger     *slog.Logger
	sync       bool
	pebbleOpts *pebble.Options
}

// Open creates or opens a Pebble database in dir.
func Open(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, errors.New("crank/pebble: data dir is required")
	}
	s := &Store{logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}

	po := s.pebbleOpts
	if po == nil {
		po = &pebble.Options{}
	}
	if !s.sync {
		// Group-commit WAL syncs for small attempt writes.
		po.WALMinSyncInterval = func() time.Duration { return 5 * time.Millisecond }
	}

	db, err := pebble.Open(dir, po)
	if err != nil {
		return nil, fmt.Errorf("crank/pebble: open %s: %w", dir, err)
	}
	s.db = db
	return s, nil
}

// DB returns the underlying Pebble database.
func (s *Store) DB() *pebble.DB { return s.db }

// Migrate is a no-op; the key layout needs no schema.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping reports whether the database is open.
func (s *Store) Ping(_ context.Context) error {
	if s.db == nil {
		return crank.ErrStoreClosed
	}
	return nil
}

// Close closes the Pebble database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) writeOpts() *pebble.WriteOptions {
	if s.sync {
		return pebble.Sync
	}
	return pebble.NoSync
}
