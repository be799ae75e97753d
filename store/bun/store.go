package bunstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/xraph/crank/attempt"
	"github.com/xraph/crank/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrateLockKey int64 = 0x6372616e6b

// Compile-time interface checks.
var (
	_ store.Store   = (*Store)(nil)
	_ attempt.Store = (*Store)(nil)
)

// Store is a Bun ORM implementation of store.Store using PostgreSQL dialect.
type Store struct {
	db     *bun.DB
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

// New creates a new Bun store. The caller owns the db lifecycle and the
// Store will not close it on Close().
func New(db *bun.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to the PostgreSQL database at dsn. The returned Store
// owns the connection and closes it on Close().
func Open(dsn string, opts ...Option) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("crank/bun: empty dsn")
	}
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	s := New(bun.NewDB(sqldb, pgdialect.New()), opts...)
	s.owned = true
	return s, nil
}

// DB returns the underlying *bun.DB for advanced usage.
func (s *Store) DB() *bun.DB {
	return s.db
}

// migrationModel is a row of the migration ledger shared with
// store/postgres.
type migrationModel struct {
	bun.BaseModel `bun:"table:crank_migrations"`

	Filename  string    `bun:"filename,pk"`
	AppliedAt time.Time `bun:"applied_at,notnull,default:current_timestamp"`
}

// Migrate applies pending embedded migrations inside one transaction
// guarded by the same advisory lock store/postgres takes.
func (s *Store) Migrate(ctx context.Context) error {
	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("crank/bun: list migrations: %w", err)
	}
	slices.Sort(names)

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(?)`, migrateLockKey); err != nil {
			return fmt.Errorf("crank/bun: migration lock: %w", err)
		}
		if _, err := tx.NewCreateTable().Model((*migrationModel)(nil)).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("crank/bun: create migrations table: %w", err)
		}

		var applied []string
		if err := tx.NewSelect().Model((*migrationModel)(nil)).Column("filename").Scan(ctx, &applied); err != nil {
			return fmt.Errorf("crank/bun: load applied migrations: %w", err)
		}

		for _, path := range names {
			name := strings.TrimPrefix(path, "migrations/")
			if slices.Contains(applied, name) {
				continue
			}
			body, err := fs.ReadFile(migrationsFS, path)
			if err != nil {
				return fmt.Errorf("crank/bun: read migration %s: %w", name, err)
			}
			if _, err := tx.ExecContext(ctx, string(body)); err != nil {
				return fmt.Errorf("crank/bun: apply migration %s: %w", name, err)
			}
			row := &migrationModel{Filename: name, AppliedAt: time.Now().UTC()}
			if _, err := tx.NewInsert().Model(row).Exec(ctx); err != nil {
				return fmt.Errorf("crank/bun: record migration %s: %w", name, err)
			}
			s.logger.Info("applied migration", slog.String("file", name))
		}
		return nil
	})
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database when the Store opened it and is a no-op
// otherwise.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}
