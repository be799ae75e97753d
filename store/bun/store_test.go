//go:build integration

package bunstore_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xraph/crank"
	"github.com/xraph/crank/attempt"
	"github.com/xraph/crank/id"
	"github.com/xraph/crank/ledger"
	"github.com/xraph/crank/store"
	bunstore "github.com/xraph/crank/store/bun"
	"github.com/xraph/crank/store/postgres"
	"github.com/xraph/crank/store/storetest"
)

// startPostgres returns a connection string for a throwaway database.
func startPostgres(t *testing.T) string {
	t.Helper()

	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("crank_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}
	return connStr
}

func setupTestStore(t *testing.T) *bunstore.Store {
	t.Helper()
	ctx := context.Background()
	connStr := startPostgres(t)

	s, err := bunstore.Open(connStr, bunstore.WithLogger(slog.Default()))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if migErr := s.Migrate(ctx); migErr != nil {
		t.Fatalf("migrate: %v", migErr)
	}
	// A second run finds every migration applied.
	if migErr := s.Migrate(ctx); migErr != nil {
		t.Fatalf("migrate again: %v", migErr)
	}
	return s
}

func TestStore(t *testing.T) {
	s := setupTestStore(t)
	storetest.Run(t, func(t *testing.T) store.Store {
		if _, err := s.DB().ExecContext(context.Background(), `TRUNCATE crank_attempts`); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return s
	})
}

// The bun and pgx stores share one schema and one migration ledger, so a
// fleet can mix them against the same database.
func TestStore_SharesSchemaWithPostgres(t *testing.T) {
	ctx := context.Background()
	connStr := startPostgres(t)

	b, err := bunstore.Open(connStr)
	if err != nil {
		t.Fatalf("open bun: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	if err := store.Prepare(ctx, b); err != nil {
		t.Fatalf("prepare bun: %v", err)
	}

	p, err := postgres.New(ctx, connStr)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	if err := store.Prepare(ctx, p); err != nil {
		t.Fatalf("prepare postgres: %v", err)
	}

	a := storetest.NewAttempt(id.NewRoundID(), ledger.NamedAddress("shared"), attempt.StatusSubmitted, time.Now().UTC())
	if err := b.RecordAttempt(ctx, a); err != nil {
		t.Fatalf("record via bun: %v", err)
	}
	got, err := p.GetAttempt(ctx, a.ID)
	if err != nil {
		t.Fatalf("get via pgx: %v", err)
	}
	if got.Queue != a.Queue || got.Status != a.Status {
		t.Fatalf("pgx read %+v, want %+v", got, a)
	}
	if err := p.RecordAttempt(ctx, a); !errors.Is(err, crank.ErrAttemptExists) {
		t.Fatalf("duplicate via pgx: %v", err)
	}
}
