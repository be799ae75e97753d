package store

import (
	"context"
	"fmt"

	"github.com/xraph/crank/attempt"
)

// Store is attempt history plus the lifecycle every backend shares.
type Store interface {
	attempt.Store

	// Migrate brings the schema up to date. It is safe to call from
	// several workers at once.
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Prepare checks that s is reachable and migrates it. On failure s is
// closed, so callers only close a store Prepare accepted.
func Prepare(ctx context.Context, s Store) error {
	if err := s.Ping(ctx); err != nil {
		_ = s.Close()
		return fmt.Errorf("ping: %w", err)
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
