package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xraph/crank"
)

// uniqueViolation is the SQLSTATE Postgres reports for a duplicate key.
const uniqueViolation = "23505"

// mapErr turns a missing row or a duplicate key into the crank sentinel
// callers match on and wraps everything else with op.
func mapErr(op string, err error) error {
	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return crank.ErrAttemptNotFound
	case errors.As(err, &pgErr) && pgErr.Code == uniqueViolation:
		return crank.ErrAttemptExists
	default:
		return fmt.Errorf("crank/postgres: %s: %w", op, err)
	}
}
