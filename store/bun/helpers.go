package bunstore

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/xraph/crank"
)

// mapErr is the bun twin of the pgx store's error mapping. pgdriver
// exposes the SQLSTATE through the 'C' field instead of a Code member.
func mapErr(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return crank.ErrAttemptNotFound
	}
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) && pgErr.Field('C') == "23505" {
		return crank.ErrAttemptExists
	}
	return fmt.Errorf("crank/bun: %s: %w", op, err)
}
