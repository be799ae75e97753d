package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/crank/attempt"
	"github.com/xraph/crank/id"
	"github.com/xraph/crank/ledger"
)

const attemptColumns = `
	id, round_id, queue, worker, status, steps, size, remaining,
	signature, error, duration_ns, created_at`

// RecordAttempt persists a finished attempt.
func (s *Store) RecordAttempt(ctx context.Context, a *attempt.Attempt) error {
	var sig []byte
	if !a.Signature.IsZero() {
		sig = a.Signature[:]
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO crank_attempts (`+attemptColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.ID.String(), a.Round.String(), a.Queue[:], a.Worker[:],
		string(a.Status), a.Steps, a.Size, a.Remaining,
		sig, a.Error, a.Duration.Nanoseconds(), a.CreatedAt,
	)
	if err != nil {
		return mapErr("record attempt", err)
	}
	return nil
}

// GetAttempt retrieves an attempt by ID.
func (s *Store) GetAttempt(ctx context.Context, attemptID id.AttemptID) (*attempt.Attempt, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+attemptColumns+`
		FROM crank_attempts
		WHERE id = $1`,
		attemptID.String(),
	)
	a, err := scanAttempt(row)
	if err != nil {
		return nil, mapErr("get attempt", err)
	}
	return a, nil
}

// ListAttempts returns attempts matching opts, newest first.
func (s *Store) ListAttempts(ctx context.Context, opts attempt.ListOpts) ([]*attempt.Attempt, error) {
	var (
		where []string
		args  []any
	)
	if !opts.Queue.IsZero() {
		args = append(args, opts.Queue[:])
		where = append(where, fmt.Sprintf("queue = $%d", len(args)))
	}
	if opts.Status != "" {
		args = append(args, string(opts.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + attemptColumns + ` FROM crank_attempts`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("crank/postgres: list attempts: %w", err)
	}
	defer rows.Close()
	return collectAttempts(rows)
}

// ListRound returns every attempt of a round.
func (s *Store) ListRound(ctx context.Context, roundID id.RoundID) ([]*attempt.Attempt, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+attemptColumns+`
		FROM crank_attempts
		WHERE round_id = $1
		ORDER BY created_at ASC`,
		roundID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("crank/postgres: list round: %w", err)
	}
	defer rows.Close()
	return collectAttempts(rows)
}

// PurgeAttempts removes attempts created before the given time.
func (s *Store) PurgeAttempts(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM crank_attempts WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("crank/postgres: purge attempts: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanAttempt(row pgx.Row) (*attempt.Attempt, error) {
	var (
		a          attempt.Attempt
		idStr      string
		roundStr   string
		queue      []byte
		worker     []byte
		status     string
		sig        []byte
		durationNs int64
	)
	err := row.Scan(
		&idStr, &roundStr, &queue, &worker, &status,
		&a.Steps, &a.Size, &a.Remaining,
		&sig, &a.Error, &durationNs, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Status = attempt.Status(status)
	a.Duration = time.Duration(durationNs)
	copy(a.Queue[:], queue)
	copy(a.Worker[:], worker)
	if len(sig) == len(ledger.Signature{}) {
		copy(a.Signature[:], sig)
	}

	if a.ID, err = id.ParseAttemptID(idStr); err != nil {
		return nil, fmt.Errorf("crank/postgres: parse attempt id %q: %w", idStr, err)
	}
	if a.Round, err = id.ParseRoundID(roundStr); err != nil {
		return nil, fmt.Errorf("crank/postgres: parse round id %q: %w", roundStr, err)
	}
	return &a, nil
}

// collectAttempts collects all attempts from query rows.
func collectAttempts(rows pgx.Rows) ([]*attempt.Attempt, error) {
	attempts := []*attempt.Attempt{}
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("crank/postgres: scan attempt row: %w", err)
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("crank/postgres: iterate attempt rows: %w", err)
	}
	return attempts, nil
}
