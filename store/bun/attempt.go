package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/crank/attempt"
	"github.com/xraph/crank/id"
)

// RecordAttempt persists a finished attempt.
func (s *Store) RecordAttempt(ctx context.Context, a *attempt.Attempt) error {
	_, err := s.db.NewInsert().Model(toAttemptModel(a)).Exec(ctx)
	if err != nil {
		return mapErr("record attempt", err)
	}
	return nil
}

// GetAttempt retrieves an attempt by ID.
func (s *Store) GetAttempt(ctx context.Context, attemptID id.AttemptID) (*attempt.Attempt, error) {
	m := new(attemptModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", attemptID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, mapErr("get attempt", err)
	}
	return fromAttemptModel(m)
}

// ListAttempts returns attempts matching opts, newest first.
func (s *Store) ListAttempts(ctx context.Context, opts attempt.ListOpts) ([]*attempt.Attempt, error) {
	var models []attemptModel
	q := s.db.NewSelect().Model(&models)

	if !opts.Queue.IsZero() {
		q = q.Where("queue = ?", opts.Queue[:])
	}
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}

	q = q.Order("created_at DESC", "id DESC")

	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("crank/bun: list attempts: %w", err)
	}
	return convert(models)
}

// ListRound returns every attempt of a round.
func (s *Store) ListRound(ctx context.Context, roundID id.RoundID) ([]*attempt.Attempt, error) {
	var models []attemptModel
	err := s.db.NewSelect().Model(&models).
		Where("round_id = ?", roundID.String()).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("crank/bun: list round: %w", err)
	}
	return convert(models)
}

// PurgeAttempts removes attempts created before the given time.
func (s *Store) PurgeAttempts(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.NewDelete().
		Model((*attemptModel)(nil)).
		Where("created_at < ?", before).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("crank/bun: purge attempts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("crank/bun: purge attempts: %w", err)
	}
	return n, nil
}

func convert(models []attemptModel) ([]*attempt.Attempt, error) {
	attempts := make([]*attempt.Attempt, 0, len(models))
	for i := range models {
		a, err := fromAttemptModel(&models[i])
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, nil
}
