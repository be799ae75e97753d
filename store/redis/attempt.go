package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/crank"
	"github.com/xraph/crank/attempt"
	"github.com/xraph/crank/id"
	"github.com/xraph/crank/ledger"
)

// RecordAttempt stores the attempt as a Hash and indexes it.
func (s *Store) RecordAttempt(ctx context.Context, a *attempt.Attempt) error {
	aID := a.ID.String()
	key := s.keys.attempt(aID)

	// Check for duplicate.
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("crank/redis: record check exists: %w", err)
	}
	if exists > 0 {
		return crank.ErrAttemptExists
	}

	score := float64(a.CreatedAt.UnixMicro())
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, attemptToMap(a))
	pipe.ZAdd(ctx, s.keys.all(), goredis.Z{Score: score, Member: aID})
	pipe.ZAdd(ctx, s.keys.queue(a.Queue.String()), goredis.Z{Score: score, Member: aID})
	pipe.SAdd(ctx, s.keys.round(a.Round.String()), aID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("crank/redis: record attempt: %w", err)
	}
	return nil
}

// GetAttempt retrieves an attempt by ID.
func (s *Store) GetAttempt(ctx context.Context, attemptID id.AttemptID) (*attempt.Attempt, error) {
	return s.getAttemptByKey(ctx, s.keys.attempt(attemptID.String()))
}

// ListAttempts returns attempts matching opts, newest first.
func (s *Store) ListAttempts(ctx context.Context, opts attempt.ListOpts) ([]*attempt.Attempt, error) {
	index := s.keys.all()
	if !opts.Queue.IsZero() {
		index = s.keys.queue(opts.Queue.String())
	}

	// Without a status filter the index pages directly.
	start, stop := int64(0), int64(-1)
	if opts.Status == "" {
		start = int64(opts.Offset)
		if opts.Limit > 0 {
			stop = start + int64(opts.Limit) - 1
		}
	}
	ids, err := s.client.ZRevRange(ctx, index, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("crank/redis: list attempts: %w", err)
	}

	result := make([]*attempt.Attempt, 0, len(ids))
	skipped := 0
	for _, aID := range ids {
		a, err := s.getAttemptByKey(ctx, s.keys.attempt(aID))
		if err != nil {
			continue
		}
		if opts.Status != "" {
			if a.Status != opts.Status {
				continue
			}
			if skipped < opts.Offset {
				skipped++
				continue
			}
		}
		result = append(result, a)
		if opts.Limit > 0 && len(result) >= opts.Limit {
			break
		}
	}
	return result, nil
}

// ListRound returns every attempt of a round.
func (s *Store) ListRound(ctx context.Context, roundID id.RoundID) ([]*attempt.Attempt, error) {
	ids, err := s.client.SMembers(ctx, s.keys.round(roundID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("crank/redis: list round: %w", err)
	}
	result := make([]*attempt.Attempt, 0, len(ids))
	for _, aID := range ids {
		a, err := s.getAttemptByKey(ctx, s.keys.attempt(aID))
		if err != nil {
			continue
		}
		result = append(result, a)
	}
	return result, nil
}

// PurgeAttempts removes attempts created before the given time.
func (s *Store) PurgeAttempts(ctx context.Context, before time.Time) (int64, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.keys.all(), &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.UnixMicro(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("crank/redis: purge attempts: %w", err)
	}

	var n int64
	for _, aID := range ids {
		key := s.keys.attempt(aID)
		vals, err := s.client.HMGet(ctx, key, "queue", "round").Result()
		if err != nil {
			return n, fmt.Errorf("crank/redis: purge attempt %s: %w", aID, err)
		}

		pipe := s.client.TxPipeline()
		pipe.Del(ctx, key)
		pipe.ZRem(ctx, s.keys.all(), aID)
		if q, ok := vals[0].(string); ok {
			pipe.ZRem(ctx, s.keys.queue(q), aID)
		}
		if r, ok := vals[1].(string); ok {
			pipe.SRem(ctx, s.keys.round(r), aID)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return n, fmt.Errorf("crank/redis: purge attempt %s: %w", aID, err)
		}
		n++
	}
	return n, nil
}

// ── Serialization helpers ──

func attemptToMap(a *attempt.Attempt) map[string]any {
	m := map[string]any{
		"id":          a.ID.String(),
		"round":       a.Round.String(),
		"queue":       a.Queue.String(),
		"worker":      a.Worker.String(),
		"status":      string(a.Status),
		"steps":       a.Steps,
		"size":        a.Size,
		"remaining":   strconv.FormatBool(a.Remaining),
		"error":       a.Error,
		"duration_ns": a.Duration.Nanoseconds(),
		"created_at":  a.CreatedAt.Format(time.RFC3339Nano),
	}
	if !a.Signature.IsZero() {
		m["signature"] = a.Signature.String()
	}
	return m
}

func (s *Store) getAttemptByKey(ctx context.Context, key string) (*attempt.Attempt, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("crank/redis: get attempt: %w", err)
	}
	if len(vals) == 0 {
		return nil, crank.ErrAttemptNotFound
	}
	return mapToAttempt(vals)
}

func mapToAttempt(m map[string]string) (*attempt.Attempt, error) {
	aID, err := id.ParseAttemptID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("crank/redis: parse attempt id: %w", err)
	}
	roundID, err := id.ParseRoundID(m["round"])
	if err != nil {
		return nil, fmt.Errorf("crank/redis: parse round id: %w", err)
	}
	q, err := ledger.ParseAddress(m["queue"])
	if err != nil {
		return nil, fmt.Errorf("crank/redis: parse queue: %w", err)
	}
	w, err := ledger.ParseAddress(m["worker"])
	if err != nil {
		return nil, fmt.Errorf("crank/redis: parse worker: %w", err)
	}

	steps, _ := strconv.Atoi(m["steps"])                          //nolint:errcheck // best-effort parse from trusted Redis data
	size, _ := strconv.Atoi(m["size"])                            //nolint:errcheck // best-effort parse from trusted Redis data
	remaining, _ := strconv.ParseBool(m["remaining"])             //nolint:errcheck // best-effort parse from trusted Redis data
	durationNs, _ := strconv.ParseInt(m["duration_ns"], 10, 64)   //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	a := &attempt.Attempt{
		ID:        aID,
		Round:     roundID,
		Queue:     q,
		Worker:    w,
		Status:    attempt.Status(m["status"]),
		Steps:     steps,
		Size:      size,
		Remaining: remaining,
		Error:     m["error"],
		Duration:  time.Duration(durationNs),
		CreatedAt: createdAt,
	}
	if v := m["signature"]; v != "" {
		a.Signature, _ = ledger.ParseSignature(v) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	return a, nil
}
