package pebble

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/xraph/crank"
	"github.com/xraph/crank/attempt"
	"github.com/xraph/crank/id"
	"github.com/xraph/crank/ledger"
)

// record is the stored form of an attempt.
type record struct {
	ID        string         `msgpack:"id"`
	Round     string         `msgpack:"round"`
	Queue     ledger.Address `msgpack:"queue"`
	Worker    ledger.Address `msgpack:"worker"`
	Status    string         `msgpack:"status"`
	Steps     int            `msgpack:"steps"`
	Size      int            `msgpack:"size"`
	Remaining bool           `msgpack:"remaining"`
	Signature []byte         `msgpack:"signature,omitempty"`
	Error     string         `msgpack:"error,omitempty"`
	Duration  int64          `msgpack:"duration_ns"`
	CreatedAt int64          `msgpack:"created_at"`
}

// RecordAttempt stores the attempt and its index entries in one batch.
func (s *Store) RecordAttempt(_ context.Context, a *attempt.Attempt) error {
	if s.db == nil {
		return crank.ErrStoreClosed
	}
	aID := a.ID.String()
	key := attemptKey(aID)

	if _, closer, err := s.db.Get(key); err == nil {
		_ = closer.Close()
		return crank.ErrAttemptExists
	} else if !errors.Is(err, pebble.ErrNotFound) {
		return fmt.Errorf("crank/pebble: record check exists: %w", err)
	}

	rec := record{
		ID:        aID,
		Round:     a.Round.String(),
		Queue:     a.Queue,
		Worker:    a.Worker,
		Status:    string(a.Status),
		Steps:     a.Steps,
		Size:      a.Size,
		Remaining: a.Remaining,
		Error:     a.Error,
		Duration:  a.Duration.Nanoseconds(),
		CreatedAt: a.CreatedAt.UnixMicro(),
	}
	if !a.Signature.IsZero() {
		rec.Signature = a.Signature[:]
	}
	val, err := msgpack.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("crank/pebble: encode attempt: %w", err)
	}

	b := s.db.NewBatch()
	defer b.Close()
	_ = b.Set(key, val, nil)
	_ = b.Set(timeKey(rec.CreatedAt, aID), nil, nil)
	_ = b.Set(roundKey(rec.Round, aID), nil, nil)
	if err := b.Commit(s.writeOpts()); err != nil {
		return fmt.Errorf("crank/pebble: record attempt: %w", err)
	}
	return nil
}

// GetAttempt retrieves an attempt by ID.
func (s *Store) GetAttempt(_ context.Context, attemptID id.AttemptID) (*attempt.Attempt, error) {
	if s.db == nil {
		return nil, crank.ErrStoreClosed
	}
	return s.get(attemptID.String())
}

// ListAttempts walks the time index newest first.
func (s *Store) ListAttempts(_ context.Context, opts attempt.ListOpts) ([]*attempt.Attempt, error) {
	if s.db == nil {
		return nil, crank.ErrStoreClosed
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(timePrefix),
		UpperBound: prefixEnd([]byte(timePrefix)),
	})
	if err != nil {
		return nil, fmt.Errorf("crank/pebble: list attempts: %w", err)
	}
	defer iter.Close()

	var result []*attempt.Attempt
	skipped := 0
	for ok := iter.Last(); ok; ok = iter.Prev() {
		a, err := s.get(idFromIndex(iter.Key(), len(timePrefix)+9))
		if err != nil {
			return nil, err
		}
		if !opts.Queue.IsZero() && a.Queue != opts.Queue {
			continue
		}
		if opts.Status != "" && a.Status != opts.Status {
			continue
		}
		if skipped < opts.Offset {
			skipped++
			continue
		}
		result = append(result, a)
		if opts.Limit > 0 && len(result) >= opts.Limit {
			break
		}
	}
	return result, iter.Error()
}

// ListRound returns every attempt of a round.
func (s *Store) ListRound(_ context.Context, roundID id.RoundID) ([]*attempt.Attempt, error) {
	if s.db == nil {
		return nil, crank.ErrStoreClosed
	}
	prefix := roundPrefixKey(roundID.String())
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixEnd(prefix)})
	if err != nil {
		return nil, fmt.Errorf("crank/pebble: list round: %w", err)
	}
	defer iter.Close()

	var result []*attempt.Attempt
	for ok := iter.First(); ok; ok = iter.Next() {
		a, err := s.get(idFromIndex(iter.Key(), len(prefix)))
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, iter.Error()
}

// PurgeAttempts removes attempts created before the given time.
func (s *Store) PurgeAttempts(_ context.Context, before time.Time) (int64, error) {
	if s.db == nil {
		return 0, crank.ErrStoreClosed
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(timePrefix),
		UpperBound: timeBound(before.UnixMicro()),
	})
	if err != nil {
		return 0, fmt.Errorf("crank/pebble: purge attempts: %w", err)
	}
	defer iter.Close()

	b := s.db.NewBatch()
	defer b.Close()

	var n int64
	for ok := iter.First(); ok; ok = iter.Next() {
		aID := idFromIndex(iter.Key(), len(timePrefix)+9)
		a, err := s.get(aID)
		if err != nil {
			return 0, err
		}
		_ = b.Delete(attemptKey(aID), nil)
		_ = b.Delete(append([]byte(nil), iter.Key()...), nil)
		_ = b.Delete(roundKey(a.Round.String(), aID), nil)
		n++
	}
	if err := iter.Error(); err != nil {
		return 0, fmt.Errorf("crank/pebble: purge attempts: %w", err)
	}
	if n == 0 {
		return 0, nil
	}
	if err := b.Commit(s.writeOpts()); err != nil {
		return 0, fmt.Errorf("crank/pebble: purge attempts: %w", err)
	}
	return n, nil
}

func (s *Store) get(aID string) (*attempt.Attempt, error) {
	val, closer, err := s.db.Get(attemptKey(aID))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, crank.ErrAttemptNotFound
		}
		return nil, fmt.Errorf("crank/pebble: get attempt: %w", err)
	}
	defer closer.Close()

	var rec record
	if err := msgpack.Unmarshal(val, &rec); err != nil {
		return nil, fmt.Errorf("crank/pebble: decode attempt %s: %w", aID, err)
	}
	return fromRecord(&rec)
}

func fromRecord(rec *record) (*attempt.Attempt, error) {
	aID, err := id.ParseAttemptID(rec.ID)
	if err != nil {
		return nil, fmt.Errorf("crank/pebble: parse attempt id: %w", err)
	}
	roundID, err := id.ParseRoundID(rec.Round)
	if err != nil {
		return nil, fmt.Errorf("crank/pebble: parse round id: %w", err)
	}
	a := &attempt.Attempt{
		ID:        aID,
		Round:     roundID,
		Queue:     rec.Queue,
		Worker:    rec.Worker,
		Status:    attempt.Status(rec.Status),
		Steps:     rec.Steps,
		Size:      rec.Size,
		Remaining: rec.Remaining,
		Error:     rec.Error,
		Duration:  time.Duration(rec.Duration),
		CreatedAt: time.UnixMicro(rec.CreatedAt).UTC(),
	}
	copy(a.Signature[:], rec.Signature)
	return a, nil
}
