// Package memory is a fully in-memory store.Store. Safe for concurrent
// access. Intended for unit testing and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/crank"
	"github.com/xraph/crank/attempt"
	"github.com/xraph/crank/id"
)

// Ensure Store implements attempt.Store at compile time.
// We can't import store here (import cycle in tests), so we verify the
// subsystem.
var _ attempt.Store = (*Store)(nil)

// Store keeps attempts in maps.
type Store struct {
	mu sync.RWMutex

	attempts map[string]*attempt.Attempt
	rounds   map[string][]string // round ID -> attempt IDs
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		attempts: make(map[string]*attempt.Attempt),
		rounds:   make(map[string][]string),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle: Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Attempt Store
// ──────────────────────────────────────────────────

// RecordAttempt persists a finished attempt.
func (m *Store) RecordAttempt(_ context.Context, a *attempt.Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := a.ID.String()
	if _, exists := m.attempts[key]; exists {
		return crank.ErrAttemptExists
	}
	cp := *a
	m.attempts[key] = &cp
	round := a.Round.String()
	m.rounds[round] = append(m.rounds[round], key)
	return nil
}

// GetAttempt retrieves an attempt by ID.
func (m *Store) GetAttempt(_ context.Context, attemptID id.AttemptID) (*attempt.Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.attempts[attemptID.String()]
	if !ok {
		return nil, crank.ErrAttemptNotFound
	}
	cp := *a
	return &cp, nil
}

// ListAttempts returns attempts matching opts, newest first.
func (m *Store) ListAttempts(_ context.Context, opts attempt.ListOpts) ([]*attempt.Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*attempt.Attempt, 0, len(m.attempts))
	for _, a := range m.attempts {
		if !opts.Queue.IsZero() && a.Queue != opts.Queue {
			continue
		}
		if opts.Status != "" && a.Status != opts.Status {
			continue
		}
		cp := *a
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		if !result[i].CreatedAt.Equal(result[k].CreatedAt) {
			return result[i].CreatedAt.After(result[k].CreatedAt)
		}
		return result[i].ID.String() > result[k].ID.String()
	})

	return paginate(result, opts.Offset, opts.Limit), nil
}

// ListRound returns every attempt of a round.
func (m *Store) ListRound(_ context.Context, roundID id.RoundID) ([]*attempt.Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := m.rounds[roundID.String()]
	result := make([]*attempt.Attempt, 0, len(keys))
	for _, key := range keys {
		if a, ok := m.attempts[key]; ok {
			cp := *a
			result = append(result, &cp)
		}
	}
	return result, nil
}

// PurgeAttempts removes attempts created before the given time.
func (m *Store) PurgeAttempts(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for key, a := range m.attempts {
		if !a.CreatedAt.Before(before) {
			continue
		}
		delete(m.attempts, key)
		n++

		round := a.Round.String()
		keys := m.rounds[round]
		for i, k := range keys {
			if k == key {
				keys = append(keys[:i], keys[i+1:]...)
				break
			}
		}
		if len(keys) == 0 {
			delete(m.rounds, round)
		} else {
			m.rounds[round] = keys
		}
	}
	return n, nil
}

func paginate(list []*attempt.Attempt, offset, limit int) []*attempt.Attempt {
	if offset >= len(list) {
		return []*attempt.Attempt{}
	}
	list = list[offset:]
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list
}
