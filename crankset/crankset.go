// Package crankset holds the set of queues that are due for a crank
// attempt. Event sources mark queues with Add; the worker pool takes the
// whole set with Drain at the start of every round.
//
// A queue address appears at most once no matter how often it is marked
// between two drains. Marks are hints: the builder reads fresh state and
// returns nothing when a queue turns out not to be crankable.
package crankset

import (
	"context"
	"sync"

	"github.com/xraph/crank/ledger"
)

// Set is a concurrent set of crankable queue addresses.
type Set interface {
	// Add marks queues as crankable.
	Add(ctx context.Context, queues ...ledger.Address) error

	// Drain removes and returns every marked queue.
	Drain(ctx context.Context) ([]ledger.Address, error)

	// Len returns the number of marked queues.
	Len(ctx context.Context) (int, error)

	// Ready is signalled after Add so a waiting worker can start a round
	// early. Signals coalesce.
	Ready() <-chan struct{}
}

// Memory is an in-process Set.
type Memory struct {
	mu     sync.Mutex
	queues map[ledger.Address]struct{}
	ready  chan struct{}
}

// NewMemory returns an empty in-process set.
func NewMemory() *Memory {
	return &Memory{
		queues: make(map[ledger.Address]struct{}),
		ready:  make(chan struct{}, 1),
	}
}

// Add marks queues as crankable.
func (m *Memory) Add(_ context.Context, queues ...ledger.Address) error {
	if len(queues) == 0 {
		return nil
	}
	m.mu.Lock()
	for _, q := range queues {
		m.queues[q] = struct{}{}
	}
	m.mu.Unlock()
	signal(m.ready)
	return nil
}

// Drain removes and returns every marked queue.
func (m *Memory) Drain(_ context.Context) ([]ledger.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queues) == 0 {
		return nil, nil
	}
	out := make([]ledger.Address, 0, len(m.queues))
	for q := range m.queues {
		out = append(out, q)
	}
	m.queues = make(map[ledger.Address]struct{}, len(out))
	return out, nil
}

// Len returns the number of marked queues.
func (m *Memory) Len(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queues), nil
}

// Ready is signalled after Add.
func (m *Memory) Ready() <-chan struct{} { return m.ready }

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
