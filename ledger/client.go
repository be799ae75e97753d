package ledger

import (
	"context"
	"time"
)

// Clock is the ledger's notion of time.
type Clock struct {
	Slot uint64    `msgpack:"slot"`
	Now  time.Time `msgpack:"now"`
}

// Simulation is the outcome of a dry run. Err is empty on success.
// Accounts holds the post-state of every watched address.
type Simulation struct {
	Err      string         `msgpack:"err,omitempty"`
	Logs     []string       `msgpack:"logs,omitempty"`
	Accounts []KeyedAccount `msgpack:"accounts,omitempty"`
}

// OK reports whether the simulated batch succeeded.
func (s *Simulation) OK() bool { return s != nil && s.Err == "" }

// Account returns the simulated post-state of addr. The second result is
// false when addr was not watched or nothing exists there afterwards.
func (s *Simulation) Account(addr Address) (*Account, bool) {
	for _, ka := range s.Accounts {
		if ka.Address == addr {
			return ka.Account, ka.Account != nil
		}
	}
	return nil, false
}

// Reader fetches committed state.
type Reader interface {
	// Account returns the account at addr or ErrAccountNotFound.
	Account(ctx context.Context, addr Address) (*Account, error)

	// Accounts returns the accounts at addrs in order, nil where nothing
	// exists.
	Accounts(ctx context.Context, addrs []Address) ([]*Account, error)

	// Clock returns the current slot and time.
	Clock(ctx context.Context) (Clock, error)
}

// Scanner lists accounts by owner.
type Scanner interface {
	ProgramAccounts(ctx context.Context, owner Address) ([]KeyedAccount, error)
}

// Simulator dry-runs a batch without committing it.
type Simulator interface {
	Simulate(ctx context.Context, b *Batch, watch ...Address) (*Simulation, error)
}

// Submitter executes and commits a batch.
type Submitter interface {
	Submit(ctx context.Context, b *Batch) (Signature, error)
}

// Client bundles every capability the off-chain worker consumes.
type Client interface {
	Reader
	Simulator
	Submitter
}

// EventKind distinguishes ledger notifications.
type EventKind string

const (
	// EventAccount reports that an account changed or was deleted.
	EventAccount EventKind = "account"
	// EventClock reports that the clock advanced.
	EventClock EventKind = "clock"
)

// Event is a ledger notification. For EventAccount, Account is nil when
// the account was deleted.
type Event struct {
	Kind    EventKind `msgpack:"kind"`
	Address Address   `msgpack:"address,omitempty"`
	Account *Account  `msgpack:"account,omitempty"`
	Clock   Clock     `msgpack:"clock"`
}

// Notifier delivers ledger events to a callback until cancelled.
type Notifier interface {
	Subscribe(fn func(Event)) (cancel func())
}
