// Package memory implements a deterministic in-memory ledger runtime.
//
// It provides exactly the capabilities crank consumes from a real ledger:
// atomic batch execution with per-instruction privilege checks, dry-run
// simulation with post-state of watched accounts, submission, a
// controllable clock and account notifications. Batches execute one at a
// time under a mutex against a copy-on-write overlay, so a failed batch
// leaves no trace.
//
// Intended for unit testing and development networks.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/xraph/crank/ledger"
)

// Compile-time interface checks.
var (
	_ ledger.Client   = (*Ledger)(nil)
	_ ledger.Scanner  = (*Ledger)(nil)
	_ ledger.Notifier = (*Ledger)(nil)
)

// DefaultSlotDuration is the wall-clock length of one slot.
const DefaultSlotDuration = 400 * time.Millisecond

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock sets the genesis time. The clock only moves through Advance
// and SetTime.
func WithClock(t time.Time) Option {
	return func(l *Ledger) {
		l.genesis = t.UTC()
		l.now = t.UTC()
	}
}

// WithSlotDuration sets the length of one slot.
func WithSlotDuration(d time.Duration) Option {
	return func(l *Ledger) { l.slotDuration = d }
}

// WithSizeLimit rejects submitted batches whose encoded size exceeds n
// bytes. Zero disables the check.
func WithSizeLimit(n int) Option {
	return func(l *Ledger) { l.sizeLimit = n }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// Ledger is an in-memory ledger. Safe for concurrent use.
type Ledger struct {
	mu       sync.Mutex
	accounts map[ledger.Address]*ledger.Account
	programs map[ledger.Address]ledger.Program

	genesis      time.Time
	now          time.Time
	slotDuration time.Duration
	sizeLimit    int
	logger       *slog.Logger

	submitted []ledger.Signature

	subMu  sync.RWMutex
	subs   map[int]func(ledger.Event)
	nextID int
}

// New returns an empty ledger with the system program registered.
func New(opts ...Option) *Ledger {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := &Ledger{
		accounts:     make(map[ledger.Address]*ledger.Account),
		programs:     make(map[ledger.Address]ledger.Program),
		genesis:      start,
		now:          start,
		slotDuration: DefaultSlotDuration,
		logger:       slog.Default(),
		subs:         make(map[int]func(ledger.Event)),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.programs[ledger.SystemProgramID] = ledger.System{}
	return l
}

// Register installs a program under id, replacing any previous one.
func (l *Ledger) Register(id ledger.Address, p ledger.Program) {
	l.mu.Lock()
	l.programs[id] = p
	l.mu.Unlock()
}

// ──────────────────────────────────────────────────
// Fixtures
// ──────────────────────────────────────────────────

// SetAccount writes an account directly, bypassing execution. A nil
// account deletes the address.
func (l *Ledger) SetAccount(addr ledger.Address, acc *ledger.Account) {
	l.mu.Lock()
	if acc == nil {
		delete(l.accounts, addr)
	} else {
		l.accounts[addr] = acc.Clone()
	}
	clock := l.clockLocked()
	l.mu.Unlock()

	l.publish([]ledger.Event{{Kind: ledger.EventAccount, Address: addr, Account: acc.Clone(), Clock: clock}})
}

// Airdrop credits amount to a system account, creating it if needed.
func (l *Ledger) Airdrop(addr ledger.Address, amount uint64) error {
	l.mu.Lock()
	acc, ok := l.accounts[addr]
	if !ok {
		acc = &ledger.Account{Owner: ledger.SystemProgramID}
	} else {
		acc = acc.Clone()
	}
	bal, err := ledger.CheckedAdd(acc.Balance, amount)
	if err != nil {
		l.mu.Unlock()
		return err
	}
	acc.Balance = bal
	l.accounts[addr] = acc
	clock := l.clockLocked()
	l.mu.Unlock()

	l.publish([]ledger.Event{{Kind: ledger.EventAccount, Address: addr, Account: acc.Clone(), Clock: clock}})
	return nil
}

// ──────────────────────────────────────────────────
// Clock
// ──────────────────────────────────────────────────

// Advance moves the clock forward by d and notifies subscribers.
func (l *Ledger) Advance(d time.Duration) ledger.Clock {
	l.mu.Lock()
	l.now = l.now.Add(d)
	clock := l.clockLocked()
	l.mu.Unlock()

	l.publish([]ledger.Event{{Kind: ledger.EventClock, Clock: clock}})
	return clock
}

// SetTime moves the clock to t and notifies subscribers. The clock never
// moves backwards; an earlier t is ignored.
func (l *Ledger) SetTime(t time.Time) ledger.Clock {
	l.mu.Lock()
	if t.After(l.now) {
		l.now = t.UTC()
	}
	clock := l.clockLocked()
	l.mu.Unlock()

	l.publish([]ledger.Event{{Kind: ledger.EventClock, Clock: clock}})
	return clock
}

// Clock implements ledger.Reader.
func (l *Ledger) Clock(_ context.Context) (ledger.Clock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.clockLocked(), nil
}

func (l *Ledger) clockLocked() ledger.Clock {
	var slot uint64
	if l.slotDuration > 0 {
		slot = uint64(l.now.Sub(l.genesis) / l.slotDuration) //nolint:gosec // clock never precedes genesis
	}
	return ledger.Clock{Slot: slot, Now: l.now}
}

// ──────────────────────────────────────────────────
// Reads
// ──────────────────────────────────────────────────

// Account implements ledger.Reader.
func (l *Ledger) Account(_ context.Context, addr ledger.Address) (*ledger.Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, addr)
	}
	return acc.Clone(), nil
}

// Accounts implements ledger.Reader.
func (l *Ledger) Accounts(_ context.Context, addrs []ledger.Address) ([]*ledger.Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*ledger.Account, len(addrs))
	for i, a := range addrs {
		out[i] = l.accounts[a].Clone()
	}
	return out, nil
}

// ProgramAccounts implements ledger.Scanner. Results are ordered by
// address.
func (l *Ledger) ProgramAccounts(_ context.Context, owner ledger.Address) ([]ledger.KeyedAccount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []ledger.KeyedAccount
	for addr, acc := range l.accounts {
		if acc.Owner == owner {
			out = append(out, ledger.KeyedAccount{Address: addr, Account: acc.Clone()})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address.String() < out[j].Address.String() })
	return out, nil
}

// Submitted returns the signatures of every committed batch, oldest first.
func (l *Ledger) Submitted() []ledger.Signature {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ledger.Signature(nil), l.submitted...)
}

// ──────────────────────────────────────────────────
// Execution
// ──────────────────────────────────────────────────

// Simulate implements ledger.Simulator. Execution failures are reported in
// the returned Simulation, not as an error.
func (l *Ledger) Simulate(ctx context.Context, b *ledger.Batch, watch ...ledger.Address) (*ledger.Simulation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	tx, logs, err := l.execute(b)
	sim := &ledger.Simulation{Logs: logs}
	if err != nil {
		sim.Err = err.Error()
		return sim, nil
	}
	for _, addr := range watch {
		acc, _ := tx.get(addr)
		sim.Accounts = append(sim.Accounts, ledger.KeyedAccount{Address: addr, Account: acc.Clone()})
	}
	return sim, nil
}

// Submit implements ledger.Submitter.
func (l *Ledger) Submit(ctx context.Context, b *ledger.Batch) (ledger.Signature, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Signature{}, err
	}

	sig, err := b.Signature()
	if err != nil {
		return ledger.Signature{}, err
	}

	l.mu.Lock()
	if l.sizeLimit > 0 {
		size, sizeErr := b.Size()
		if sizeErr != nil {
			l.mu.Unlock()
			return ledger.Signature{}, sizeErr
		}
		if size > l.sizeLimit {
			l.mu.Unlock()
			return ledger.Signature{}, fmt.Errorf("%w: %d > %d bytes", ledger.ErrBatchTooLarge, size, l.sizeLimit)
		}
	}

	tx, _, err := l.execute(b)
	if err != nil {
		l.mu.Unlock()
		return ledger.Signature{}, fmt.Errorf("%w: %w", ledger.ErrBatchFailed, err)
	}
	events := tx.commit(l.accounts, l.clockLocked())
	l.submitted = append(l.submitted, sig)
	l.mu.Unlock()

	l.logger.Debug("batch committed",
		slog.String("signature", sig.String()),
		slog.Int("instructions", b.Len()),
	)
	l.publish(events)
	return sig, nil
}

// execute runs every instruction of b against a fresh overlay. The caller
// must hold l.mu.
func (l *Ledger) execute(b *ledger.Batch) (*txn, []string, error) {
	if b == nil || len(b.Instructions) == 0 {
		return nil, nil, ledger.ErrEmptyBatch
	}

	tx := newTxn(l.accounts)
	var logs []string
	clock := l.clockLocked()

	for i, ix := range b.Instructions {
		for _, m := range ix.Accounts {
			if m.IsSigner && !b.IsSignedBy(m.Address) {
				return nil, logs, fmt.Errorf("instruction %d: %w: %s", i, ledger.ErrMissingSignature, m.Address)
			}
		}
		e := &env{
			l:       l,
			tx:      tx,
			batch:   b,
			program: ix.ProgramID,
			ix:      ix,
			now:     clock.Now,
			slot:    clock.Slot,
			logs:    &logs,
		}
		if _, err := e.run(ix); err != nil {
			return nil, logs, fmt.Errorf("instruction %d: %w", i, err)
		}
	}
	return tx, logs, nil
}

// ──────────────────────────────────────────────────
// Notifications
// ──────────────────────────────────────────────────

// Subscribe implements ledger.Notifier. fn is called synchronously after
// each commit and clock change; it must not block for long.
func (l *Ledger) Subscribe(fn func(ledger.Event)) func() {
	l.subMu.Lock()
	id := l.nextID
	l.nextID++
	l.subs[id] = fn
	l.subMu.Unlock()

	return func() {
		l.subMu.Lock()
		delete(l.subs, id)
		l.subMu.Unlock()
	}
}

func (l *Ledger) publish(events []ledger.Event) {
	l.subMu.RLock()
	fns := make([]func(ledger.Event), 0, len(l.subs))
	for _, fn := range l.subs {
		fns = append(fns, fn)
	}
	l.subMu.RUnlock()

	for _, ev := range events {
		for _, fn := range fns {
			fn(ev)
		}
	}
}
