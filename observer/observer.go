// Package observer turns ledger notifications into crankable marks.
//
// The observer keeps an index of every queue account it has seen. Queue
// account updates refresh the index, updates of watched accounts mark the
// queues whose Account trigger points at them, and clock ticks mark Cron
// queues whose next activation has passed. Marks are hints: the builder
// re-reads the queue and does nothing when it is not crankable.
package observer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/crank/crankset"
	"github.com/xraph/crank/cron"
	"github.com/xraph/crank/ledger"
	"github.com/xraph/crank/queue"
	"github.com/xraph/crank/trigger"
)

// Option configures an Observer.
type Option func(*Observer)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Observer) { o.logger = l }
}

// WithBuffer sets how many notifications a Feed buffers before the
// notifier blocks.
func WithBuffer(n int) Option {
	return func(o *Observer) { o.buffer = n }
}

// entry is the indexed view of one queue.
type entry struct {
	queue *queue.Queue

	// next is the next cron activation after the prior one. Zero for
	// other trigger kinds or unparsable schedules.
	next time.Time
}

// Observer indexes queues and marks them crankable.
type Observer struct {
	set    crankset.Set
	logger *slog.Logger
	buffer int

	mu       sync.Mutex
	queues   map[ledger.Address]*entry
	watchers map[ledger.Address]map[ledger.Address]struct{}
}

// New returns an observer that marks queues in set.
func New(set crankset.Set, opts ...Option) *Observer {
	o := &Observer{
		set:      set,
		logger:   slog.Default(),
		buffer:   1024,
		queues:   make(map[ledger.Address]*entry),
		watchers: make(map[ledger.Address]map[ledger.Address]struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Len returns the number of indexed queues.
func (o *Observer) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queues)
}

// Sync indexes every queue account owned by the queue program and marks
// the ones that are crankable now.
func (o *Observer) Sync(ctx context.Context, scanner ledger.Scanner, reader ledger.Reader) error {
	accounts, err := scanner.ProgramAccounts(ctx, queue.ProgramID)
	if err != nil {
		return fmt.Errorf("observer: list queues: %w", err)
	}
	clock, err := reader.Clock(ctx)
	if err != nil {
		return fmt.Errorf("observer: read clock: %w", err)
	}

	var marks []ledger.Address
	o.mu.Lock()
	for _, ka := range accounts {
		if o.index(ka.Address, ka.Account) {
			marks = append(marks, ka.Address)
		}
	}
	marks = append(marks, o.dueLocked(clock.Now)...)
	o.mu.Unlock()

	o.logger.Info("observer synced",
		slog.Int("queues", len(accounts)),
		slog.Int("marked", len(marks)),
	)
	return o.set.Add(ctx, marks...)
}

// Handle applies one ledger notification.
func (o *Observer) Handle(ctx context.Context, ev ledger.Event) error {
	switch ev.Kind {
	case ledger.EventAccount:
		return o.OnAccount(ctx, ev.Address, ev.Account)
	case ledger.EventClock:
		return o.OnClock(ctx, ev.Clock.Now)
	default:
		return nil
	}
}

// OnAccount handles an account update. acc is nil when the account was
// deleted.
func (o *Observer) OnAccount(ctx context.Context, addr ledger.Address, acc *ledger.Account) error {
	var marks []ledger.Address

	o.mu.Lock()
	_, known := o.queues[addr]
	if known || (acc != nil && acc.Owner == queue.ProgramID) {
		if o.index(addr, acc) {
			marks = append(marks, addr)
		}
	}
	for q := range o.watchers[addr] {
		if e := o.queues[q]; e != nil && e.queue.State == queue.StateActive && !e.queue.InChain() {
			marks = append(marks, q)
		}
	}
	o.mu.Unlock()

	return o.set.Add(ctx, marks...)
}

// OnClock marks cron queues whose next activation is at or before now.
func (o *Observer) OnClock(ctx context.Context, now time.Time) error {
	o.mu.Lock()
	marks := o.dueLocked(now)
	o.mu.Unlock()
	return o.set.Add(ctx, marks...)
}

// Feed is a live subscription whose notifications wait in a buffer
// until Consume applies them.
type Feed struct {
	events chan ledger.Event
	cancel func()
	once   sync.Once
}

// Close unsubscribes the feed. Buffered notifications are dropped.
func (f *Feed) Close() { f.once.Do(f.cancel) }

// Subscribe starts buffering notifications from n without applying them.
// Subscribing before Sync means a queue created while the scan runs is
// still seen. When the buffer is full the notifier blocks until Consume
// catches up or ctx is done.
func (o *Observer) Subscribe(ctx context.Context, n ledger.Notifier) *Feed {
	f := &Feed{events: make(chan ledger.Event, o.buffer)}
	f.cancel = n.Subscribe(func(ev ledger.Event) {
		select {
		case f.events <- ev:
		case <-ctx.Done():
		}
	})
	return f
}

// Consume applies notifications from f until ctx is cancelled, then
// closes f.
func (o *Observer) Consume(ctx context.Context, f *Feed) error {
	defer f.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-f.events:
			if err := o.Handle(ctx, ev); err != nil {
				o.logger.Warn("observer: mark failed",
					slog.String("event", string(ev.Kind)),
					slog.String("address", ev.Address.Short()),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Run subscribes to n and applies notifications until ctx is cancelled.
func (o *Observer) Run(ctx context.Context, n ledger.Notifier) error {
	return o.Consume(ctx, o.Subscribe(ctx, n))
}

// index records the queue at addr and reports whether it should be
// marked because of its own state. Callers hold o.mu.
func (o *Observer) index(addr ledger.Address, acc *ledger.Account) bool {
	o.unindex(addr)
	if acc == nil {
		return false
	}
	q, err := queue.Decode(acc)
	if err != nil {
		o.logger.Debug("observer: skipping undecodable queue",
			slog.String("queue", addr.Short()),
			slog.String("error", err.Error()),
		)
		return false
	}

	e := &entry{queue: q}
	switch q.Trigger.Kind {
	case trigger.KindAccount:
		w := o.watchers[q.Trigger.Address]
		if w == nil {
			w = make(map[ledger.Address]struct{})
			o.watchers[q.Trigger.Address] = w
		}
		w[addr] = struct{}{}
	case trigger.KindCron:
		if sched, err := cron.Parse(q.Trigger.Schedule); err == nil {
			if prior := q.PriorContext(); prior != nil {
				e.next = sched.Next(prior.FiredAt)
			}
		}
	}
	o.queues[addr] = e

	if q.State != queue.StateActive {
		return false
	}
	if q.InChain() {
		return true
	}
	return q.Trigger.Kind == trigger.KindImmediate && q.ExecContext == nil
}

func (o *Observer) unindex(addr ledger.Address) {
	e, ok := o.queues[addr]
	if !ok {
		return
	}
	delete(o.queues, addr)
	if e.queue.Trigger.Kind != trigger.KindAccount {
		return
	}
	watched := e.queue.Trigger.Address
	if w := o.watchers[watched]; w != nil {
		delete(w, addr)
		if len(w) == 0 {
			delete(o.watchers, watched)
		}
	}
}

// dueLocked returns the active cron queues due at now. Callers hold o.mu.
func (o *Observer) dueLocked(now time.Time) []ledger.Address {
	var due []ledger.Address
	for addr, e := range o.queues {
		if e.next.IsZero() || e.next.After(now) {
			continue
		}
		if e.queue.State == queue.StateActive && !e.queue.InChain() {
			due = append(due, addr)
		}
	}
	return due
}
