// Package devnet bootstraps an in-memory ledger with the queue and counter
// programs installed. crankd serves it in development and package tests
// use it as a fixture.
package devnet

import (
	"context"
	"fmt"

	"github.com/xraph/crank/ledger"
	"github.com/xraph/crank/ledger/memory"
	"github.com/xraph/crank/program/counter"
	"github.com/xraph/crank/queue"
	"github.com/xraph/crank/trigger"
)

// Devnet is an in-memory ledger with the crank programs registered.
type Devnet struct {
	*memory.Ledger
	Program *queue.Program
}

// New returns a devnet. Queue program options configure fees and
// authorization.
func New(ledgerOpts []memory.Option, queueOpts ...queue.Option) *Devnet {
	l := memory.New(ledgerOpts...)
	p := queue.NewProgram(queueOpts...)
	l.Register(queue.ProgramID, p)
	l.Register(counter.ProgramID, counter.Program{})
	return &Devnet{Ledger: l, Program: p}
}

// CounterQueue describes a queue that runs a counter chain.
type CounterQueue struct {
	Authority ledger.Address
	ID        string
	Trigger   trigger.Trigger

	// Target is the number of steps each chain runs.
	Target uint64

	Funding   uint64
	RateLimit uint64
}

// CreateCounterQueue funds the authority, then creates a counter and the
// queue that steps it. It returns the queue and counter addresses.
func (d *Devnet) CreateCounterQueue(ctx context.Context, cq CounterQueue) (ledger.Address, ledger.Address, error) {
	if err := d.Airdrop(cq.Authority, cq.Funding+1); err != nil {
		return ledger.Address{}, ledger.Address{}, err
	}
	qAddr := queue.Address(cq.Authority, cq.ID)
	cAddr := counter.Address(cq.Authority.Short() + "/" + cq.ID)

	b := ledger.NewBatch(cq.Authority,
		counter.InitInstruction(cAddr, qAddr, cq.Target),
		queue.CreateInstruction(cq.Authority, queue.CreateParams{
			ID:        cq.ID,
			Trigger:   cq.Trigger,
			Kickoff:   counter.StepInstruction(cAddr, qAddr),
			RateLimit: cq.RateLimit,
			Funding:   cq.Funding,
		}),
	)
	if _, err := d.Submit(ctx, b); err != nil {
		return ledger.Address{}, ledger.Address{}, fmt.Errorf("create counter queue %q: %w", cq.ID, err)
	}
	return qAddr, cAddr, nil
}

// Queue reads the queue at addr.
func (d *Devnet) Queue(ctx context.Context, addr ledger.Address) (*queue.Queue, error) {
	acc, err := d.Account(ctx, addr)
	if err != nil {
		return nil, err
	}
	return queue.Decode(acc)
}

// Counter reads the counter at addr.
func (d *Devnet) Counter(ctx context.Context, addr ledger.Address) (*counter.Counter, error) {
	acc, err := d.Account(ctx, addr)
	if err != nil {
		return nil, err
	}
	return counter.Decode(acc)
}
