// Package counter is a self-chaining sample program. Each step increments
// a counter and asks its queue to continue until the counter reaches a
// multiple of its target, so one kickoff runs a chain of exactly target
// steps.
//
// It is used by tests and by the development ledger served by crankd.
package counter

import (
	"fmt"

	"github.com/xraph/crank/ledger"
)

// ProgramID is the address the counter program is deployed at.
var ProgramID = ledger.NamedAddress("crank/counter")

// Counter is the data of a counter account.
type Counter struct {
	// Queue must sign every step. The zero address accepts any caller.
	Queue     ledger.Address `msgpack:"queue"`
	Target    uint64         `msgpack:"target"`
	Count     uint64         `msgpack:"count"`
	Chains    uint64         `msgpack:"chains"`
	LastPayer ledger.Address `msgpack:"last_payer"`
}

type op struct {
	Op     string         `msgpack:"op"`
	Queue  ledger.Address `msgpack:"queue"`
	Target uint64         `msgpack:"target"`
}

// Address derives the counter account for name.
func Address(name string) ledger.Address {
	return ledger.DeriveAddress(ProgramID, []byte("counter"), []byte(name))
}

// InitInstruction creates a counter stepped by queue.
func InitInstruction(counter, queue ledger.Address, target uint64) ledger.Instruction {
	return ledger.Instruction{
		ProgramID: ProgramID,
		Accounts:  []ledger.AccountMeta{ledger.Writable(counter)},
		Data:      ledger.EncodeData(op{Op: "init", Queue: queue, Target: target}),
	}
}

// StepInstruction increments the counter. It lists the queue as signer and
// the payer placeholder, so it can serve directly as a kickoff template.
func StepInstruction(counter, queue ledger.Address) ledger.Instruction {
	return ledger.Instruction{
		ProgramID: ProgramID,
		Accounts: []ledger.AccountMeta{
			ledger.Writable(counter),
			ledger.Signer(queue, false),
			ledger.Signer(ledger.PayerPlaceholder, true),
		},
		Data: ledger.EncodeData(op{Op: "step"}),
	}
}

// Decode reads a counter account.
func Decode(acc *ledger.Account) (*Counter, error) {
	if acc == nil || acc.Owner != ProgramID {
		return nil, fmt.Errorf("%w: not a counter account", ledger.ErrInvalidData)
	}
	var c Counter
	if err := ledger.DecodeData(acc.Data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Program implements the counter.
type Program struct{}

// Execute implements ledger.Program.
func (Program) Execute(env ledger.Env, ix ledger.Instruction) (*ledger.CrankResponse, error) {
	var o op
	if err := ledger.DecodeData(ix.Data, &o); err != nil {
		return nil, err
	}
	if len(ix.Accounts) == 0 {
		return nil, fmt.Errorf("%w: counter account missing", ledger.ErrInvalidData)
	}
	addr := ix.Accounts[0].Address

	switch o.Op {
	case "init":
		if o.Target == 0 {
			return nil, fmt.Errorf("%w: target must be positive", ledger.ErrInvalidData)
		}
		return nil, env.Create(addr, ledger.EncodeData(Counter{Queue: o.Queue, Target: o.Target}))

	case "step":
		acc, err := env.Account(addr)
		if err != nil {
			return nil, err
		}
		c, err := Decode(acc)
		if err != nil {
			return nil, err
		}
		if !c.Queue.IsZero() && !env.IsSigner(c.Queue) {
			return nil, fmt.Errorf("%w: queue %s", ledger.ErrMissingSignature, c.Queue.Short())
		}
		c.Count++
		if len(ix.Accounts) > 2 {
			c.LastPayer = ix.Accounts[2].Address
		}
		done := c.Count%c.Target == 0
		if done {
			c.Chains++
		}
		if err := env.SetData(addr, ledger.EncodeData(c)); err != nil {
			return nil, err
		}
		env.Logf("count=%d", c.Count)
		if done {
			return nil, nil
		}
		next := StepInstruction(addr, c.Queue)
		return &ledger.CrankResponse{NextInstruction: &next}, nil

	default:
		return nil, fmt.Errorf("%w: unknown counter op %q", ledger.ErrInvalidData, o.Op)
	}
}
