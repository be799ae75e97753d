package queue

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/xraph/crank/ledger"
	"github.com/xraph/crank/trigger"
)

// ProgramID is the address the queue program is deployed at.
var ProgramID = ledger.NamedAddress("crank/queue")

// MaxIDLength is the longest queue id accepted.
const MaxIDLength = 32

// State is the lifecycle state of a queue.
type State string

const (
	StateActive  State = "active"
	StatePaused  State = "paused"
	StateStopped State = "stopped"
)

// ExecContext records the trigger context of the chain that ran last and
// the step counter used to enforce the rate limit.
type ExecContext struct {
	Trigger     trigger.Context `msgpack:"trigger"`
	LastSlot    uint64          `msgpack:"last_slot"`
	StepsInSlot uint64          `msgpack:"steps_in_slot"`
}

// Queue is the data stored in a queue account.
type Queue struct {
	Authority          ledger.Address      `msgpack:"authority"`
	ID                 string              `msgpack:"id"`
	Trigger            trigger.Trigger     `msgpack:"trigger"`
	KickoffInstruction ledger.Instruction  `msgpack:"kickoff"`
	NextInstruction    *ledger.Instruction `msgpack:"next,omitempty"`
	ExecContext        *ExecContext        `msgpack:"exec,omitempty"`
	State              State               `msgpack:"state"`

	// RateLimit caps kickoff and crank steps per slot. Zero is unlimited.
	RateLimit uint64 `msgpack:"rate_limit"`

	CreatedAt time.Time `msgpack:"created_at"`

	// ArmedAt is when the current trigger was installed. Cron triggers
	// with no recorded activation evaluate missed firings from here.
	ArmedAt time.Time `msgpack:"armed_at"`
}

// InChain reports whether a chain is running.
func (q *Queue) InChain() bool { return q.NextInstruction != nil }

// IsPaused reports whether the queue is paused.
func (q *Queue) IsPaused() bool { return q.State == StatePaused }

// Address returns the queue account address for the queue.
func (q *Queue) Address() ledger.Address { return Address(q.Authority, q.ID) }

// PriorContext is the trigger context the next kickoff is evaluated
// against.
func (q *Queue) PriorContext() *trigger.Context {
	if q.ExecContext != nil {
		c := q.ExecContext.Trigger
		return &c
	}
	if q.Trigger.Kind == trigger.KindCron {
		return &trigger.Context{Kind: trigger.KindCron, FiredAt: q.ArmedAt}
	}
	return nil
}

// Encode serializes the queue for storage in its account.
func (q *Queue) Encode() ([]byte, error) {
	return msgpack.Marshal(q)
}

// Address derives the queue account address for (authority, id).
func Address(authority ledger.Address, id string) ledger.Address {
	return ledger.DeriveAddress(ProgramID, []byte("queue"), authority[:], []byte(id))
}

// WorkerAddress derives the fee account of the worker with the given id.
func WorkerAddress(workerID uint64) ledger.Address {
	var seed [8]byte
	binary.BigEndian.PutUint64(seed[:], workerID)
	return ledger.DeriveAddress(ProgramID, []byte("worker"), seed[:])
}

// Decode reads a queue from its account. It fails with ErrQueueNotFound
// when the account is not owned by the queue program.
func Decode(acc *ledger.Account) (*Queue, error) {
	if acc == nil || acc.Owner != ProgramID {
		return nil, ErrQueueNotFound
	}
	var q Queue
	if err := msgpack.Unmarshal(acc.Data, &q); err != nil {
		return nil, fmt.Errorf("decode queue: %w", err)
	}
	return &q, nil
}
