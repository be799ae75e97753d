// Package trigger decides whether a queue may start a new chain.
//
// Evaluate is pure: given a trigger, a read-only view of chain state and
// the context recorded by the previous kickoff, it reports eligibility and
// the context to record for this one. The same code runs on-ledger inside
// the queue program and off-ledger in the batch builder, which is how the
// builder computes the fingerprint an account-triggered kickoff must
// present.
package trigger

import (
	"errors"
	"fmt"
	"time"

	"lukechampine.com/blake3"

	"github.com/xraph/crank/cron"
	"github.com/xraph/crank/ledger"
)

var (
	ErrMissingAccount  = errors.New("trigger: watched account does not exist")
	ErrInvalidSchedule = errors.New("trigger: invalid cron schedule")
	ErrUnknownKind     = errors.New("trigger: unknown trigger kind")
)

// Kind names a trigger variant.
type Kind string

const (
	KindAccount   Kind = "account"
	KindCron      Kind = "cron"
	KindImmediate Kind = "immediate"
)

// Trigger is the condition that authorizes a queue to start a chain.
// Address is set for KindAccount, Schedule for KindCron.
type Trigger struct {
	Kind     Kind           `msgpack:"kind"`
	Address  ledger.Address `msgpack:"address"`
	Schedule string         `msgpack:"schedule,omitempty"`
}

// Account returns a trigger that fires when the account at addr changes.
func Account(addr ledger.Address) Trigger { return Trigger{Kind: KindAccount, Address: addr} }

// Cron returns a trigger that fires on a schedule.
func Cron(schedule string) Trigger { return Trigger{Kind: KindCron, Schedule: schedule} }

// Immediate returns a trigger that fires once, on the first kickoff.
func Immediate() Trigger { return Trigger{Kind: KindImmediate} }

// Validate checks that the trigger is well formed.
func (t Trigger) Validate() error {
	switch t.Kind {
	case KindAccount:
		if t.Address.IsZero() {
			return fmt.Errorf("%w: account trigger without address", ledger.ErrInvalidAddress)
		}
		return nil
	case KindCron:
		if _, err := cron.Parse(t.Schedule); err != nil {
			return fmt.Errorf("%w: %q: %w", ErrInvalidSchedule, t.Schedule, err)
		}
		return nil
	case KindImmediate:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, t.Kind)
	}
}

// String renders the trigger for logs.
func (t Trigger) String() string {
	switch t.Kind {
	case KindAccount:
		return "account(" + t.Address.Short() + ")"
	case KindCron:
		return "cron(" + t.Schedule + ")"
	default:
		return string(t.Kind)
	}
}

// Fingerprint summarizes watched account content.
type Fingerprint [32]byte

// String returns a short hex prefix for logs.
func (f Fingerprint) String() string { return fmt.Sprintf("%x", f[:8]) }

// ComputeFingerprint hashes content, folded with the prior fingerprint
// when there is one, so repeated kickoffs over unchanged data still
// produce distinct values.
func ComputeFingerprint(content []byte, prior *Fingerprint) Fingerprint {
	h := blake3.New(32, nil)
	if prior != nil {
		_, _ = h.Write(prior[:])
	}
	_, _ = h.Write(content)
	var out Fingerprint
	copy(out[:], h.Sum(nil))
	return out
}

// Context is what a kickoff records about the trigger that authorized
// it. Only the field matching Kind is meaningful.
type Context struct {
	Kind        Kind        `msgpack:"kind"`
	Fingerprint Fingerprint `msgpack:"fingerprint"`
	FiredAt     time.Time   `msgpack:"fired_at"`
}

// PriorFingerprint returns the fingerprint to fold into the next one, or
// nil when c is not an account context.
func (c *Context) PriorFingerprint() *Fingerprint {
	if c == nil || c.Kind != KindAccount {
		return nil
	}
	fp := c.Fingerprint
	return &fp
}
