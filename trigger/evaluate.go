package trigger

import (
	"errors"
	"fmt"
	"time"

	"github.com/xraph/crank/cron"
	"github.com/xraph/crank/ledger"
)

// State is the read-only chain state a trigger is evaluated against.
type State interface {
	// Account returns the account at addr or an error wrapping
	// ledger.ErrAccountNotFound.
	Account(addr ledger.Address) (*ledger.Account, error)
	Now() time.Time
}

// Decision is the outcome of an evaluation. Context is set only when
// Eligible.
type Decision struct {
	Eligible bool
	Context  *Context
}

// Evaluate decides whether t authorizes a kickoff now.
//
// Account triggers are always eligible; the returned context carries the
// fingerprint of the watched content folded with the prior one. Cron
// triggers are eligible when the schedule fires in the window after the
// prior activation, or in the current second when there is no prior cron
// context. Immediate triggers are eligible only when no prior context
// exists.
func Evaluate(t Trigger, st State, prior *Context) (Decision, error) {
	switch t.Kind {
	case KindAccount:
		acc, err := st.Account(t.Address)
		if err != nil {
			if errors.Is(err, ledger.ErrAccountNotFound) {
				return Decision{}, fmt.Errorf("%w: %s", ErrMissingAccount, t.Address)
			}
			return Decision{}, err
		}
		return Decision{
			Eligible: true,
			Context: &Context{
				Kind:        KindAccount,
				Fingerprint: ComputeFingerprint(acc.Data, prior.PriorFingerprint()),
			},
		}, nil

	case KindCron:
		sched, err := cron.Parse(t.Schedule)
		if err != nil {
			return Decision{}, fmt.Errorf("%w: %q: %w", ErrInvalidSchedule, t.Schedule, err)
		}
		now := st.Now().UTC()
		if prior == nil || prior.Kind != KindCron {
			if !cron.FiresAt(sched, now) {
				return Decision{}, nil
			}
			return Decision{
				Eligible: true,
				Context:  &Context{Kind: KindCron, FiredAt: now.Truncate(time.Second)},
			}, nil
		}
		fired, ok := cron.Latest(sched, prior.FiredAt, now)
		if !ok {
			return Decision{}, nil
		}
		return Decision{Eligible: true, Context: &Context{Kind: KindCron, FiredAt: fired}}, nil

	case KindImmediate:
		if prior != nil {
			return Decision{}, nil
		}
		return Decision{Eligible: true, Context: &Context{Kind: KindImmediate}}, nil

	default:
		return Decision{}, fmt.Errorf("%w: %q", ErrUnknownKind, t.Kind)
	}
}
