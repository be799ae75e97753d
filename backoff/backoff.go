// Package backoff computes reconnect delays for the ledger RPC client.
// Strategies are stateless and safe for concurrent use.
package backoff

import (
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before retry attempt n. Attempt 1 is the
// first retry after the initial failure.
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Func adapts a function to a Strategy.
type Func func(attempt int) time.Duration

// Delay calls f.
func (f Func) Delay(attempt int) time.Duration { return f(attempt) }

// Constant waits the same interval before every attempt.
type Constant time.Duration

// NewConstant returns a constant strategy.
func NewConstant(interval time.Duration) Constant { return Constant(interval) }

// Delay returns the interval.
func (c Constant) Delay(int) time.Duration { return time.Duration(c) }

// Exponential doubles the delay each attempt up to Max. With Jitter > 0
// the delay is drawn uniformly from [(1-Jitter)·d, d], so workers that
// lost the same ledger endpoint do not redial in lockstep.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
	// Jitter is the fraction of the delay that is randomized, in [0, 1].
	Jitter float64
}

// Delay returns Initial·2^(attempt-1), capped at Max, with jitter applied.
func (e Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := e.Initial
	for i := 1; i < attempt; i++ {
		// Stop doubling at the cap or before the duration overflows.
		if (e.Max > 0 && d >= e.Max) || d > time.Duration(1<<62) {
			break
		}
		d *= 2
	}
	if e.Max > 0 && d > e.Max {
		d = e.Max
	}
	if e.Jitter <= 0 || d <= 0 {
		return d
	}
	j := min(e.Jitter, 1)
	spread := time.Duration(j * float64(d))
	return d - spread + time.Duration(rand.Int64N(int64(spread)+1)) //nolint:gosec // jitter does not need crypto rand
}

// DefaultStrategy is the ledger RPC reconnect schedule: from half a second
// doubling to thirty seconds, fully jittered.
func DefaultStrategy() Strategy {
	return Exponential{Initial: 500 * time.Millisecond, Max: 30 * time.Second, Jitter: 1}
}

// Sleep waits for d and reports true, or returns false early when done is
// closed.
func Sleep(done <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-done:
			return false
		default:
			return true
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-done:
		return false
	}
}
