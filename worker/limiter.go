package worker

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/xraph/crank/ledger"
)

// QueueConfig overrides the default throttle for one queue.
type QueueConfig struct {
	Queue ledger.Address

	// RateLimit is the maximum sustained attempts per second for the
	// queue. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// queueState tracks runtime state for a single queue.
type queueState struct {
	limiter *rate.Limiter
	active  int
}

// Limiter throttles attempts per queue on this worker. At most one
// attempt per queue runs at a time, and when a rate is configured a
// token bucket bounds how often a queue is attempted. It is safe for
// concurrent use.
type Limiter struct {
	mu        sync.Mutex
	rate      float64
	burst     int
	overrides map[ledger.Address]QueueConfig
	queues    map[ledger.Address]*queueState
}

// NewLimiter returns a Limiter applying perSecond (with burst) to every
// queue without an override. A zero perSecond disables rate limiting but
// keeps the one-attempt-per-queue gate.
func NewLimiter(perSecond float64, burst int, overrides ...QueueConfig) *Limiter {
	l := &Limiter{
		rate:      perSecond,
		burst:     burst,
		overrides: make(map[ledger.Address]QueueConfig, len(overrides)),
		queues:    make(map[ledger.Address]*queueState),
	}
	for _, cfg := range overrides {
		l.overrides[cfg.Queue] = cfg
	}
	return l
}

func newLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

func (l *Limiter) stateLocked(q ledger.Address) *queueState {
	qs := l.queues[q]
	if qs != nil {
		return qs
	}
	perSecond, burst := l.rate, l.burst
	if cfg, ok := l.overrides[q]; ok {
		perSecond, burst = cfg.RateLimit, cfg.RateBurst
	}
	qs = &queueState{limiter: newLimiter(perSecond, burst)}
	l.queues[q] = qs
	return qs
}

// Acquire reports whether an attempt on q may proceed now. On true the
// caller MUST call Release when the attempt completes.
func (l *Limiter) Acquire(q ledger.Address) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	qs := l.stateLocked(q)
	if qs.active > 0 {
		return false
	}
	if qs.limiter != nil && !qs.limiter.Allow() {
		return false
	}
	qs.active++
	return true
}

// Release ends the attempt started by a successful Acquire.
func (l *Limiter) Release(q ledger.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if qs := l.queues[q]; qs != nil && qs.active > 0 {
		qs.active--
	}
}

// SetQueueConfig dynamically updates (or creates) a queue override.
func (l *Limiter) SetQueueConfig(cfg QueueConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.overrides[cfg.Queue] = cfg
	qs := &queueState{limiter: newLimiter(cfg.RateLimit, cfg.RateBurst)}
	// Preserve current active count if reconfiguring.
	if existing := l.queues[cfg.Queue]; existing != nil {
		qs.active = existing.active
	}
	l.queues[cfg.Queue] = qs
}

// Forget drops the runtime state of q, for queues that were deleted.
// Overrides are kept.
func (l *Limiter) Forget(q ledger.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if qs := l.queues[q]; qs != nil && qs.active == 0 {
		delete(l.queues, q)
	}
}

// ActiveCount returns the number of running attempts for q.
func (l *Limiter) ActiveCount(q ledger.Address) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if qs := l.queues[q]; qs != nil {
		return qs.active
	}
	return 0
}
