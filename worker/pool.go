package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/crank/attempt"
	"github.com/xraph/crank/crankset"
	"github.com/xraph/crank/ext"
	"github.com/xraph/crank/id"
	"github.com/xraph/crank/ledger"
)

// Pool runs rounds over the crankable set. A round drains the set and
// attempts every queue concurrently, bounded by the pool's concurrency.
// Rounds start on a ticker or as soon as the set signals new marks.
type Pool struct {
	set        crankset.Set
	executor   *Executor
	extensions *ext.Registry
	limiter    *Limiter
	logger     *slog.Logger

	concurrency int
	interval    time.Duration

	// carry holds queues re-marked by the previous round. They join the
	// next round without waking the loop early.
	carryMu sync.Mutex
	carry   []ledger.Address

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets how many queues a round attempts at once.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithRoundInterval sets how often a round starts when nothing wakes the
// pool earlier.
func WithRoundInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.interval = d }
}

// WithLimiter sets the per-queue throttle.
func WithLimiter(l *Limiter) PoolOption {
	return func(p *Pool) { p.limiter = l }
}

// NewPool creates a worker pool.
func NewPool(
	set crankset.Set,
	executor *Executor,
	extensions *ext.Registry,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	p := &Pool{
		set:         set,
		executor:    executor,
		extensions:  extensions,
		logger:      logger,
		concurrency: 10,
		interval:    500 * time.Millisecond,
		stopCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the round loop. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	p.logger.Info("worker pool starting",
		slog.String("worker", p.executor.Worker().String()),
		slog.Int("concurrency", p.concurrency),
		slog.Duration("round_interval", p.interval),
	)

	p.wg.Add(1)
	go p.loop(ctx)
	return nil
}

// Stop signals the loop to stop and waits for the current round to
// finish. If the context expires first, in-flight attempts are
// cancelled.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping")
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active attempts")
		p.cancel()
		p.wg.Wait()
	}
	p.cancel()
	return nil
}

func (p *Pool) loop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
		case <-p.set.Ready():
		}
		p.RunRound(ctx)
	}
}

// RunRound drains the crankable set and attempts every queue once. It
// returns the round summary; a round with no queues is not emitted.
func (p *Pool) RunRound(ctx context.Context) ext.Round {
	start := time.Now()

	queues, err := p.set.Drain(ctx)
	if err != nil {
		p.logger.Error("drain crankable set", slog.String("error", err.Error()))
	}
	queues = p.withCarry(queues)
	if len(queues) == 0 {
		return ext.Round{}
	}

	round := ext.Round{ID: id.NewRoundID(), Queues: len(queues)}
	p.extensions.EmitRoundStarted(ctx, round.ID, len(queues))

	var (
		mu     sync.Mutex
		remark []ledger.Address
	)
	g := new(errgroup.Group)
	g.SetLimit(p.concurrency)
	for _, q := range queues {
		g.Go(func() error {
			a, again := p.attempt(ctx, round.ID, q)

			mu.Lock()
			defer mu.Unlock()
			switch a.Status {
			case attempt.StatusSubmitted:
				round.Submitted++
				round.Steps += a.Steps
			case attempt.StatusFailed:
				round.Failed++
			default:
				round.Skipped++
			}
			if again {
				remark = append(remark, q)
			}
			return nil
		})
	}
	_ = g.Wait() // attempts never return errors to the group

	p.carryMu.Lock()
	p.carry = append(p.carry, remark...)
	p.carryMu.Unlock()

	round.Elapsed = time.Since(start)
	p.extensions.EmitRoundCompleted(ctx, round)
	p.logger.Debug("round completed",
		slog.String("round_id", round.ID.String()),
		slog.Int("queues", round.Queues),
		slog.Int("submitted", round.Submitted),
		slog.Int("failed", round.Failed),
		slog.Int("steps", round.Steps),
		slog.Duration("elapsed", round.Elapsed),
	)
	return round
}

func (p *Pool) attempt(ctx context.Context, round id.RoundID, q ledger.Address) (*attempt.Attempt, bool) {
	a := attempt.New(round, q, p.executor.Worker())

	if p.limiter != nil {
		if !p.limiter.Acquire(q) {
			p.executor.Throttled(ctx, a)
			return a, true
		}
		defer p.limiter.Release(q)
	}

	again, err := p.executor.Execute(ctx, a)
	if err != nil {
		level := slog.LevelDebug
		if a.Status == attempt.StatusFailed {
			level = slog.LevelWarn
		}
		p.logger.Log(ctx, level, "crank attempt did not submit",
			slog.String("queue", q.Short()),
			slog.String("status", string(a.Status)),
			slog.String("error", err.Error()),
		)
	}
	return a, again
}

// withCarry merges the queues carried from the previous round into
// drained, without duplicates.
func (p *Pool) withCarry(drained []ledger.Address) []ledger.Address {
	p.carryMu.Lock()
	carry := p.carry
	p.carry = nil
	p.carryMu.Unlock()

	if len(carry) == 0 {
		return drained
	}
	seen := make(map[ledger.Address]struct{}, len(drained)+len(carry))
	out := make([]ledger.Address, 0, len(drained)+len(carry))
	for _, list := range [][]ledger.Address{drained, carry} {
		for _, q := range list {
			if _, ok := seen[q]; ok {
				continue
			}
			seen[q] = struct{}{}
			out = append(out, q)
		}
	}
	return out
}
