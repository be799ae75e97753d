package crank

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Option configures a Node.
type Option func(*Node) error

// Storer is the minimal store interface held by the Node.
// It covers lifecycle operations only. The attempt history interface
// (attempt.Store) is used by the worker layer, which sits above this
// package.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// poolRunner is an internal interface for worker pool lifecycle.
type poolRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// extensionEmitter is an internal interface for extension lifecycle events.
type extensionEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Node is the off-chain coordinator of one crank worker: its
// configuration, logger, optional history store and, once wired by the
// engine package, its worker pool.
type Node struct {
	config     Config
	logger     *slog.Logger
	store      Storer
	extensions extensionEmitter
	pool       poolRunner

	// started tracks whether Start has been called.
	started bool
}

// New creates a new Node with the given options.
func New(opts ...Option) (*Node, error) {
	n := &Node{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(n); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// Logger returns the node's logger.
func (n *Node) Logger() *slog.Logger { return n.logger }

// Store returns the node's store, or nil when history is not persisted.
func (n *Node) Store() Storer { return n.store }

// Config returns a copy of the node's configuration.
func (n *Node) Config() Config { return n.config }

// SetPool sets the worker pool (called by the engine package).
func (n *Node) SetPool(p poolRunner) { n.pool = p }

// SetExtensions sets the extension emitter (called by the engine package).
func (n *Node) SetExtensions(e extensionEmitter) { n.extensions = e }

// Start begins processing rounds.
func (n *Node) Start(ctx context.Context) error {
	if n.pool == nil {
		return ErrNoLedger
	}
	if err := n.pool.Start(ctx); err != nil {
		return err
	}
	n.started = true
	return nil
}

// Stop gracefully shuts down the node.
func (n *Node) Stop(ctx context.Context) error {
	if n.pool != nil && n.started {
		if err := n.pool.Stop(ctx); err != nil {
			n.logger.Error("pool stop error", "error", err)
		}
		n.started = false
	}
	if n.extensions != nil {
		n.extensions.EmitShutdown(ctx)
	}
	if n.store != nil {
		return n.store.Close()
	}
	return nil
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(n *Node) error {
		if cfg.Concurrency <= 0 || cfg.SizeLimit <= 0 {
			return fmt.Errorf("%w: concurrency and size limit must be positive", ErrInvalidConfig)
		}
		n.config = cfg
		return nil
	}
}

// WithConcurrency sets the maximum number of queues processed concurrently.
func WithConcurrency(c int) Option {
	return func(n *Node) error {
		if c <= 0 {
			return fmt.Errorf("%w: concurrency %d", ErrInvalidConfig, c)
		}
		n.config.Concurrency = c
		return nil
	}
}

// WithRoundInterval sets how often the worker starts a round.
func WithRoundInterval(d time.Duration) Option {
	return func(n *Node) error {
		n.config.RoundInterval = d
		return nil
	}
}

// WithSizeLimit sets the maximum encoded batch size.
func WithSizeLimit(size int) Option {
	return func(n *Node) error {
		if size <= 0 {
			return fmt.Errorf("%w: size limit %d", ErrInvalidConfig, size)
		}
		n.config.SizeLimit = size
		return nil
	}
}

// WithWorkerID sets the worker account that receives step fees.
func WithWorkerID(workerID uint64) Option {
	return func(n *Node) error {
		n.config.WorkerID = workerID
		return nil
	}
}

// WithQueueRate sets the per-queue off-chain attempt rate.
func WithQueueRate(perSecond float64) Option {
	return func(n *Node) error {
		n.config.QueueRate = perSecond
		return nil
	}
}

// WithLogger sets the structured logger for the node.
func WithLogger(l *slog.Logger) Option {
	return func(n *Node) error {
		n.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for attempt history.
// The store must implement Storer at minimum; typically it will also
// implement attempt.Store.
func WithStore(s Storer) Option {
	return func(n *Node) error {
		n.store = s
		return nil
	}
}
