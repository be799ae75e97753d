// Package engine wires the crank subsystems together: the extension
// registry, the middleware chain, the batch builder, the worker pool and
// the observer that keeps the crankable set current.
//
// This package exists to break an import cycle: the root crank package
// holds configuration and errors imported by every subsystem and so
// cannot import them back. Engine sits above the subsystems and below
// the application layer.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/crank"
	"github.com/xraph/crank/attempt"
	"github.com/xraph/crank/builder"
	"github.com/xraph/crank/crankset"
	"github.com/xraph/crank/ext"
	"github.com/xraph/crank/ledger"
	mw "github.com/xraph/crank/middleware"
	"github.com/xraph/crank/observability"
	"github.com/xraph/crank/observer"
	"github.com/xraph/crank/queue"
	"github.com/xraph/crank/worker"
)

const instrumentationName = "github.com/xraph/crank"

// Engine runs one crank worker against a ledger. Use Build to create
// one from a Node.
type Engine struct {
	node       *crank.Node
	client     ledger.Client
	signer     ledger.Address
	extensions *ext.Registry
	store      attempt.Store
	set        crankset.Set
	builder    *builder.Builder
	pool       *worker.Pool
	observer   *observer.Observer
	mws        []mw.Middleware
	overrides  []worker.QueueConfig
	logger     *slog.Logger

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	mu        sync.Mutex
	cancelObs context.CancelFunc
	obsDone   chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithSigner sets the address that pays for and signs crank batches.
func WithSigner(addr ledger.Address) Option {
	return func(eng *Engine) { eng.signer = addr }
}

// WithStore sets where attempts are recorded. When unset the node's
// store is used if it implements attempt.Store.
func WithStore(s attempt.Store) Option {
	return func(eng *Engine) { eng.store = s }
}

// WithCrankset sets the crankable set shared by the observer and pool.
// The default is an in-process set.
func WithCrankset(s crankset.Set) Option {
	return func(eng *Engine) { eng.set = s }
}

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.extensions.Register(e) }
}

// WithMiddleware adds middleware to the attempt chain. User middleware
// runs inside the default stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithQueueConfig overrides the attempt rate of specific queues.
func WithQueueConfig(configs ...worker.QueueConfig) Option {
	return func(eng *Engine) { eng.overrides = append(eng.overrides, configs...) }
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider used by the metrics
// middleware and the observability extension.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// Build creates an Engine for node that cranks queues on client.
func Build(node *crank.Node, client ledger.Client, opts ...Option) (*Engine, error) {
	if client == nil {
		return nil, crank.ErrNoLedger
	}
	logger := node.Logger()

	eng := &Engine{
		node:       node,
		client:     client,
		extensions: ext.NewRegistry(logger),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(eng)
	}
	if eng.signer.IsZero() {
		return nil, crank.ErrNoSigner
	}
	if eng.store == nil {
		if s, ok := node.Store().(attempt.Store); ok {
			eng.store = s
		}
	}
	if eng.set == nil {
		eng.set = crankset.NewMemory()
	}

	config := node.Config()

	// Build tracing middleware and builder tracer (custom provider or global).
	var tracingMw mw.Middleware
	builderOpts := []builder.Option{
		builder.WithWorker(queue.WorkerAddress(config.WorkerID)),
		builder.WithSizeLimit(config.SizeLimit),
		builder.WithMaxInstructions(config.MaxInstructions),
		builder.WithLogger(logger),
	}
	if eng.tracerProvider != nil {
		tracer := eng.tracerProvider.Tracer(instrumentationName)
		tracingMw = mw.TracingWithTracer(tracer)
		builderOpts = append(builderOpts, builder.WithTracer(tracer))
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
		obsExt = observability.NewMetricsExtensionWithMeter(
			eng.meterProvider.Meter(instrumentationName + "/observability"))
	} else {
		metricsMw = mw.Metrics()
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// Default middleware stack: recover → tracing → metrics → logging → timeout.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Timeout(config.AttemptTimeout),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	eng.builder = builder.New(client, eng.signer, builderOpts...)
	executor := worker.NewExecutor(eng.builder, client, eng.extensions, eng.store, logger, allMws...)

	poolOpts := []worker.PoolOption{
		worker.WithPoolConcurrency(config.Concurrency),
		worker.WithRoundInterval(config.RoundInterval),
		worker.WithLimiter(worker.NewLimiter(config.QueueRate, 1, eng.overrides...)),
	}
	eng.pool = worker.NewPool(eng.set, executor, eng.extensions, logger, poolOpts...)
	eng.observer = observer.New(eng.set, observer.WithLogger(logger))

	// Wire back into the Node.
	node.SetPool(eng.pool)
	node.SetExtensions(eng.extensions)

	return eng, nil
}

// Start subscribes to ledger notifications when the client delivers
// them, indexes every queue on the ledger, and starts the pool.
// Notifications that arrive during the scan are buffered and applied
// once it finishes, so no queue created in between goes unindexed.
func (eng *Engine) Start(ctx context.Context) error {
	n, ok := eng.client.(ledger.Notifier)
	if !ok {
		eng.logger.Warn("ledger client delivers no notifications; queues are only indexed at start")
		if err := eng.Resync(ctx); err != nil {
			return err
		}
		return eng.node.Start(ctx)
	}

	obsCtx, cancel := context.WithCancel(context.Background())
	feed := eng.observer.Subscribe(obsCtx, n)
	if err := eng.Resync(ctx); err != nil {
		cancel()
		feed.Close()
		return err
	}

	done := make(chan struct{})
	eng.mu.Lock()
	eng.cancelObs = cancel
	eng.obsDone = done
	eng.mu.Unlock()

	go func() {
		defer close(done)
		if err := eng.observer.Consume(obsCtx, feed); err != nil && !errors.Is(err, context.Canceled) {
			eng.logger.Error("observer stopped", slog.String("error", err.Error()))
		}
	}()

	return eng.node.Start(ctx)
}

// Resync rebuilds the observer's index from a full scan of the queue
// program's accounts. Clients without a Scanner are skipped.
func (eng *Engine) Resync(ctx context.Context) error {
	scanner, ok := eng.client.(ledger.Scanner)
	if !ok {
		return nil
	}
	return eng.observer.Sync(ctx, scanner, eng.client)
}

// Stop stops the observer, then gracefully shuts down the node.
func (eng *Engine) Stop(ctx context.Context) error {
	eng.mu.Lock()
	cancel, done := eng.cancelObs, eng.obsDone
	eng.cancelObs, eng.obsDone = nil, nil
	eng.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
	return eng.node.Stop(ctx)
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Node returns the underlying Node.
func (eng *Engine) Node() *crank.Node { return eng.node }

// Pool returns the worker pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }

// Observer returns the observer feeding the crankable set.
func (eng *Engine) Observer() *observer.Observer { return eng.observer }

// Crankset returns the crankable set.
func (eng *Engine) Crankset() crankset.Set { return eng.set }

// Builder returns the batch builder.
func (eng *Engine) Builder() *builder.Builder { return eng.builder }

// Store returns the attempt store, or nil when attempts are not recorded.
func (eng *Engine) Store() attempt.Store { return eng.store }
