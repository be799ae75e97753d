// Package builder assembles crank batches.
//
// Given a queue address, Build fetches the queue, picks the entry
// instruction (kickoff when the queue is idle, crank when it is InChain)
// and then grows the batch one crank at a time, simulating after every
// append and following the simulated queue's next instruction. The batch
// stops growing at the first failed or erroring simulation, at the size cap, at the
// instruction ceiling or at the end of the chain. The result is always
// the last batch that simulated cleanly, which is a strict prefix of the
// logical chain.
package builder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/crank"
	"github.com/xraph/crank/ledger"
	"github.com/xraph/crank/queue"
	"github.com/xraph/crank/trigger"
)

// tracerName is the instrumentation scope name for batch building.
const tracerName = "github.com/xraph/crank/builder"

// DefaultMaxInstructions bounds the number of instructions in one batch.
const DefaultMaxInstructions = 64

// ErrEntryFailed is returned when the entry instruction does not
// simulate cleanly, so no batch can be built.
var ErrEntryFailed = errors.New("builder: entry instruction failed simulation")

// retryError marks a build failure after which the queue must be tried
// again next round. Nothing on the ledger will re-mark it: the queue is
// partway through a chain, or its state could not be read at all.
type retryError struct{ err error }

func (e *retryError) Error() string { return e.err.Error() }
func (e *retryError) Unwrap() error { return e.err }

// Retryable reports whether err came from a queue that should be built
// again next round.
func Retryable(err error) bool {
	var r *retryError
	return errors.As(err, &r)
}

// Client is the ledger capability the builder consumes.
type Client interface {
	ledger.Reader
	ledger.Simulator
}

// Result is a batch ready for submission.
type Result struct {
	Batch *ledger.Batch

	// Steps is the number of queue steps in Batch.
	Steps int

	// Size is the encoded size of Batch in bytes.
	Size int

	// Remaining reports that the queue is still InChain after Batch, so
	// it should be cranked again in a later round.
	Remaining bool
}

// Option configures a Builder.
type Option func(*Builder)

// WithWorker sets the account that receives step fees. Defaults to the
// signer.
func WithWorker(addr ledger.Address) Option {
	return func(b *Builder) { b.worker = addr }
}

// WithSizeLimit caps the encoded batch size in bytes.
func WithSizeLimit(n int) Option {
	return func(b *Builder) { b.sizeLimit = n }
}

// WithMaxInstructions caps the number of instructions per batch.
func WithMaxInstructions(n int) Option {
	return func(b *Builder) { b.maxInstructions = n }
}

// WithTracer sets the tracer used for build spans.
func WithTracer(t trace.Tracer) Option {
	return func(b *Builder) { b.tracer = t }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

// Builder builds crank batches signed and paid for by one worker.
type Builder struct {
	client          Client
	signer          ledger.Address
	worker          ledger.Address
	sizeLimit       int
	maxInstructions int
	tracer          trace.Tracer
	logger          *slog.Logger
}

// New returns a Builder for batches paid for by signer.
func New(client Client, signer ledger.Address, opts ...Option) *Builder {
	b := &Builder{
		client:          client,
		signer:          signer,
		worker:          signer,
		sizeLimit:       crank.DefaultSizeLimit,
		maxInstructions: DefaultMaxInstructions,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.tracer == nil {
		b.tracer = otel.Tracer(tracerName)
	}
	return b
}

// Signer returns the address that pays for and signs built batches.
func (b *Builder) Signer() ledger.Address { return b.signer }

// Build assembles the longest batch that advances the queue at addr. A
// nil Result with a nil error means there is nothing to do.
func (b *Builder) Build(ctx context.Context, addr ledger.Address) (*Result, error) {
	ctx, span := b.tracer.Start(ctx, "crank.build",
		trace.WithAttributes(attribute.String("crank.queue", addr.String())),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	res, err := b.build(ctx, addr)
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case res == nil:
		span.SetAttributes(attribute.Int("crank.steps", 0))
		span.SetStatus(codes.Ok, "")
	default:
		span.SetAttributes(
			attribute.Int("crank.steps", res.Steps),
			attribute.Int("crank.size", res.Size),
			attribute.Bool("crank.remaining", res.Remaining),
		)
		span.SetStatus(codes.Ok, "")
	}
	return res, err
}

func (b *Builder) build(ctx context.Context, addr ledger.Address) (*Result, error) {
	acc, err := b.client.Account(ctx, addr)
	if err != nil {
		err = fmt.Errorf("fetch queue %s: %w", addr.Short(), err)
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return nil, err
		}
		return nil, &retryError{err}
	}
	q, err := queue.Decode(acc)
	if err != nil {
		return nil, err
	}
	if q.State != queue.StateActive {
		return nil, nil
	}

	res, err := b.grow(ctx, addr, acc, q)
	if err != nil && q.InChain() && !Retryable(err) {
		return nil, &retryError{err}
	}
	return res, err
}

// grow simulates the batch one step at a time from the queue's entry
// instruction and returns the last prefix that simulated cleanly.
func (b *Builder) grow(ctx context.Context, addr ledger.Address, acc *ledger.Account, q *queue.Queue) (*Result, error) {
	entry, ok, err := b.entry(ctx, q)
	if err != nil || !ok {
		return nil, err
	}

	var (
		known     *ledger.Batch
		knownSize int
		post      *queue.Queue
		postData  []byte
	)
	batch := ledger.NewBatch(b.signer, entry)
	for batch.Len() <= b.maxInstructions {
		size, err := batch.Size()
		if err != nil {
			return nil, err
		}
		if size > b.sizeLimit {
			break
		}

		sim, err := b.client.Simulate(ctx, batch, addr)
		if err != nil {
			if known == nil {
				return nil, &retryError{fmt.Errorf("simulate %s: %w", addr.Short(), err)}
			}
			b.keepPrefix(addr, known, err.Error())
			break
		}
		if !sim.OK() {
			if known == nil {
				return nil, fmt.Errorf("%w: %s", ErrEntryFailed, sim.Err)
			}
			b.keepPrefix(addr, known, sim.Err)
			break
		}

		postAcc, ok := sim.Account(addr)
		if !ok {
			known, knownSize, post = batch, size, nil
			break
		}
		decoded, err := queue.Decode(postAcc)
		if err != nil {
			if known == nil {
				return nil, err
			}
			b.keepPrefix(addr, known, err.Error())
			break
		}
		known, knownSize = batch, size
		post, postData = decoded, postAcc.Data

		next, ok := queue.CrankInstruction(post, b.signer, b.worker)
		if !ok || post.State != queue.StateActive {
			break
		}
		batch = batch.With(next)
	}

	if known == nil {
		return nil, nil
	}
	// An ineligible kickoff succeeds without touching the queue.
	if known.Len() == 1 && !q.InChain() && post != nil && bytes.Equal(postData, acc.Data) {
		return nil, nil
	}
	return &Result{
		Batch:     known,
		Steps:     known.Len(),
		Size:      knownSize,
		Remaining: post != nil && post.InChain() && post.State == queue.StateActive,
	}, nil
}

// keepPrefix logs why the batch stopped growing before the chain ended.
func (b *Builder) keepPrefix(addr ledger.Address, known *ledger.Batch, reason string) {
	b.logger.Debug("crank simulation stopped, keeping prefix",
		slog.String("queue", addr.String()),
		slog.Int("steps", known.Len()),
		slog.String("reason", reason),
	)
}

// entry returns the first instruction of the batch. The second result is
// false when the queue's trigger is not eligible.
func (b *Builder) entry(ctx context.Context, q *queue.Queue) (ledger.Instruction, bool, error) {
	if ix, ok := queue.CrankInstruction(q, b.signer, b.worker); ok {
		return ix, true, nil
	}

	clock, err := b.client.Clock(ctx)
	if err != nil {
		return ledger.Instruction{}, false, &retryError{fmt.Errorf("read clock: %w", err)}
	}
	dec, err := trigger.Evaluate(q.Trigger, readerState{ctx: ctx, r: b.client, now: clock.Now}, q.PriorContext())
	if err != nil {
		return ledger.Instruction{}, false, err
	}
	if !dec.Eligible {
		return ledger.Instruction{}, false, nil
	}

	var fp *trigger.Fingerprint
	if q.Trigger.Kind == trigger.KindAccount {
		fp = &dec.Context.Fingerprint
	}
	return queue.KickoffInstruction(q, b.signer, b.worker, fp), true, nil
}

// readerState evaluates triggers against committed ledger state.
type readerState struct {
	ctx context.Context
	r   ledger.Reader
	now time.Time
}

func (s readerState) Account(addr ledger.Address) (*ledger.Account, error) {
	return s.r.Account(s.ctx, addr)
}

func (s readerState) Now() time.Time { return s.now }
