package builder_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/xraph/crank/builder"
	"github.com/xraph/crank/internal/devnet"
	"github.com/xraph/crank/ledger"
	"github.com/xraph/crank/ledger/memory"
	"github.com/xraph/crank/queue"
	"github.com/xraph/crank/trigger"
)

var (
	authority = ledger.NamedAddress("authority")
	signer    = ledger.NamedAddress("worker-signer")
	worker    = queue.WorkerAddress(7)
)

func setup(t *testing.T, trig trigger.Trigger, target uint64, queueOpts ...queue.Option) (*devnet.Devnet, ledger.Address, ledger.Address) {
	t.Helper()
	d := devnet.New([]memory.Option{memory.WithSlotDuration(time.Second)}, queueOpts...)
	q, c, err := d.CreateCounterQueue(context.Background(), devnet.CounterQueue{
		Authority: authority,
		ID:        "chain",
		Trigger:   trig,
		Target:    target,
		Funding:   1_000_000,
	})
	if err != nil {
		t.Fatalf("CreateCounterQueue: %v", err)
	}
	return d, q, c
}

func newBuilder(d *devnet.Devnet, opts ...builder.Option) *builder.Builder {
	opts = append([]builder.Option{builder.WithWorker(worker)}, opts...)
	return builder.New(d, signer, opts...)
}

func mustBuild(t *testing.T, b *builder.Builder, addr ledger.Address) *builder.Result {
	t.Helper()
	res, err := b.Build(context.Background(), addr)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return res
}

func submit(t *testing.T, d *devnet.Devnet, res *builder.Result) {
	t.Helper()
	if _, err := d.Submit(context.Background(), res.Batch); err != nil {
		t.Fatalf("Submit: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Chains
// ──────────────────────────────────────────────────

func TestBuild_FullChain(t *testing.T) {
	d, q, c := setup(t, trigger.Immediate(), 3)

	res := mustBuild(t, newBuilder(d), q)
	if res == nil {
		t.Fatal("expected a batch")
	}
	if res.Steps != 3 || res.Remaining {
		t.Fatalf("steps=%d remaining=%v, want 3/false", res.Steps, res.Remaining)
	}
	if res.Batch.Payer != signer {
		t.Errorf("payer = %s, want signer", res.Batch.Payer.Short())
	}
	submit(t, d, res)

	cnt, err := d.Counter(context.Background(), c)
	if err != nil {
		t.Fatalf("Counter: %v", err)
	}
	if cnt.Count != 3 || cnt.LastPayer != signer {
		t.Errorf("counter = %+v", cnt)
	}
	st, _ := d.Queue(context.Background(), q)
	if st.InChain() {
		t.Error("queue still InChain")
	}
}

func TestBuild_SizeCapSplitsChain(t *testing.T) {
	d, q, _ := setup(t, trigger.Immediate(), 3)

	full := mustBuild(t, newBuilder(d), q)
	if full == nil || full.Steps != 3 {
		t.Fatalf("full build = %+v", full)
	}

	// A cap that fits exactly the first two instructions.
	two := &ledger.Batch{Payer: full.Batch.Payer, Instructions: full.Batch.Instructions[:2]}
	capSize, err := two.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	capped := newBuilder(d, builder.WithSizeLimit(capSize))

	first := mustBuild(t, capped, q)
	if first == nil || first.Steps != 2 || !first.Remaining {
		t.Fatalf("first = %+v, want 2 steps remaining", first)
	}
	if first.Size > capSize {
		t.Errorf("size %d exceeds cap %d", first.Size, capSize)
	}
	for i, ix := range first.Batch.Instructions {
		if !ix.Equal(full.Batch.Instructions[i]) {
			t.Errorf("instruction %d differs from the full chain", i)
		}
	}
	submit(t, d, first)

	second := mustBuild(t, capped, q)
	if second == nil || second.Steps != 1 || second.Remaining {
		t.Fatalf("second = %+v, want 1 step, done", second)
	}
	submit(t, d, second)

	if res := mustBuild(t, capped, q); res != nil {
		t.Errorf("expected nothing to do, got %d steps", res.Steps)
	}
}

func TestBuild_MaxInstructions(t *testing.T) {
	d, q, _ := setup(t, trigger.Immediate(), 5)

	res := mustBuild(t, newBuilder(d, builder.WithMaxInstructions(2)), q)
	if res == nil || res.Steps != 2 || !res.Remaining {
		t.Fatalf("res = %+v, want 2 steps remaining", res)
	}
}

func TestBuild_StopsAtFailedSimulation(t *testing.T) {
	d, q, _ := setup(t, trigger.Immediate(), 5)
	two := uint64(2)
	if _, err := d.Submit(context.Background(), ledger.NewBatch(authority,
		queue.UpdateInstruction(authority, q, queue.Settings{RateLimit: &two}),
	)); err != nil {
		t.Fatalf("update: %v", err)
	}

	res := mustBuild(t, newBuilder(d), q)
	if res == nil || res.Steps != 2 || !res.Remaining {
		t.Fatalf("res = %+v, want 2 steps remaining", res)
	}
}

// flakySimulator breaks the failOn-th Simulate call: it returns err, or a
// post-state whose queue account no longer decodes when err is nil.
type flakySimulator struct {
	*devnet.Devnet
	failOn int
	err    error
	calls  int
}

func (f *flakySimulator) Simulate(ctx context.Context, b *ledger.Batch, watch ...ledger.Address) (*ledger.Simulation, error) {
	f.calls++
	if f.calls != f.failOn {
		return f.Devnet.Simulate(ctx, b, watch...)
	}
	if f.err != nil {
		return nil, f.err
	}
	sim := &ledger.Simulation{}
	for _, addr := range watch {
		sim.Accounts = append(sim.Accounts, ledger.KeyedAccount{
			Address: addr,
			Account: &ledger.Account{Owner: ledger.SystemProgramID, Data: []byte("clobbered")},
		})
	}
	return sim, nil
}

func TestBuild_SimulateErrorKeepsPrefix(t *testing.T) {
	d, q, c := setup(t, trigger.Immediate(), 5)
	flaky := &flakySimulator{Devnet: d, failOn: 3, err: errors.New("rpc: connection reset")}
	b := builder.New(flaky, signer, builder.WithWorker(worker))

	res := mustBuild(t, b, q)
	if res == nil || res.Steps != 2 || !res.Remaining {
		t.Fatalf("res = %+v, want 2 steps remaining", res)
	}
	submit(t, d, res)
	cnt, err := d.Counter(context.Background(), c)
	if err != nil {
		t.Fatalf("Counter: %v", err)
	}
	if cnt.Count != 2 {
		t.Errorf("count = %d, want 2", cnt.Count)
	}
}

func TestBuild_SimulateErrorOnEntry(t *testing.T) {
	d, q, _ := setup(t, trigger.Immediate(), 5)
	reset := errors.New("rpc: connection reset")
	b := builder.New(&flakySimulator{Devnet: d, failOn: 1, err: reset}, signer, builder.WithWorker(worker))

	res, err := b.Build(context.Background(), q)
	if !errors.Is(err, reset) || res != nil {
		t.Fatalf("Build = %+v, %v; want nil and the transport error", res, err)
	}
}

func TestBuild_UndecodablePostStateKeepsPrefix(t *testing.T) {
	d, q, _ := setup(t, trigger.Immediate(), 5)
	b := builder.New(&flakySimulator{Devnet: d, failOn: 4}, signer, builder.WithWorker(worker))

	res := mustBuild(t, b, q)
	if res == nil || res.Steps != 3 || !res.Remaining {
		t.Fatalf("res = %+v, want 3 steps remaining", res)
	}

	entry := builder.New(&flakySimulator{Devnet: d, failOn: 1}, signer, builder.WithWorker(worker))
	if _, err := entry.Build(context.Background(), q); !errors.Is(err, queue.ErrQueueNotFound) {
		t.Fatalf("entry decode: expected ErrQueueNotFound, got %v", err)
	}
}

// ──────────────────────────────────────────────────
// Nothing to do
// ──────────────────────────────────────────────────

func TestBuild_ImmediateConsumed(t *testing.T) {
	d, q, _ := setup(t, trigger.Immediate(), 1)
	b := newBuilder(d)

	submit(t, d, mustBuild(t, b, q))
	if res := mustBuild(t, b, q); res != nil {
		t.Fatalf("expected nil after the immediate chain ran, got %d steps", res.Steps)
	}
}

func TestBuild_PausedQueue(t *testing.T) {
	d, q, _ := setup(t, trigger.Immediate(), 1)
	if _, err := d.Submit(context.Background(), ledger.NewBatch(authority, queue.PauseInstruction(authority, q))); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if res := mustBuild(t, newBuilder(d), q); res != nil {
		t.Fatal("paused queue produced a batch")
	}
}

func TestBuild_CronNotDue(t *testing.T) {
	d, q, _ := setup(t, trigger.Cron("0 0 * * * *"), 1)
	b := newBuilder(d)

	d.Advance(10 * time.Minute)
	if res := mustBuild(t, b, q); res != nil {
		t.Fatal("cron queue built before its schedule")
	}
	d.Advance(time.Hour)
	if res := mustBuild(t, b, q); res == nil || res.Steps != 1 {
		t.Fatalf("res = %+v, want 1 step", res)
	}
}

// ──────────────────────────────────────────────────
// Account triggers
// ──────────────────────────────────────────────────

func TestBuild_AccountTrigger(t *testing.T) {
	feed := ledger.NamedAddress("feed")
	d, q, _ := setup(t, trigger.Account(feed), 1)
	b := newBuilder(d)

	if _, err := b.Build(context.Background(), q); !errors.Is(err, trigger.ErrMissingAccount) {
		t.Fatalf("expected ErrMissingAccount, got %v", err)
	}

	d.SetAccount(feed, &ledger.Account{Owner: ledger.SystemProgramID, Data: []byte("v1")})
	for i := 0; i < 2; i++ {
		res := mustBuild(t, b, q)
		if res == nil {
			t.Fatalf("round %d: expected a batch", i)
		}
		submit(t, d, res)
	}
}

// ──────────────────────────────────────────────────
// Failures and telemetry
// ──────────────────────────────────────────────────

func TestBuild_EntryFailed(t *testing.T) {
	d, q, _ := setup(t, trigger.Immediate(), 1, queue.WithFee(10_000_000))

	_, err := newBuilder(d).Build(context.Background(), q)
	if !errors.Is(err, builder.ErrEntryFailed) {
		t.Fatalf("expected ErrEntryFailed, got %v", err)
	}
}

func TestBuild_UnknownQueue(t *testing.T) {
	d, _, _ := setup(t, trigger.Immediate(), 1)

	_, err := newBuilder(d).Build(context.Background(), ledger.NamedAddress("nope"))
	if !errors.Is(err, ledger.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestBuild_Span(t *testing.T) {
	d, q, _ := setup(t, trigger.Immediate(), 2)
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	mustBuild(t, newBuilder(d, builder.WithTracer(tp.Tracer("test"))), q)

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name() != "crank.build" {
		t.Errorf("span name = %q", spans[0].Name())
	}
	var steps int64 = -1
	for _, a := range spans[0].Attributes() {
		if a.Key == attribute.Key("crank.steps") {
			steps = a.Value.AsInt64()
		}
	}
	if steps != 2 {
		t.Errorf("crank.steps = %d, want 2", steps)
	}
}
