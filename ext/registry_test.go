package ext_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/xraph/crank/attempt"
	"github.com/xraph/crank/ext"
	"github.com/xraph/crank/id"
	"github.com/xraph/crank/ledger"
)

// ── Test extensions ─────────────────────────────────

// journal is shared by extensions so tests can assert cross-extension
// ordering.
type journal struct{ entries []string }

func (j *journal) note(ext, hook string) { j.entries = append(j.entries, ext+"."+hook) }

// everyHook implements every lifecycle hook.
type everyHook struct {
	name string
	j    *journal
}

func (e *everyHook) Name() string { return e.name }

func (e *everyHook) OnRoundStarted(context.Context, id.RoundID, int) error {
	e.j.note(e.name, "RoundStarted")
	return nil
}

func (e *everyHook) OnRoundCompleted(context.Context, ext.Round) error {
	e.j.note(e.name, "RoundCompleted")
	return nil
}

func (e *everyHook) OnBatchSubmitted(context.Context, *attempt.Attempt) error {
	e.j.note(e.name, "BatchSubmitted")
	return nil
}

func (e *everyHook) OnBatchFailed(context.Context, *attempt.Attempt, error) error {
	e.j.note(e.name, "BatchFailed")
	return nil
}

func (e *everyHook) OnQueueSkipped(context.Context, *attempt.Attempt, error) error {
	e.j.note(e.name, "QueueSkipped")
	return nil
}

func (e *everyHook) OnShutdown(context.Context) error {
	e.j.note(e.name, "Shutdown")
	return nil
}

// submittedOnly watches successful batches and nothing else.
type submittedOnly struct {
	j *journal
}

func (s *submittedOnly) Name() string { return "submitted-only" }

func (s *submittedOnly) OnBatchSubmitted(context.Context, *attempt.Attempt) error {
	s.j.note("submitted-only", "BatchSubmitted")
	return nil
}

// broken errors on submit and panics on shutdown.
type broken struct{}

func (broken) Name() string { return "broken" }

func (broken) OnBatchSubmitted(context.Context, *attempt.Attempt) error {
	return errors.New("sink unavailable")
}

func (broken) OnShutdown(context.Context) error { panic("closed twice") }

func newAttempt() *attempt.Attempt {
	return attempt.New(id.NewRoundID(), ledger.NamedAddress("q"), ledger.NamedAddress("w"))
}

// ── Tests ───────────────────────────────────────────

func TestRegistry_Extensions(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	j := &journal{}
	r.Register(&everyHook{name: "a", j: j})
	r.Register(&submittedOnly{j: j})

	var names []string
	for _, e := range r.Extensions() {
		names = append(names, e.Name())
	}
	if !slices.Equal(names, []string{"a", "submitted-only"}) {
		t.Fatalf("extensions = %v", names)
	}
}

func TestRegistry_RoutesToImplementorsInOrder(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	j := &journal{}
	r.Register(&everyHook{name: "a", j: j})
	r.Register(&submittedOnly{j: j})
	r.Register(&everyHook{name: "b", j: j})

	ctx := context.Background()
	a := newAttempt()
	r.EmitBatchSubmitted(ctx, a)
	r.EmitBatchFailed(ctx, a, errors.New("rejected"))

	want := []string{
		"a.BatchSubmitted", "submitted-only.BatchSubmitted", "b.BatchSubmitted",
		"a.BatchFailed", "b.BatchFailed",
	}
	if !slices.Equal(j.entries, want) {
		t.Fatalf("journal = %v, want %v", j.entries, want)
	}
}

func TestRegistry_EveryEmitter(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	j := &journal{}
	r.Register(&everyHook{name: "x", j: j})

	ctx := context.Background()
	a := newAttempt()
	round := id.NewRoundID()
	r.EmitRoundStarted(ctx, round, 3)
	r.EmitBatchSubmitted(ctx, a)
	r.EmitBatchFailed(ctx, a, errors.New("fail"))
	r.EmitQueueSkipped(ctx, a, nil)
	r.EmitRoundCompleted(ctx, ext.Round{ID: round, Queues: 3, Elapsed: time.Second})
	r.EmitShutdown(ctx)

	want := []string{
		"x.RoundStarted", "x.BatchSubmitted", "x.BatchFailed",
		"x.QueueSkipped", "x.RoundCompleted", "x.Shutdown",
	}
	if !slices.Equal(j.entries, want) {
		t.Fatalf("journal = %v, want %v", j.entries, want)
	}
}

func TestRegistry_HookFailuresAreContained(t *testing.T) {
	var logs bytes.Buffer
	r := ext.NewRegistry(slog.New(slog.NewTextHandler(&logs, nil)))
	j := &journal{}
	r.Register(broken{})
	r.Register(&everyHook{name: "after", j: j})

	ctx := context.Background()
	r.EmitBatchSubmitted(ctx, newAttempt())
	r.EmitShutdown(ctx)

	if !slices.Equal(j.entries, []string{"after.BatchSubmitted", "after.Shutdown"}) {
		t.Fatalf("later extension missed events: %v", j.entries)
	}
	out := logs.String()
	for _, want := range []string{"sink unavailable", "panic: closed twice", "extension=broken"} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q:\n%s", want, out)
		}
	}
}

func TestRegistry_Empty(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	ctx := context.Background()

	r.EmitRoundStarted(ctx, id.NewRoundID(), 0)
	r.EmitRoundCompleted(ctx, ext.Round{})
	r.EmitBatchSubmitted(ctx, newAttempt())
	r.EmitBatchFailed(ctx, newAttempt(), errors.New("x"))
	r.EmitQueueSkipped(ctx, newAttempt(), errors.New("x"))
	r.EmitShutdown(ctx)

	if len(r.Extensions()) != 0 {
		t.Fatal("expected no extensions")
	}
}
