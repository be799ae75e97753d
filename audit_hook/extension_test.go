package audithook_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/xraph/crank/attempt"
	ah "github.com/xraph/crank/audit_hook"
	"github.com/xraph/crank/ext"
	"github.com/xraph/crank/id"
	"github.com/xraph/crank/ledger"
)

// ── Mock recorder ────────────────────────────────────

// mockRecorder captures audit events for verification.
type mockRecorder struct {
	mu     sync.Mutex
	events []*ah.AuditEvent
}

func (m *mockRecorder) Record(_ context.Context, evt *ah.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

func (m *mockRecorder) last() *ah.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return nil
	}
	return m.events[len(m.events)-1]
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func (m *mockRecorder) findByAction(action string) *ah.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, evt := range m.events {
		if evt.Action == action {
			return evt
		}
	}
	return nil
}

// ── Test helpers ─────────────────────────────────────

func newTestAttempt() *attempt.Attempt {
	a := attempt.New(id.NewRoundID(), ledger.NamedAddress("queue"), ledger.NamedAddress("worker"))
	a.Steps = 3
	a.Size = 512
	return a
}

// ── Tests ────────────────────────────────────────────

func TestExtension_Name(t *testing.T) {
	e := ah.New(&mockRecorder{})
	if e.Name() != "audit-hook" {
		t.Errorf("expected name %q, got %q", "audit-hook", e.Name())
	}
}

// ── Round tests ──────────────────────────────────────

func TestExtension_RoundStarted(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	round := id.NewRoundID()

	if err := e.OnRoundStarted(context.Background(), round, 4); err != nil {
		t.Fatalf("OnRoundStarted: %v", err)
	}

	evt := rec.last()
	if evt == nil {
		t.Fatal("no event recorded")
	}
	if evt.Action != ah.ActionRoundStarted {
		t.Errorf("Action: want %q, got %q", ah.ActionRoundStarted, evt.Action)
	}
	if evt.Resource != ah.ResourceRound || evt.Category != ah.CategoryRound {
		t.Errorf("Resource/Category: got %q/%q", evt.Resource, evt.Category)
	}
	if evt.ResourceID != round.String() {
		t.Errorf("ResourceID: want %q, got %q", round.String(), evt.ResourceID)
	}
	if evt.Metadata["queues"] != 4 {
		t.Errorf("Metadata[queues]: want 4, got %v", evt.Metadata["queues"])
	}
}

func TestExtension_RoundCompleted(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	r := ext.Round{ID: id.NewRoundID(), Queues: 3, Submitted: 2, Failed: 1, Steps: 7, Elapsed: 40 * time.Millisecond}
	if err := e.OnRoundCompleted(context.Background(), r); err != nil {
		t.Fatalf("OnRoundCompleted: %v", err)
	}

	evt := rec.last()
	if evt.Outcome != ah.OutcomeFailure {
		t.Errorf("Outcome: want %q with a failed queue, got %q", ah.OutcomeFailure, evt.Outcome)
	}
	if evt.Metadata["steps"] != 7 {
		t.Errorf("Metadata[steps]: want 7, got %v", evt.Metadata["steps"])
	}
	if evt.Metadata["elapsed_ms"] != int64(40) {
		t.Errorf("Metadata[elapsed_ms]: want 40, got %v", evt.Metadata["elapsed_ms"])
	}
}

// ── Queue tests ──────────────────────────────────────

func TestExtension_BatchSubmitted(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	a := newTestAttempt()
	a.Signature = ledger.Signature{0xab}

	if err := e.OnBatchSubmitted(context.Background(), a); err != nil {
		t.Fatalf("OnBatchSubmitted: %v", err)
	}

	evt := rec.last()
	if evt.Action != ah.ActionBatchSubmitted {
		t.Errorf("Action: want %q, got %q", ah.ActionBatchSubmitted, evt.Action)
	}
	if evt.ResourceID != a.Queue.String() {
		t.Errorf("ResourceID: want queue %q, got %q", a.Queue.String(), evt.ResourceID)
	}
	if evt.Severity != ah.SeverityInfo || evt.Outcome != ah.OutcomeSuccess {
		t.Errorf("Severity/Outcome: got %q/%q", evt.Severity, evt.Outcome)
	}
	if evt.Metadata["signature"] != a.Signature.String() {
		t.Errorf("Metadata[signature]: got %v", evt.Metadata["signature"])
	}
}

func TestExtension_BatchFailed(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	if err := e.OnBatchFailed(context.Background(), newTestAttempt(), errors.New("blockhash expired")); err != nil {
		t.Fatalf("OnBatchFailed: %v", err)
	}

	evt := rec.last()
	if evt.Severity != ah.SeverityCritical {
		t.Errorf("Severity: want %q, got %q", ah.SeverityCritical, evt.Severity)
	}
	if evt.Reason != "blockhash expired" || evt.Metadata["error"] != "blockhash expired" {
		t.Errorf("Reason: got %q, metadata %v", evt.Reason, evt.Metadata["error"])
	}
}

func TestExtension_QueueSkipped(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	ctx := context.Background()

	a := newTestAttempt()
	a.Status = attempt.StatusEmpty
	if err := e.OnQueueSkipped(ctx, a, nil); err != nil {
		t.Fatalf("OnQueueSkipped: %v", err)
	}
	if evt := rec.last(); evt.Severity != ah.SeverityInfo || evt.Reason != "" {
		t.Errorf("nothing to do: severity %q reason %q", evt.Severity, evt.Reason)
	}

	a.Status = attempt.StatusSkipped
	if err := e.OnQueueSkipped(ctx, a, errors.New("missing account")); err != nil {
		t.Fatalf("OnQueueSkipped: %v", err)
	}
	evt := rec.last()
	if evt.Severity != ah.SeverityWarning {
		t.Errorf("Severity: want %q, got %q", ah.SeverityWarning, evt.Severity)
	}
	if evt.Metadata["status"] != string(attempt.StatusSkipped) {
		t.Errorf("Metadata[status]: got %v", evt.Metadata["status"])
	}
}

// ── WithActions filter tests ─────────────────────────

func TestExtension_WithActions_FiltersDisabled(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec, ah.WithActions(ah.ActionBatchFailed))
	ctx := context.Background()

	if err := e.OnBatchSubmitted(ctx, newTestAttempt()); err != nil {
		t.Fatalf("OnBatchSubmitted: %v", err)
	}
	if rec.count() != 0 {
		t.Errorf("expected 0 events (submitted disabled), got %d", rec.count())
	}

	if err := e.OnBatchFailed(ctx, newTestAttempt(), errors.New("boom")); err != nil {
		t.Fatalf("OnBatchFailed: %v", err)
	}
	if rec.count() != 1 {
		t.Errorf("expected 1 event (failed enabled), got %d", rec.count())
	}
}

func TestExtension_WithMinSeverity(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec, ah.WithMinSeverity(ah.SeverityWarning))
	ctx := context.Background()

	_ = e.OnRoundStarted(ctx, id.NewRoundID(), 4)
	_ = e.OnQueueSkipped(ctx, newTestAttempt(), nil)
	if rec.count() != 0 {
		t.Fatalf("expected info events dropped, got %d", rec.count())
	}

	_ = e.OnQueueSkipped(ctx, newTestAttempt(), errors.New("throttled"))
	_ = e.OnBatchFailed(ctx, newTestAttempt(), errors.New("boom"))
	if rec.count() != 2 {
		t.Fatalf("expected warning and critical events, got %d", rec.count())
	}
}

func TestExtension_WithQueues(t *testing.T) {
	rec := &mockRecorder{}
	watched := newTestAttempt()
	e := ah.New(rec, ah.WithQueues(watched.Queue))
	ctx := context.Background()

	other := attempt.New(id.NewRoundID(), ledger.NamedAddress("other"), ledger.NamedAddress("worker"))
	_ = e.OnBatchSubmitted(ctx, other)
	if rec.count() != 0 {
		t.Fatalf("expected unwatched queue dropped, got %d", rec.count())
	}

	_ = e.OnBatchSubmitted(ctx, watched)
	_ = e.OnShutdown(ctx)
	if rec.count() != 2 {
		t.Fatalf("expected watched queue and worker events, got %d", rec.count())
	}
	if got := rec.last().Action; got != ah.ActionShutdown {
		t.Errorf("last action = %q", got)
	}
}

// ── Recorder error handling test ─────────────────────

func TestExtension_RecorderError_DoesNotPropagate(t *testing.T) {
	failing := ah.RecorderFunc(func(_ context.Context, _ *ah.AuditEvent) error {
		return errors.New("audit backend down")
	})

	e := ah.New(failing)
	if err := e.OnBatchSubmitted(context.Background(), newTestAttempt()); err != nil {
		t.Fatalf("expected no error (audit failure swallowed), got: %v", err)
	}
}

// ── Registry integration test ────────────────────────

func TestExtension_ViaRegistry(t *testing.T) {
	rec := &mockRecorder{}
	reg := ext.NewRegistry(slog.Default())
	reg.Register(ah.New(rec))

	ctx := context.Background()
	a := newTestAttempt()
	round := id.NewRoundID()

	reg.EmitRoundStarted(ctx, round, 1)
	reg.EmitBatchSubmitted(ctx, a)
	reg.EmitBatchFailed(ctx, a, errors.New("fail"))
	reg.EmitQueueSkipped(ctx, a, nil)
	reg.EmitRoundCompleted(ctx, ext.Round{ID: round, Queues: 1})
	reg.EmitShutdown(ctx)

	allActions := ah.AllActions()
	if rec.count() != len(allActions) {
		t.Fatalf("expected %d events, got %d", len(allActions), rec.count())
	}
	for _, action := range allActions {
		if rec.findByAction(action) == nil {
			t.Errorf("missing event for action %q", action)
		}
	}
}
