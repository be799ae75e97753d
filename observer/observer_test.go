package observer_test

import (
	"context"
	"testing"
	"time"

	"github.com/xraph/crank/crankset"
	"github.com/xraph/crank/internal/devnet"
	"github.com/xraph/crank/ledger"
	"github.com/xraph/crank/ledger/memory"
	"github.com/xraph/crank/observer"
	"github.com/xraph/crank/queue"
	"github.com/xraph/crank/trigger"
)

var authority = ledger.NamedAddress("authority")

type fixture struct {
	d   *devnet.Devnet
	set *crankset.Memory
	obs *observer.Observer
}

// newFixture wires the observer to the devnet synchronously so every
// notification is applied before the triggering call returns.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		d:   devnet.New([]memory.Option{memory.WithSlotDuration(time.Second)}),
		set: crankset.NewMemory(),
	}
	f.obs = observer.New(f.set)
	cancel := f.d.Subscribe(func(ev ledger.Event) {
		if err := f.obs.Handle(context.Background(), ev); err != nil {
			t.Errorf("Handle: %v", err)
		}
	})
	t.Cleanup(cancel)
	return f
}

func (f *fixture) create(t *testing.T, id string, trig trigger.Trigger) ledger.Address {
	t.Helper()
	q, _, err := f.d.CreateCounterQueue(context.Background(), devnet.CounterQueue{
		Authority: authority,
		ID:        id,
		Trigger:   trig,
		Target:    1,
		Funding:   100_000,
	})
	if err != nil {
		t.Fatalf("CreateCounterQueue: %v", err)
	}
	return q
}

func (f *fixture) drain(t *testing.T) map[ledger.Address]bool {
	t.Helper()
	got, err := f.set.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	out := make(map[ledger.Address]bool, len(got))
	for _, a := range got {
		out[a] = true
	}
	return out
}

func (f *fixture) submit(t *testing.T, ix ledger.Instruction) {
	t.Helper()
	if _, err := f.d.Submit(context.Background(), ledger.NewBatch(authority, ix)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Queue account updates
// ──────────────────────────────────────────────────

func TestObserver_ImmediateQueueMarkedOnCreate(t *testing.T) {
	f := newFixture(t)
	q := f.create(t, "now", trigger.Immediate())

	if marks := f.drain(t); !marks[q] {
		t.Fatal("immediate queue was not marked")
	}
	if f.obs.Len() != 1 {
		t.Errorf("Len = %d, want 1", f.obs.Len())
	}
}

func TestObserver_CronAndAccountNotMarkedOnCreate(t *testing.T) {
	f := newFixture(t)
	cq := f.create(t, "cron", trigger.Cron("0 0 * * * *"))
	aq := f.create(t, "acct", trigger.Account(ledger.NamedAddress("feed")))

	marks := f.drain(t)
	if marks[cq] || marks[aq] {
		t.Fatalf("unexpected marks: %v", marks)
	}
}

func TestObserver_PausedQueueNotMarked(t *testing.T) {
	f := newFixture(t)
	q := f.create(t, "p", trigger.Cron("0 0 * * * *"))
	f.submit(t, queue.PauseInstruction(authority, q))
	f.drain(t)

	f.d.Advance(2 * time.Hour)
	if marks := f.drain(t); marks[q] {
		t.Fatal("paused cron queue was marked")
	}
}

func TestObserver_DeletedQueueUnindexed(t *testing.T) {
	f := newFixture(t)
	q := f.create(t, "gone", trigger.Account(ledger.NamedAddress("feed")))
	f.submit(t, queue.StopInstruction(authority, q))
	f.submit(t, queue.DeleteInstruction(authority, q))

	if f.obs.Len() != 0 {
		t.Fatalf("Len = %d after delete, want 0", f.obs.Len())
	}
	f.drain(t)
	f.d.SetAccount(ledger.NamedAddress("feed"), &ledger.Account{Owner: ledger.SystemProgramID, Data: []byte("x")})
	if marks := f.drain(t); marks[q] {
		t.Fatal("deleted queue was marked")
	}
}

// ──────────────────────────────────────────────────
// Watched accounts and clock ticks
// ──────────────────────────────────────────────────

func TestObserver_WatchedAccountMarksQueue(t *testing.T) {
	f := newFixture(t)
	feed := ledger.NamedAddress("feed")
	q := f.create(t, "acct", trigger.Account(feed))
	other := f.create(t, "other", trigger.Account(ledger.NamedAddress("elsewhere")))
	f.drain(t)

	f.d.SetAccount(feed, &ledger.Account{Owner: ledger.SystemProgramID, Data: []byte("v1")})
	marks := f.drain(t)
	if !marks[q] {
		t.Fatal("watching queue was not marked")
	}
	if marks[other] {
		t.Fatal("unrelated queue was marked")
	}
}

func TestObserver_CronMarkedWhenDue(t *testing.T) {
	f := newFixture(t)
	q := f.create(t, "hourly", trigger.Cron("0 0 * * * *"))
	f.drain(t)

	f.d.Advance(10 * time.Minute)
	if marks := f.drain(t); marks[q] {
		t.Fatal("cron queue marked before its activation")
	}
	f.d.Advance(time.Hour)
	if marks := f.drain(t); !marks[q] {
		t.Fatal("cron queue not marked after its activation")
	}
}

// ──────────────────────────────────────────────────
// Sync and Run
// ──────────────────────────────────────────────────

func TestObserver_SyncIndexesExistingQueues(t *testing.T) {
	d := devnet.New(nil)
	ctx := context.Background()
	imm, _, err := d.CreateCounterQueue(ctx, devnet.CounterQueue{
		Authority: authority, ID: "imm", Trigger: trigger.Immediate(), Target: 1, Funding: 10_000,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	cron, _, err := d.CreateCounterQueue(ctx, devnet.CounterQueue{
		Authority: authority, ID: "cron", Trigger: trigger.Cron("0 */5 * * * *"), Target: 1, Funding: 10_000,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	d.Advance(6 * time.Minute)

	set := crankset.NewMemory()
	obs := observer.New(set)
	if err := obs.Sync(ctx, d, d); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if obs.Len() != 2 {
		t.Fatalf("Len = %d, want 2", obs.Len())
	}
	got, _ := set.Drain(ctx)
	marked := map[ledger.Address]bool{}
	for _, a := range got {
		marked[a] = true
	}
	if !marked[imm] || !marked[cron] {
		t.Fatalf("marks = %v, want both queues", got)
	}
}

func TestObserver_RunAppliesNotifications(t *testing.T) {
	d := devnet.New(nil)
	set := crankset.NewMemory()
	obs := observer.New(set)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- obs.Run(ctx, d) }()

	// Run subscribes asynchronously; keep creating until the set wakes.
	var q ledger.Address
	deadline := time.After(5 * time.Second)
	for i := 0; ; i++ {
		addr, _, err := d.CreateCounterQueue(context.Background(), devnet.CounterQueue{
			Authority: authority, ID: "run" + string(rune('a'+i)), Trigger: trigger.Immediate(), Target: 1, Funding: 10_000,
		})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		select {
		case <-set.Ready():
			q = addr
		case <-time.After(50 * time.Millisecond):
			continue
		case <-deadline:
			t.Fatal("observer never marked a queue")
		}
		break
	}
	if q.IsZero() {
		t.Fatal("no queue marked")
	}

	cancel()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("Run returned nil after cancel")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
