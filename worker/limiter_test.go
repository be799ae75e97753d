package worker_test

import (
	"testing"

	"github.com/xraph/crank/ledger"
	"github.com/xraph/crank/worker"
)

func TestLimiter_OneAttemptPerQueue(t *testing.T) {
	l := worker.NewLimiter(0, 0)
	q := ledger.NamedAddress("q")
	other := ledger.NamedAddress("other")

	if !l.Acquire(q) {
		t.Fatal("first Acquire should succeed")
	}
	if l.Acquire(q) {
		t.Fatal("second Acquire on a busy queue should fail")
	}
	if !l.Acquire(other) {
		t.Fatal("other queues are independent")
	}
	if got := l.ActiveCount(q); got != 1 {
		t.Fatalf("ActiveCount = %d, want 1", got)
	}

	l.Release(q)
	if !l.Acquire(q) {
		t.Fatal("Acquire should succeed after Release")
	}
}

func TestLimiter_RateLimit(t *testing.T) {
	// One token, refilled once per 1000s: the second attempt is denied.
	l := worker.NewLimiter(0.001, 1)
	q := ledger.NamedAddress("q")

	if !l.Acquire(q) {
		t.Fatal("first Acquire should succeed")
	}
	l.Release(q)
	if l.Acquire(q) {
		t.Fatal("second Acquire should be rate limited")
	}
}

func TestLimiter_Override(t *testing.T) {
	hot := ledger.NamedAddress("hot")
	l := worker.NewLimiter(0.001, 1, worker.QueueConfig{Queue: hot})

	for i := range 5 {
		if !l.Acquire(hot) {
			t.Fatalf("Acquire %d on unthrottled override failed", i)
		}
		l.Release(hot)
	}
}

func TestLimiter_SetQueueConfigPreservesActive(t *testing.T) {
	l := worker.NewLimiter(0, 0)
	q := ledger.NamedAddress("q")
	if !l.Acquire(q) {
		t.Fatal("Acquire failed")
	}

	l.SetQueueConfig(worker.QueueConfig{Queue: q, RateLimit: 100, RateBurst: 10})
	if got := l.ActiveCount(q); got != 1 {
		t.Fatalf("ActiveCount = %d after reconfigure, want 1", got)
	}
	if l.Acquire(q) {
		t.Fatal("reconfigure must not reopen a busy queue")
	}
}

func TestLimiter_Forget(t *testing.T) {
	l := worker.NewLimiter(0.001, 1)
	q := ledger.NamedAddress("q")
	if !l.Acquire(q) {
		t.Fatal("Acquire failed")
	}
	l.Release(q)
	l.Forget(q)
	if !l.Acquire(q) {
		t.Fatal("forgotten queue should start with a fresh bucket")
	}
}
