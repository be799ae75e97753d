package crankset_test

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/xraph/crank/crankset"
	"github.com/xraph/crank/ledger"
)

func addrs(names ...string) []ledger.Address {
	out := make([]ledger.Address, len(names))
	for i, n := range names {
		out[i] = ledger.NamedAddress(n)
	}
	return out
}

func sorted(in []ledger.Address) []string {
	out := make([]string, len(in))
	for i, a := range in {
		out[i] = a.String()
	}
	sort.Strings(out)
	return out
}

func TestMemory_AddDedupes(t *testing.T) {
	ctx := context.Background()
	s := crankset.NewMemory()

	if err := s.Add(ctx, addrs("a", "b", "a")...); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add(ctx, addrs("b")...); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if n, _ := s.Len(ctx); n != 2 {
		t.Fatalf("Len = %d, want 2", n)
	}

	got, err := s.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	want := sorted(addrs("a", "b"))
	if g := sorted(got); len(g) != 2 || g[0] != want[0] || g[1] != want[1] {
		t.Fatalf("Drain = %v, want %v", g, want)
	}
	if n, _ := s.Len(ctx); n != 0 {
		t.Fatalf("Len after drain = %d", n)
	}
	if got, _ := s.Drain(ctx); got != nil {
		t.Fatalf("second Drain = %v, want nil", got)
	}
}

func TestMemory_ReadySignalsCoalesce(t *testing.T) {
	ctx := context.Background()
	s := crankset.NewMemory()

	select {
	case <-s.Ready():
		t.Fatal("ready before any Add")
	default:
	}

	_ = s.Add(ctx, addrs("a")...)
	_ = s.Add(ctx, addrs("b")...)

	select {
	case <-s.Ready():
	default:
		t.Fatal("expected a ready signal")
	}
	select {
	case <-s.Ready():
		t.Fatal("signals should coalesce")
	default:
	}
}

func TestMemory_EmptyAddNoSignal(t *testing.T) {
	s := crankset.NewMemory()
	_ = s.Add(context.Background())
	select {
	case <-s.Ready():
		t.Fatal("empty Add signalled")
	default:
	}
}

func TestMemory_ConcurrentAddDrain(t *testing.T) {
	ctx := context.Background()
	s := crankset.NewMemory()

	const n = 200
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Add(ctx, ledger.NamedAddress(string(rune('a'+i%26))+string(rune('0'+i/26))))
		}()
	}

	seen := make(map[ledger.Address]bool)
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for finished := false; !finished; {
		select {
		case <-done:
			finished = true
		default:
		}
		got, _ := s.Drain(ctx)
		for _, a := range got {
			seen[a] = true
		}
	}
	if len(seen) != n {
		t.Fatalf("saw %d distinct queues, want %d", len(seen), n)
	}
}
