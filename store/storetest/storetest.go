// Package storetest is a conformance suite run against every store
// backend.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/crank"
	"github.com/xraph/crank/attempt"
	"github.com/xraph/crank/id"
	"github.com/xraph/crank/ledger"
	"github.com/xraph/crank/store"
)

// Factory returns a fresh, migrated, empty store.
type Factory func(t *testing.T) store.Store

// NewAttempt returns a finished attempt created at ts.
func NewAttempt(round id.RoundID, q ledger.Address, status attempt.Status, ts time.Time) *attempt.Attempt {
	a := attempt.New(round, q, ledger.NamedAddress("worker"))
	a.Status = status
	a.CreatedAt = ts.UTC().Truncate(time.Microsecond)
	a.Duration = 1500 * time.Microsecond
	if status == attempt.StatusSubmitted {
		a.Steps = 3
		a.Size = 420
		a.Signature = ledger.Signature{1, 2, 3}
	}
	if status == attempt.StatusFailed {
		a.Error = "connection reset"
	}
	return a
}

// Run exercises the attempt.Store contract.
func Run(t *testing.T, newStore Factory) {
	t.Run("Lifecycle", func(t *testing.T) { testLifecycle(t, newStore(t)) })
	t.Run("RecordGet", func(t *testing.T) { testRecordGet(t, newStore(t)) })
	t.Run("Duplicate", func(t *testing.T) { testDuplicate(t, newStore(t)) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, newStore(t)) })
	t.Run("ListFilters", func(t *testing.T) { testListFilters(t, newStore(t)) })
	t.Run("ListRound", func(t *testing.T) { testListRound(t, newStore(t)) })
	t.Run("Purge", func(t *testing.T) { testPurge(t, newStore(t)) })
}

func testLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate (idempotent): %v", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func testRecordGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := NewAttempt(id.NewRoundID(), ledger.NamedAddress("q"), attempt.StatusSubmitted, time.Now())
	a.Remaining = true

	if err := s.RecordAttempt(ctx, a); err != nil {
		t.Fatalf("RecordAttempt: %v", err)
	}
	got, err := s.GetAttempt(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetAttempt: %v", err)
	}
	if got.ID.String() != a.ID.String() || got.Round.String() != a.Round.String() {
		t.Errorf("ids = %s/%s, want %s/%s", got.ID, got.Round, a.ID, a.Round)
	}
	if got.Queue != a.Queue || got.Worker != a.Worker {
		t.Errorf("addresses differ: %+v", got)
	}
	if got.Status != a.Status || got.Steps != a.Steps || got.Size != a.Size || !got.Remaining {
		t.Errorf("outcome differs: %+v", got)
	}
	if got.Signature != a.Signature {
		t.Errorf("signature = %s, want %s", got.Signature, a.Signature)
	}
	if got.Duration != a.Duration {
		t.Errorf("duration = %v, want %v", got.Duration, a.Duration)
	}
	if !got.CreatedAt.Equal(a.CreatedAt) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, a.CreatedAt)
	}
}

func testDuplicate(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := NewAttempt(id.NewRoundID(), ledger.NamedAddress("q"), attempt.StatusEmpty, time.Now())
	if err := s.RecordAttempt(ctx, a); err != nil {
		t.Fatalf("RecordAttempt: %v", err)
	}
	if err := s.RecordAttempt(ctx, a); !errors.Is(err, crank.ErrAttemptExists) {
		t.Fatalf("expected ErrAttemptExists, got %v", err)
	}
}

func testNotFound(t *testing.T, s store.Store) {
	_, err := s.GetAttempt(context.Background(), id.NewAttemptID())
	if !errors.Is(err, crank.ErrAttemptNotFound) {
		t.Fatalf("expected ErrAttemptNotFound, got %v", err)
	}
}

func testListFilters(t *testing.T, s store.Store) {
	ctx := context.Background()
	round := id.NewRoundID()
	qa, qb := ledger.NamedAddress("a"), ledger.NamedAddress("b")
	base := time.Now().Add(-time.Hour)

	recs := []*attempt.Attempt{
		NewAttempt(round, qa, attempt.StatusSubmitted, base),
		NewAttempt(round, qa, attempt.StatusFailed, base.Add(time.Minute)),
		NewAttempt(round, qb, attempt.StatusSubmitted, base.Add(2*time.Minute)),
		NewAttempt(round, qa, attempt.StatusSubmitted, base.Add(3*time.Minute)),
	}
	for _, a := range recs {
		if err := s.RecordAttempt(ctx, a); err != nil {
			t.Fatalf("RecordAttempt: %v", err)
		}
	}

	all, err := s.ListAttempts(ctx, attempt.ListOpts{})
	if err != nil {
		t.Fatalf("ListAttempts: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("len = %d, want 4", len(all))
	}
	if all[0].ID.String() != recs[3].ID.String() {
		t.Errorf("first = %s, want newest %s", all[0].ID, recs[3].ID)
	}

	byQueue, _ := s.ListAttempts(ctx, attempt.ListOpts{Queue: qa})
	if len(byQueue) != 3 {
		t.Errorf("queue filter len = %d, want 3", len(byQueue))
	}

	both, _ := s.ListAttempts(ctx, attempt.ListOpts{Queue: qa, Status: attempt.StatusSubmitted})
	if len(both) != 2 {
		t.Errorf("queue+status filter len = %d, want 2", len(both))
	}

	page, _ := s.ListAttempts(ctx, attempt.ListOpts{Limit: 2, Offset: 1})
	if len(page) != 2 || page[0].ID.String() != recs[2].ID.String() {
		t.Errorf("page = %v, want [%s %s]", ids(page), recs[2].ID, recs[1].ID)
	}
}

func testListRound(t *testing.T, s store.Store) {
	ctx := context.Background()
	r1, r2 := id.NewRoundID(), id.NewRoundID()
	now := time.Now()
	for i, r := range []id.RoundID{r1, r1, r2} {
		a := NewAttempt(r, ledger.NamedAddress(string(rune('a'+i))), attempt.StatusEmpty, now)
		if err := s.RecordAttempt(ctx, a); err != nil {
			t.Fatalf("RecordAttempt: %v", err)
		}
	}

	got, err := s.ListRound(ctx, r1)
	if err != nil {
		t.Fatalf("ListRound: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	for _, a := range got {
		if a.Round.String() != r1.String() {
			t.Errorf("attempt %s belongs to round %s", a.ID, a.Round)
		}
	}
}

func testPurge(t *testing.T, s store.Store) {
	ctx := context.Background()
	round := id.NewRoundID()
	now := time.Now()
	old := NewAttempt(round, ledger.NamedAddress("q"), attempt.StatusEmpty, now.Add(-48*time.Hour))
	fresh := NewAttempt(round, ledger.NamedAddress("q"), attempt.StatusEmpty, now)
	for _, a := range []*attempt.Attempt{old, fresh} {
		if err := s.RecordAttempt(ctx, a); err != nil {
			t.Fatalf("RecordAttempt: %v", err)
		}
	}

	n, err := s.PurgeAttempts(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PurgeAttempts: %v", err)
	}
	if n != 1 {
		t.Fatalf("purged %d, want 1", n)
	}
	if _, err := s.GetAttempt(ctx, old.ID); !errors.Is(err, crank.ErrAttemptNotFound) {
		t.Errorf("old attempt still present: %v", err)
	}
	if _, err := s.GetAttempt(ctx, fresh.ID); err != nil {
		t.Errorf("fresh attempt purged: %v", err)
	}
	if rest, _ := s.ListRound(ctx, round); len(rest) != 1 {
		t.Errorf("round index len = %d, want 1", len(rest))
	}
}

func ids(as []*attempt.Attempt) []string {
	out := make([]string, len(as))
	for i, a := range as {
		out[i] = a.ID.String()
	}
	return out
}
