package trigger_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/xraph/crank/ledger"
	"github.com/xraph/crank/trigger"
)

type fakeState struct {
	accounts map[ledger.Address]*ledger.Account
	now      time.Time
}

func (s *fakeState) Account(addr ledger.Address) (*ledger.Account, error) {
	acc, ok := s.accounts[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, addr)
	}
	return acc, nil
}

func (s *fakeState) Now() time.Time { return s.now }

var watched = ledger.NamedAddress("oracle")

func stateWith(data string) *fakeState {
	return &fakeState{accounts: map[ledger.Address]*ledger.Account{
		watched: {Owner: ledger.SystemProgramID, Data: []byte(data)},
	}}
}

// ──────────────────────────────────────────────────
// Fingerprint
// ──────────────────────────────────────────────────

func TestComputeFingerprint_Deterministic(t *testing.T) {
	prior := trigger.ComputeFingerprint([]byte("seed"), nil)

	a := trigger.ComputeFingerprint([]byte("price=10"), &prior)
	b := trigger.ComputeFingerprint([]byte("price=10"), &prior)
	if a != b {
		t.Fatal("identical inputs produced different fingerprints")
	}

	if c := trigger.ComputeFingerprint([]byte("price=11"), &prior); c == a {
		t.Error("fingerprint did not change with content")
	}

	otherPrior := trigger.ComputeFingerprint([]byte("other"), nil)
	if d := trigger.ComputeFingerprint([]byte("price=10"), &otherPrior); d == a {
		t.Error("fingerprint did not change with prior")
	}

	if e := trigger.ComputeFingerprint([]byte("price=10"), nil); e == a {
		t.Error("fingerprint without prior equals folded fingerprint")
	}
}

// ──────────────────────────────────────────────────
// Account trigger
// ──────────────────────────────────────────────────

func TestEvaluate_AccountAlwaysEligible(t *testing.T) {
	st := stateWith("v1")
	trig := trigger.Account(watched)

	first, err := trigger.Evaluate(trig, st, nil)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !first.Eligible {
		t.Fatal("expected eligible")
	}
	if first.Context.Fingerprint != trigger.ComputeFingerprint([]byte("v1"), nil) {
		t.Error("first fingerprint should hash content alone")
	}

	// Unchanged data still yields a new, folded fingerprint.
	second, err := trigger.Evaluate(trig, st, first.Context)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !second.Eligible || second.Context.Fingerprint == first.Context.Fingerprint {
		t.Error("repeat evaluation should be eligible with a distinct fingerprint")
	}
	prior := first.Context.Fingerprint
	if second.Context.Fingerprint != trigger.ComputeFingerprint([]byte("v1"), &prior) {
		t.Error("second fingerprint should fold the prior one")
	}
}

func TestEvaluate_AccountMissing(t *testing.T) {
	st := &fakeState{accounts: map[ledger.Address]*ledger.Account{}}

	_, err := trigger.Evaluate(trigger.Account(watched), st, nil)
	if !errors.Is(err, trigger.ErrMissingAccount) {
		t.Fatalf("expected ErrMissingAccount, got %v", err)
	}
}

// ──────────────────────────────────────────────────
// Cron trigger
// ──────────────────────────────────────────────────

func TestEvaluate_CronMinuteBoundaries(t *testing.T) {
	trig := trigger.Cron("0 * * * * *")
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	for offset := 0; offset < 180; offset++ {
		st := &fakeState{now: base.Add(time.Duration(offset) * time.Second)}
		dec, err := trigger.Evaluate(trig, st, nil)
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		want := offset%60 == 0
		if dec.Eligible != want {
			t.Errorf("offset %ds: eligible=%v, want %v", offset, dec.Eligible, want)
		}
	}
}

func TestEvaluate_CronWindowAfterPrior(t *testing.T) {
	trig := trigger.Cron("0 * * * * *")
	fired := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	prior := &trigger.Context{Kind: trigger.KindCron, FiredAt: fired}

	dec, err := trigger.Evaluate(trig, &fakeState{now: fired.Add(30 * time.Second)}, prior)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if dec.Eligible {
		t.Error("should not fire twice within the same minute")
	}

	dec, err = trigger.Evaluate(trig, &fakeState{now: fired.Add(3*time.Minute + 5*time.Second)}, prior)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !dec.Eligible {
		t.Fatal("expected eligible after the next boundary")
	}
	if want := fired.Add(3 * time.Minute); !dec.Context.FiredAt.Equal(want) {
		t.Errorf("FiredAt = %v, want %v", dec.Context.FiredAt, want)
	}
}

func TestEvaluate_CronInvalidSchedule(t *testing.T) {
	_, err := trigger.Evaluate(trigger.Cron("every tuesday"), &fakeState{now: time.Now()}, nil)
	if !errors.Is(err, trigger.ErrInvalidSchedule) {
		t.Fatalf("expected ErrInvalidSchedule, got %v", err)
	}
}

// ──────────────────────────────────────────────────
// Immediate trigger
// ──────────────────────────────────────────────────

func TestEvaluate_ImmediateOnce(t *testing.T) {
	st := &fakeState{now: time.Now()}

	first, err := trigger.Evaluate(trigger.Immediate(), st, nil)
	if err != nil || !first.Eligible {
		t.Fatalf("first evaluation: eligible=%v err=%v", first.Eligible, err)
	}

	second, err := trigger.Evaluate(trigger.Immediate(), st, first.Context)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if second.Eligible {
		t.Error("immediate trigger fired twice")
	}
}

// ──────────────────────────────────────────────────
// Validation
// ──────────────────────────────────────────────────

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		trig    trigger.Trigger
		wantErr error
	}{
		{"account", trigger.Account(watched), nil},
		{"account zero", trigger.Account(ledger.ZeroAddress), ledger.ErrInvalidAddress},
		{"cron", trigger.Cron("*/5 * * * * *"), nil},
		{"cron invalid", trigger.Cron("nope"), trigger.ErrInvalidSchedule},
		{"immediate", trigger.Immediate(), nil},
		{"unknown", trigger.Trigger{Kind: "webhook"}, trigger.ErrUnknownKind},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.trig.Validate()
			if c.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if c.wantErr != nil && !errors.Is(err, c.wantErr) {
				t.Fatalf("got %v, want %v", err, c.wantErr)
			}
		})
	}
}
