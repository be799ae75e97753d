package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/xraph/crank/attempt"
	"github.com/xraph/crank/id"
	"github.com/xraph/crank/ledger"
	"github.com/xraph/crank/stream"
)

func TestFollowEvents(t *testing.T) {
	b := stream.NewBroker(nil)
	sub, err := b.Subscribe("watch-test")
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	roundID := id.NewRoundID()
	a := attempt.New(roundID, ledger.NamedAddress("q"), ledger.NamedAddress("w"))
	a.Status = attempt.StatusSubmitted
	a.Steps = 2
	_ = b.OnRoundStarted(ctx, roundID, 1)
	_ = b.OnBatchSubmitted(ctx, a)
	_ = b.OnShutdown(ctx)

	var in bytes.Buffer
	for evt := range sub.C() {
		line, err := json.Marshal(evt)
		if err != nil {
			t.Fatal(err)
		}
		in.Write(line)
		in.WriteByte('\n')
	}

	var out bytes.Buffer
	if err := followEvents(ctx, &in, &out, false); err != nil {
		t.Fatalf("followEvents: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines:\n%s", len(lines), out.String())
	}
	if !strings.Contains(lines[0], "round.started") || !strings.Contains(lines[0], roundID.String()) {
		t.Errorf("round line = %q", lines[0])
	}
	if !strings.Contains(lines[1], "batch.submitted") || !strings.Contains(lines[1], "steps=2") {
		t.Errorf("attempt line = %q", lines[1])
	}
	if !strings.Contains(lines[2], "worker.shutdown") {
		t.Errorf("shutdown line = %q", lines[2])
	}
}

func TestFollowEvents_Raw(t *testing.T) {
	in := strings.NewReader(`{"type":"round.started","ts":"2026-01-01T00:00:00Z"}` + "\n")
	var out bytes.Buffer
	if err := followEvents(context.Background(), in, &out, true); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), `{"type":"round.started"`) {
		t.Errorf("raw output = %q", out.String())
	}
}
