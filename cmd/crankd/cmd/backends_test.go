package cmd

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/xraph/crank"
	"github.com/xraph/crank/ledger"
)

func TestParseAddress(t *testing.T) {
	named := ledger.NamedAddress("worker-signer")

	got, err := parseAddress("worker-signer")
	if err != nil || got != named {
		t.Fatalf("name: got %s, %v", got.Short(), err)
	}
	got, err = parseAddress(named.String())
	if err != nil || got != named {
		t.Fatalf("hex: got %s, %v", got.Short(), err)
	}
	if _, err := parseAddress(""); err == nil {
		t.Fatal("expected an error for an empty address")
	}
	if _, err := parseAddress("0xnothex"); err == nil {
		t.Fatal("expected an error for a malformed hex address")
	}
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	s, err := openStore(ctx, "memory", "", slog.Default())
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	_ = s.Close()

	s, err = openStore(ctx, "pebble", t.TempDir(), slog.Default())
	if err != nil {
		t.Fatalf("pebble: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("pebble close: %v", err)
	}

	if _, err := openStore(ctx, "cassandra", "", slog.Default()); !errors.Is(err, crank.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestOpenCrankset(t *testing.T) {
	set, closeSet, err := openCrankset("memory", "", "", slog.Default())
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if err := set.Add(context.Background(), ledger.NamedAddress("q")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := closeSet(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, _, err := openCrankset("etcd", "", "", slog.Default()); !errors.Is(err, crank.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if _, _, err := openCrankset("redis", "not a url", "", slog.Default()); err == nil {
		t.Fatal("expected an error for a malformed redis url")
	}
}
