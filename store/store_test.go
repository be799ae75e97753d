package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/xraph/crank/store"
	"github.com/xraph/crank/store/memory"
)

type flakyStore struct {
	*memory.Store
	pingErr, migrateErr error
	closed              bool
}

func (f *flakyStore) Ping(context.Context) error    { return f.pingErr }
func (f *flakyStore) Migrate(context.Context) error { return f.migrateErr }
func (f *flakyStore) Close() error                  { f.closed = true; return nil }

func TestPrepare(t *testing.T) {
	ctx := context.Background()
	down := errors.New("connection refused")

	tests := []struct {
		name       string
		s          *flakyStore
		wantErr    error
		wantClosed bool
	}{
		{"healthy", &flakyStore{Store: memory.New()}, nil, false},
		{"ping fails", &flakyStore{Store: memory.New(), pingErr: down}, down, true},
		{"migrate fails", &flakyStore{Store: memory.New(), migrateErr: down}, down, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.Prepare(ctx, tt.s)
			if !errors.Is(err, tt.wantErr) || (tt.wantErr == nil) != (err == nil) {
				t.Fatalf("Prepare = %v, want %v", err, tt.wantErr)
			}
			if tt.s.closed != tt.wantClosed {
				t.Errorf("closed = %v, want %v", tt.s.closed, tt.wantClosed)
			}
		})
	}
}
