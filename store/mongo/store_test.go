//go:build integration

package mongo_test

import (
	"context"
	"log/slog"
	"testing"

	mongomodule "github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/xraph/crank/store"
	mongostore "github.com/xraph/crank/store/mongo"
	"github.com/xraph/crank/store/storetest"
)

func setupTestStore(t *testing.T) *mongostore.Store {
	t.Helper()

	ctx := context.Background()

	container, err := mongomodule.Run(ctx, "mongo:7")
	if err != nil {
		t.Fatalf("start mongo container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	s, err := mongostore.Open(uri, "crank_test", mongostore.WithLogger(slog.Default()))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestStore(t *testing.T) {
	s := setupTestStore(t)
	storetest.Run(t, func(t *testing.T) store.Store {
		if _, err := s.DB().Collection("crank_attempts").DeleteMany(context.Background(), bson.M{}); err != nil {
			t.Fatalf("clear: %v", err)
		}
		return s
	})
}
