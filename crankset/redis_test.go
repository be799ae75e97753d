//go:build integration

package crankset_test

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xraph/crank/crankset"
)

// setupRedis starts a Redis container and returns a connected client.
func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor: wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("get endpoint: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// ──────────────────────────────────────────────────
// Redis set
// ──────────────────────────────────────────────────

func TestRedis_AddDrain(t *testing.T) {
	ctx := context.Background()
	s := crankset.NewRedis(setupRedis(t), crankset.WithName("test"))
	defer s.Close()

	if err := s.Add(ctx, addrs("a", "b", "a")...); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if n, err := s.Len(ctx); err != nil || n != 2 {
		t.Fatalf("Len = %d, %v; want 2", n, err)
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
}

func TestRedis_DrainLargeSet(t *testing.T) {
	ctx := context.Background()
	s := crankset.NewRedis(setupRedis(t))
	defer s.Close()

	names := make([]string, 1200)
	for i := range names {
		names[i] = string(rune('a'+i%26)) + string(rune('0'+i/26))
	}
	if err := s.Add(ctx, addrs(names...)...); err != nil {
		t.Fatalf("Add: %v", err)
	}
	got, err := s.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(got) != len(names) {
		t.Fatalf("drained %d, want %d", len(got), len(names))
	}
}

func TestRedis_WakeAcrossInstances(t *testing.T) {
	ctx := context.Background()
	client := setupRedis(t)
	producer := crankset.NewRedis(client, crankset.WithName("shared"))
	consumer := crankset.NewRedis(client, crankset.WithName("shared"))
	defer consumer.Close()

	ready := consumer.Ready()
	// Give the subscription time to register before publishing.
	time.Sleep(200 * time.Millisecond)

	if err := producer.Add(ctx, addrs("q")...); err != nil {
		t.Fatalf("Add: %v", err)
	}
	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer was not woken")
	}
	got, err := consumer.Drain(ctx)
	if err != nil || len(got) != 1 {
		t.Fatalf("Drain = %v, %v", got, err)
	}
}
