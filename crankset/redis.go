package crankset

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/crank/ledger"
)

// Redis key naming conventions. All keys are prefixed with "crank:" to
// avoid collisions.
const keyPrefix = "crank:"

// drainBatch is how many members one SPOP removes.
const drainBatch = 512

// RedisOption configures a Redis set.
type RedisOption func(*Redis)

// WithName selects the set, so several worker pools can share one Redis.
func WithName(name string) RedisOption {
	return func(r *Redis) { r.name = name }
}

// WithRedisLogger sets a custom logger.
func WithRedisLogger(l *slog.Logger) RedisOption {
	return func(r *Redis) { r.logger = l }
}

// Redis is a Set shared between processes. Members live in a Redis set;
// Add publishes on a channel so subscribed workers in other processes wake
// up.
type Redis struct {
	client redis.UniversalClient
	name   string
	logger *slog.Logger

	once   sync.Once
	ready  chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRedis returns a Redis-backed set. The caller owns the client
// lifecycle.
func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		name:   "default",
		logger: slog.Default(),
		ready:  make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// setKey returns the set key: crank:crankable:{name}
func (r *Redis) setKey() string { return keyPrefix + "crankable:" + r.name }

// wakeChannel returns the pub/sub channel: crank:wake:{name}
func (r *Redis) wakeChannel() string { return keyPrefix + "wake:" + r.name }

// Add marks queues as crankable and wakes subscribers.
func (r *Redis) Add(ctx context.Context, queues ...ledger.Address) error {
	if len(queues) == 0 {
		return nil
	}
	members := make([]any, len(queues))
	for i, q := range queues {
		members[i] = q.String()
	}
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, r.setKey(), members...)
	pipe.Publish(ctx, r.wakeChannel(), len(queues))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("crank/redis: add: %w", err)
	}
	signal(r.ready)
	return nil
}

// Drain pops every member. Members added while draining are either
// returned now or left for the next drain, never lost.
func (r *Redis) Drain(ctx context.Context) ([]ledger.Address, error) {
	var out []ledger.Address
	for {
		members, err := r.client.SPopN(ctx, r.setKey(), drainBatch).Result()
		if err != nil {
			return out, fmt.Errorf("crank/redis: drain: %w", err)
		}
		for _, m := range members {
			addr, err := ledger.ParseAddress(m)
			if err != nil {
				r.logger.Warn("crankset: dropping malformed member",
					slog.String("member", m),
					slog.String("error", err.Error()),
				)
				continue
			}
			out = append(out, addr)
		}
		if len(members) < drainBatch {
			return out, nil
		}
	}
}

// Len returns the number of marked queues.
func (r *Redis) Len(ctx context.Context) (int, error) {
	n, err := r.client.SCard(ctx, r.setKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("crank/redis: len: %w", err)
	}
	return int(n), nil
}

// Ready is signalled after a local Add or a wake published by another
// process. The subscription starts on first use.
func (r *Redis) Ready() <-chan struct{} {
	r.once.Do(r.subscribe)
	return r.ready
}

func (r *Redis) subscribe() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})

	sub := r.client.Subscribe(ctx, r.wakeChannel())
	go func() {
		defer close(r.done)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				signal(r.ready)
			}
		}
	}()
}

// Close stops the wake subscription. It does not close the client.
func (r *Redis) Close() error {
	r.once.Do(func() {})
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
	return nil
}
