package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/crank/attempt"
	"github.com/xraph/crank/ext"
	"github.com/xraph/crank/id"
)

// Compile-time interface checks.
var (
	_ ext.Extension      = (*Broker)(nil)
	_ ext.RoundStarted   = (*Broker)(nil)
	_ ext.RoundCompleted = (*Broker)(nil)
	_ ext.BatchSubmitted = (*Broker)(nil)
	_ ext.BatchFailed    = (*Broker)(nil)
	_ ext.QueueSkipped   = (*Broker)(nil)
	_ ext.Shutdown       = (*Broker)(nil)
)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// Broker receives lifecycle hooks and fans them out to subscribers by
// topic.
type Broker struct {
	topics *TopicRegistry
	logger *slog.Logger

	subscribers sync.Map // subscriberID → *Subscriber

	totalPublished atomic.Int64
	totalDropped   atomic.Int64

	bufferSize int
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// NewBroker creates a stream broker.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Broker{
		topics:     NewTopicRegistry(),
		logger:     logger,
		bufferSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements ext.Extension.
func (b *Broker) Name() string { return "stream-broker" }

// Topics returns the topic registry.
func (b *Broker) Topics() *TopicRegistry { return b.topics }

// Subscribe creates a subscriber listening on topics. Every topic must
// pass ValidateTopic.
func (b *Broker) Subscribe(subscriberID string, topics ...string) (*Subscriber, error) {
	if len(topics) == 0 {
		topics = []string{TopicFirehose}
	}
	for _, topic := range topics {
		if err := ValidateTopic(topic); err != nil {
			return nil, err
		}
	}
	sub := NewSubscriber(subscriberID, b.bufferSize)
	if _, loaded := b.subscribers.LoadOrStore(subscriberID, sub); loaded {
		return nil, errors.New("stream: duplicate subscriber " + subscriberID)
	}
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
	return sub, nil
}

// RemoveSubscriber removes a subscriber from all topics and closes it.
func (b *Broker) RemoveSubscriber(subscriberID string) {
	b.topics.UnsubscribeAll(subscriberID)
	if val, ok := b.subscribers.LoadAndDelete(subscriberID); ok {
		val.(*Subscriber).Close() //nolint:errcheck // sync.Map always stores *Subscriber
	}
}

// Stats returns broker counters.
func (b *Broker) Stats() BrokerStats {
	count := 0
	b.subscribers.Range(func(_, _ any) bool {
		count++
		return true
	})
	return BrokerStats{
		TopicCount:      b.topics.TopicCount(),
		SubscriberCount: count,
		TotalPublished:  b.totalPublished.Load(),
		TotalDropped:    b.totalDropped.Load(),
	}
}

// BrokerStats contains broker counters.
type BrokerStats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
	TotalDropped    int64 `json:"total_dropped"`
}

func (b *Broker) publish(evt *Event) {
	delivered, dropped := b.topics.Broadcast(resolveTopics(evt), evt)
	b.totalPublished.Add(int64(delivered))
	if dropped > 0 {
		b.totalDropped.Add(int64(dropped))
		b.logger.Debug("stream events dropped",
			slog.String("type", string(evt.Type)),
			slog.Int("subscribers", dropped),
		)
	}
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic("stream: marshal event data: " + err.Error())
	}
	return data
}

func attemptData(a *attempt.Attempt) AttemptEventData {
	d := AttemptEventData{
		AttemptID: a.ID.String(),
		RoundID:   a.Round.String(),
		Queue:     a.Queue.String(),
		Status:    string(a.Status),
		Steps:     a.Steps,
		Size:      a.Size,
		Remaining: a.Remaining,
		ElapsedMs: a.Duration.Milliseconds(),
	}
	if !a.Signature.IsZero() {
		d.Signature = a.Signature.String()
	}
	return d
}

func (b *Broker) publishAttempt(typ EventType, a *attempt.Attempt, reason error) {
	d := attemptData(a)
	if reason != nil {
		d.Reason = reason.Error()
	}
	b.publish(&Event{
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Topic:     QueueTopic(a.Queue),
		Data:      mustMarshal(d),
	})
}

// ── Round hooks ─────────────────────────────────────

func (b *Broker) OnRoundStarted(_ context.Context, roundID id.RoundID, queues int) error {
	b.publish(&Event{
		Type:      EventRoundStarted,
		Timestamp: time.Now().UTC(),
		Data:      mustMarshal(RoundEventData{RoundID: roundID.String(), Queues: queues}),
	})
	return nil
}

func (b *Broker) OnRoundCompleted(_ context.Context, r ext.Round) error {
	b.publish(&Event{
		Type:      EventRoundCompleted,
		Timestamp: time.Now().UTC(),
		Data: mustMarshal(RoundEventData{
			RoundID:   r.ID.String(),
			Queues:    r.Queues,
			Submitted: r.Submitted,
			Failed:    r.Failed,
			Skipped:   r.Skipped,
			Steps:     r.Steps,
			ElapsedMs: r.Elapsed.Milliseconds(),
		}),
	})
	return nil
}

// ── Attempt hooks ───────────────────────────────────

func (b *Broker) OnBatchSubmitted(_ context.Context, a *attempt.Attempt) error {
	b.publishAttempt(EventBatchSubmitted, a, nil)
	return nil
}

func (b *Broker) OnBatchFailed(_ context.Context, a *attempt.Attempt, err error) error {
	b.publishAttempt(EventBatchFailed, a, err)
	return nil
}

func (b *Broker) OnQueueSkipped(_ context.Context, a *attempt.Attempt, reason error) error {
	b.publishAttempt(EventQueueSkipped, a, reason)
	return nil
}

// ── Shutdown ────────────────────────────────────────

// OnShutdown tells every subscriber the worker is going away and closes
// their channels.
func (b *Broker) OnShutdown(_ context.Context) error {
	b.publish(&Event{Type: EventShutdown, Timestamp: time.Now().UTC()})
	b.subscribers.Range(func(key, value any) bool {
		b.topics.UnsubscribeAll(key.(string)) //nolint:errcheck // keys are always strings
		value.(*Subscriber).Close()           //nolint:errcheck // sync.Map always stores *Subscriber
		b.subscribers.Delete(key)
		return true
	})
	b.logger.Info("stream broker shut down")
	return nil
}
