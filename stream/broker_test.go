package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/xraph/crank/attempt"
	"github.com/xraph/crank/ext"
	"github.com/xraph/crank/id"
	"github.com/xraph/crank/ledger"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func submitted(queue ledger.Address) *attempt.Attempt {
	a := attempt.New(id.NewRoundID(), queue, ledger.NamedAddress("worker"))
	a.Status = attempt.StatusSubmitted
	a.Steps = 3
	a.Signature = ledger.Signature{1}
	return a
}

func recv(t *testing.T, sub *Subscriber) *Event {
	t.Helper()
	select {
	case evt := <-sub.C():
		return evt
	case <-time.After(time.Second):
		t.Fatalf("subscriber %s timed out", sub.ID())
		return nil
	}
}

func expectNothing(t *testing.T, sub *Subscriber) {
	t.Helper()
	select {
	case evt := <-sub.C():
		t.Fatalf("unexpected event %s", evt.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

// ──────────────────────────────────────────────────
// Broker
// ──────────────────────────────────────────────────

func TestBroker_RoundEvents(t *testing.T) {
	b := NewBroker(testLogger())
	rounds, err := b.Subscribe("rounds", TopicRounds)
	if err != nil {
		t.Fatal(err)
	}
	attempts, err := b.Subscribe("attempts", TopicAttempts)
	if err != nil {
		t.Fatal(err)
	}

	roundID := id.NewRoundID()
	_ = b.OnRoundStarted(context.Background(), roundID, 4)
	_ = b.OnRoundCompleted(context.Background(), ext.Round{ID: roundID, Queues: 4, Submitted: 2, Steps: 7})

	evt := recv(t, rounds)
	if evt.Type != EventRoundStarted {
		t.Fatalf("Type = %q, want %q", evt.Type, EventRoundStarted)
	}
	evt = recv(t, rounds)
	var data RoundEventData
	if err := json.Unmarshal(evt.Data, &data); err != nil {
		t.Fatal(err)
	}
	if data.RoundID != roundID.String() || data.Submitted != 2 || data.Steps != 7 {
		t.Errorf("unexpected round data %+v", data)
	}
	expectNothing(t, attempts)
}

func TestBroker_QueueTopic(t *testing.T) {
	b := NewBroker(testLogger())
	q1, q2 := ledger.NamedAddress("q1"), ledger.NamedAddress("q2")

	sub, err := b.Subscribe("one-queue", QueueTopic(q1))
	if err != nil {
		t.Fatal(err)
	}

	_ = b.OnBatchSubmitted(context.Background(), submitted(q2))
	expectNothing(t, sub)

	_ = b.OnBatchFailed(context.Background(), submitted(q1), errors.New("boom"))
	evt := recv(t, sub)
	if evt.Type != EventBatchFailed {
		t.Fatalf("Type = %q, want %q", evt.Type, EventBatchFailed)
	}
	var data AttemptEventData
	if err := json.Unmarshal(evt.Data, &data); err != nil {
		t.Fatal(err)
	}
	if data.Queue != q1.String() || data.Reason != "boom" || data.Signature == "" {
		t.Errorf("unexpected attempt data %+v", data)
	}
}

func TestBroker_FirehoseDeduplicates(t *testing.T) {
	b := NewBroker(testLogger())
	q := ledger.NamedAddress("q")
	sub, err := b.Subscribe("all", TopicFirehose, TopicAttempts, QueueTopic(q))
	if err != nil {
		t.Fatal(err)
	}

	_ = b.OnQueueSkipped(context.Background(), submitted(q), nil)
	if evt := recv(t, sub); evt.Type != EventQueueSkipped {
		t.Fatalf("Type = %q", evt.Type)
	}
	expectNothing(t, sub)

	if got := b.Stats().TotalPublished; got != 1 {
		t.Errorf("TotalPublished = %d, want 1", got)
	}
}

func TestBroker_SubscribeValidation(t *testing.T) {
	b := NewBroker(testLogger())
	if _, err := b.Subscribe("bad", "jobs"); err == nil {
		t.Fatal("expected error for unknown topic")
	}
	if _, err := b.Subscribe("dup"); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Subscribe("dup"); err == nil {
		t.Fatal("expected error for duplicate subscriber")
	}
	if got := b.Stats().SubscriberCount; got != 1 {
		t.Errorf("SubscriberCount = %d, want 1", got)
	}
}

func TestBroker_DropsWhenFull(t *testing.T) {
	b := NewBroker(testLogger(), WithBufferSize(1))
	sub, err := b.Subscribe("slow", TopicRounds)
	if err != nil {
		t.Fatal(err)
	}
	for range 3 {
		_ = b.OnRoundStarted(context.Background(), id.NewRoundID(), 1)
	}
	if sub.Dropped() != 2 {
		t.Errorf("Dropped = %d, want 2", sub.Dropped())
	}
	if got := b.Stats().TotalDropped; got != 2 {
		t.Errorf("TotalDropped = %d, want 2", got)
	}
}

func TestBroker_RemoveSubscriber(t *testing.T) {
	b := NewBroker(testLogger())
	sub, err := b.Subscribe("gone")
	if err != nil {
		t.Fatal(err)
	}
	b.RemoveSubscriber("gone")

	_ = b.OnRoundStarted(context.Background(), id.NewRoundID(), 1)
	if _, ok := <-sub.C(); ok {
		t.Fatal("channel should be closed after RemoveSubscriber")
	}
	if b.Topics().TopicCount() != 0 {
		t.Errorf("TopicCount = %d, want 0", b.Topics().TopicCount())
	}
}

func TestBroker_Shutdown(t *testing.T) {
	b := NewBroker(testLogger())
	sub, err := b.Subscribe("fh")
	if err != nil {
		t.Fatal(err)
	}
	_ = b.OnShutdown(context.Background())

	if evt := recv(t, sub); evt.Type != EventShutdown {
		t.Fatalf("Type = %q, want %q", evt.Type, EventShutdown)
	}
	if _, ok := <-sub.C(); ok {
		t.Fatal("channel should be closed after shutdown")
	}
	if got := b.Stats().SubscriberCount; got != 0 {
		t.Errorf("SubscriberCount = %d, want 0", got)
	}
}

// ──────────────────────────────────────────────────
// Topics and subscribers
// ──────────────────────────────────────────────────

func TestValidateTopic(t *testing.T) {
	tests := []struct {
		topic string
		valid bool
	}{
		{TopicRounds, true},
		{TopicAttempts, true},
		{TopicFirehose, true},
		{QueueTopic(ledger.NamedAddress("q")), true},
		{"queue:default", false},
		{"queue:", false},
		{"round:abc", false},
		{"invalid", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			err := ValidateTopic(tt.topic)
			if tt.valid && err != nil {
				t.Errorf("ValidateTopic(%q) returned error: %v", tt.topic, err)
			}
			if !tt.valid && err == nil {
				t.Errorf("ValidateTopic(%q) should return error", tt.topic)
			}
		})
	}
}

func TestResolveTopics(t *testing.T) {
	tests := []struct {
		evt  *Event
		want []string
	}{
		{&Event{Type: EventRoundStarted}, []string{TopicFirehose, TopicRounds}},
		{&Event{Type: EventBatchSubmitted, Topic: "queue:ab"}, []string{TopicFirehose, TopicAttempts, "queue:ab"}},
		{&Event{Type: EventShutdown}, []string{TopicFirehose}},
	}
	for _, tt := range tests {
		t.Run(string(tt.evt.Type), func(t *testing.T) {
			got := resolveTopics(tt.evt)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("topic[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSubscriber_Filter(t *testing.T) {
	sub := NewSubscriber("filtered", 4)
	sub.SetFilter(func(e *Event) bool { return e.Type == EventBatchFailed })

	if sub.send(&Event{Type: EventBatchSubmitted}) != sendFiltered {
		t.Fatal("submitted event should be filtered out")
	}
	if sub.send(&Event{Type: EventBatchFailed}) != sendDelivered {
		t.Fatal("failed event should pass the filter")
	}
	sub.Close()
	sub.Close()
	if sub.send(&Event{Type: EventBatchFailed}) == sendDelivered {
		t.Fatal("closed subscriber accepted an event")
	}
}

// ──────────────────────────────────────────────────
// HTTP
// ──────────────────────────────────────────────────

func TestHandler_StreamsNDJSON(t *testing.T) {
	b := NewBroker(testLogger())
	srv := httptest.NewServer(b.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "?topic=" + TopicRounds)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	// The subscription exists once the headers are flushed.
	deadline := time.Now().Add(time.Second)
	for b.Topics().SubscriberCount(TopicRounds) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	_ = b.OnRoundStarted(context.Background(), id.NewRoundID(), 2)

	line, err := bufio.NewReader(resp.Body).ReadBytes('\n')
	if err != nil {
		t.Fatal(err)
	}
	var evt Event
	if err := json.Unmarshal(line, &evt); err != nil {
		t.Fatalf("decode %q: %v", line, err)
	}
	if evt.Type != EventRoundStarted {
		t.Fatalf("Type = %q, want %q", evt.Type, EventRoundStarted)
	}
}

func TestHandler_RejectsBadTopic(t *testing.T) {
	b := NewBroker(testLogger())
	srv := httptest.NewServer(b.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "?topic=jobs")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}
