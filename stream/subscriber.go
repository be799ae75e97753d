package stream

import (
	"sync"
	"sync/atomic"
)

type sendResult int

const (
	sendDelivered sendResult = iota
	sendFiltered
	sendDropped
)

// Subscriber receives events from the topics it is subscribed to.
// Delivery never blocks: when the buffer is full the event is dropped
// and counted.
type Subscriber struct {
	id string
	ch chan *Event

	mu     sync.RWMutex
	topics map[string]struct{}
	filter func(*Event) bool

	dropped atomic.Int64
	closed  atomic.Bool
	sendMu  sync.RWMutex
}

// NewSubscriber creates a subscriber with room for bufferSize undelivered
// events.
func NewSubscriber(id string, bufferSize int) *Subscriber {
	return &Subscriber{
		id:     id,
		ch:     make(chan *Event, bufferSize),
		topics: make(map[string]struct{}),
	}
}

// ID returns the subscriber identifier.
func (s *Subscriber) ID() string { return s.id }

// C returns the event channel. It is closed when the subscriber is
// removed or the broker shuts down.
func (s *Subscriber) C() <-chan *Event { return s.ch }

// Dropped returns how many events did not fit in the buffer.
func (s *Subscriber) Dropped() int64 { return s.dropped.Load() }

// SetFilter installs a predicate events must satisfy to be delivered.
func (s *Subscriber) SetFilter(fn func(*Event) bool) {
	s.mu.Lock()
	s.filter = fn
	s.mu.Unlock()
}

func (s *Subscriber) addTopic(topic string) {
	s.mu.Lock()
	s.topics[topic] = struct{}{}
	s.mu.Unlock()
}

func (s *Subscriber) removeTopic(topic string) {
	s.mu.Lock()
	delete(s.topics, topic)
	s.mu.Unlock()
}

// Topics returns the subscribed topic names.
func (s *Subscriber) Topics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.topics))
	for t := range s.topics {
		out = append(out, t)
	}
	return out
}

func (s *Subscriber) send(evt *Event) sendResult {
	s.mu.RLock()
	filter := s.filter
	s.mu.RUnlock()
	if filter != nil && !filter(evt) {
		return sendFiltered
	}

	// sendMu keeps Close from closing the channel mid-send.
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.closed.Load() {
		return sendFiltered
	}
	select {
	case s.ch <- evt:
		return sendDelivered
	default:
		s.dropped.Add(1)
		return sendDropped
	}
}

// Close closes the event channel. Safe to call more than once.
func (s *Subscriber) Close() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}
