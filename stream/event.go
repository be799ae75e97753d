// Package stream fans crank lifecycle events out to live subscribers.
// A Broker is registered as an extension; it turns round and attempt
// hooks into Events and delivers them to every subscriber of a matching
// topic without ever blocking the worker.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	// Round events.
	EventRoundStarted   EventType = "round.started"
	EventRoundCompleted EventType = "round.completed"

	// Attempt events.
	EventBatchSubmitted EventType = "batch.submitted"
	EventBatchFailed    EventType = "batch.failed"
	EventQueueSkipped   EventType = "queue.skipped"

	// EventShutdown goes out on the firehose right before every
	// subscriber channel is closed.
	EventShutdown EventType = "worker.shutdown"
)

// Event is the envelope sent to subscribers.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"ts"`
	Topic     string          `json:"topic,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// RoundEventData is the payload of round events.
type RoundEventData struct {
	RoundID   string `json:"round_id"`
	Queues    int    `json:"queues"`
	Submitted int    `json:"submitted,omitempty"`
	Failed    int    `json:"failed,omitempty"`
	Skipped   int    `json:"skipped,omitempty"`
	Steps     int    `json:"steps,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms,omitempty"`
}

// AttemptEventData is the payload of attempt events.
type AttemptEventData struct {
	AttemptID string `json:"attempt_id"`
	RoundID   string `json:"round_id"`
	Queue     string `json:"queue"`
	Status    string `json:"status"`
	Steps     int    `json:"steps,omitempty"`
	Size      int    `json:"size,omitempty"`
	Remaining bool   `json:"remaining,omitempty"`
	Signature string `json:"signature,omitempty"`
	Reason    string `json:"reason,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms,omitempty"`
}
