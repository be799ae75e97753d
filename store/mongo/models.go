package mongo

import (
	"fmt"
	"time"

	"github.com/xraph/crank/attempt"
	"github.com/xraph/crank/id"
	"github.com/xraph/crank/ledger"
)

type attemptModel struct {
	ID         string `bson:"_id"`
	RoundID    string `bson:"round_id"`
	Queue      string `bson:"queue"`
	Worker     string `bson:"worker"`
	Status     string `bson:"status"`
	Steps      int    `bson:"steps"`
	Size       int    `bson:"size"`
	Remaining  bool   `bson:"remaining"`
	Signature  string `bson:"signature,omitempty"`
	Error      string `bson:"error,omitempty"`
	DurationNs int64  `bson:"duration_ns"`
	CreatedUs  int64  `bson:"created_us"`
}

func toAttemptModel(a *attempt.Attempt) *attemptModel {
	m := &attemptModel{
		ID:         a.ID.String(),
		RoundID:    a.Round.String(),
		Queue:      a.Queue.String(),
		Worker:     a.Worker.String(),
		Status:     string(a.Status),
		Steps:      a.Steps,
		Size:       a.Size,
		Remaining:  a.Remaining,
		Error:      a.Error,
		DurationNs: a.Duration.Nanoseconds(),
		CreatedUs:  a.CreatedAt.UnixMicro(),
	}
	if !a.Signature.IsZero() {
		m.Signature = a.Signature.String()
	}
	return m
}

func fromAttemptModel(m *attemptModel) (*attempt.Attempt, error) {
	attemptID, err := id.ParseAttemptID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("crank/mongo: parse attempt id %q: %w", m.ID, err)
	}
	roundID, err := id.ParseRoundID(m.RoundID)
	if err != nil {
		return nil, fmt.Errorf("crank/mongo: parse round id %q: %w", m.RoundID, err)
	}
	queue, err := ledger.ParseAddress(m.Queue)
	if err != nil {
		return nil, fmt.Errorf("crank/mongo: attempt %s queue: %w", m.ID, err)
	}
	worker, err := ledger.ParseAddress(m.Worker)
	if err != nil {
		return nil, fmt.Errorf("crank/mongo: attempt %s worker: %w", m.ID, err)
	}

	a := &attempt.Attempt{
		ID:        attemptID,
		Round:     roundID,
		Queue:     queue,
		Worker:    worker,
		Status:    attempt.Status(m.Status),
		Steps:     m.Steps,
		Size:      m.Size,
		Remaining: m.Remaining,
		Error:     m.Error,
		Duration:  time.Duration(m.DurationNs),
		CreatedAt: time.UnixMicro(m.CreatedUs).UTC(),
	}
	if m.Signature != "" {
		if a.Signature, err = ledger.ParseSignature(m.Signature); err != nil {
			return nil, fmt.Errorf("crank/mongo: attempt %s signature: %w", m.ID, err)
		}
	}
	return a, nil
}
