package bunstore

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/crank/attempt"
	"github.com/xraph/crank/id"
	"github.com/xraph/crank/ledger"
)

type attemptModel struct {
	bun.BaseModel `bun:"table:crank_attempts"`

	ID         string    `bun:"id,pk"`
	RoundID    string    `bun:"round_id,notnull"`
	Queue      []byte    `bun:"queue,notnull,type:bytea"`
	Worker     []byte    `bun:"worker,notnull,type:bytea"`
	Status     string    `bun:"status,notnull"`
	Steps      int       `bun:"steps,notnull"`
	Size       int       `bun:"size,notnull"`
	Remaining  bool      `bun:"remaining,notnull"`
	Signature  []byte    `bun:"signature,type:bytea"`
	Error      string    `bun:"error,notnull"`
	DurationNs int64     `bun:"duration_ns,notnull"`
	CreatedAt  time.Time `bun:"created_at,notnull"`
}

func toAttemptModel(a *attempt.Attempt) *attemptModel {
	m := &attemptModel{
		ID:         a.ID.String(),
		RoundID:    a.Round.String(),
		Queue:      append([]byte(nil), a.Queue[:]...),
		Worker:     append([]byte(nil), a.Worker[:]...),
		Status:     string(a.Status),
		Steps:      a.Steps,
		Size:       a.Size,
		Remaining:  a.Remaining,
		Error:      a.Error,
		DurationNs: a.Duration.Nanoseconds(),
		CreatedAt:  a.CreatedAt,
	}
	if !a.Signature.IsZero() {
		m.Signature = append([]byte(nil), a.Signature[:]...)
	}
	return m
}

func fromAttemptModel(m *attemptModel) (*attempt.Attempt, error) {
	attemptID, err := id.ParseAttemptID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("crank/bun: parse attempt id %q: %w", m.ID, err)
	}
	roundID, err := id.ParseRoundID(m.RoundID)
	if err != nil {
		return nil, fmt.Errorf("crank/bun: parse round id %q: %w", m.RoundID, err)
	}

	a := &attempt.Attempt{
		ID:        attemptID,
		Round:     roundID,
		Status:    attempt.Status(m.Status),
		Steps:     m.Steps,
		Size:      m.Size,
		Remaining: m.Remaining,
		Error:     m.Error,
		Duration:  time.Duration(m.DurationNs),
		CreatedAt: m.CreatedAt,
	}
	copy(a.Queue[:], m.Queue)
	copy(a.Worker[:], m.Worker)
	if len(m.Signature) == len(ledger.Signature{}) {
		copy(a.Signature[:], m.Signature)
	}
	return a, nil
}
