package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/crank/attempt"
	"github.com/xraph/crank/ext"
	"github.com/xraph/crank/id"
)

// Compile-time interface checks.
var (
	_ ext.Extension      = (*Extension)(nil)
	_ ext.RoundStarted   = (*Extension)(nil)
	_ ext.RoundCompleted = (*Extension)(nil)
	_ ext.BatchSubmitted = (*Extension)(nil)
	_ ext.BatchFailed    = (*Extension)(nil)
	_ ext.QueueSkipped   = (*Extension)(nil)
	_ ext.Shutdown       = (*Extension)(nil)
)

// Recorder is the interface audit backends implement.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one audit record.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

// Extension sends crank lifecycle events to an audit backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	queues   map[string]bool // nil = every queue
	minRank  int
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through r.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Round hooks ─────────────────────────────────────

// OnRoundStarted implements ext.RoundStarted.
func (e *Extension) OnRoundStarted(ctx context.Context, roundID id.RoundID, queues int) error {
	return e.record(ctx, ActionRoundStarted, SeverityInfo, OutcomeSuccess,
		ResourceRound, roundID.String(), CategoryRound, nil,
		"queues", queues,
	)
}

// OnRoundCompleted implements ext.RoundCompleted.
func (e *Extension) OnRoundCompleted(ctx context.Context, r ext.Round) error {
	outcome := OutcomeSuccess
	if r.Failed > 0 {
		outcome = OutcomeFailure
	}
	return e.record(ctx, ActionRoundCompleted, SeverityInfo, outcome,
		ResourceRound, r.ID.String(), CategoryRound, nil,
		"queues", r.Queues,
		"submitted", r.Submitted,
		"failed", r.Failed,
		"skipped", r.Skipped,
		"steps", r.Steps,
		"elapsed_ms", r.Elapsed.Milliseconds(),
	)
}

// ── Queue hooks ─────────────────────────────────────

// OnBatchSubmitted implements ext.BatchSubmitted.
func (e *Extension) OnBatchSubmitted(ctx context.Context, a *attempt.Attempt) error {
	return e.record(ctx, ActionBatchSubmitted, SeverityInfo, OutcomeSuccess,
		ResourceQueue, a.Queue.String(), CategoryQueue, nil,
		"attempt_id", a.ID.String(),
		"round_id", a.Round.String(),
		"steps", a.Steps,
		"size", a.Size,
		"remaining", a.Remaining,
		"signature", a.Signature.String(),
	)
}

// OnBatchFailed implements ext.BatchFailed.
func (e *Extension) OnBatchFailed(ctx context.Context, a *attempt.Attempt, err error) error {
	return e.record(ctx, ActionBatchFailed, SeverityCritical, OutcomeFailure,
		ResourceQueue, a.Queue.String(), CategoryQueue, err,
		"attempt_id", a.ID.String(),
		"round_id", a.Round.String(),
		"steps", a.Steps,
	)
}

// OnQueueSkipped implements ext.QueueSkipped.
func (e *Extension) OnQueueSkipped(ctx context.Context, a *attempt.Attempt, reason error) error {
	severity := SeverityInfo
	if reason != nil {
		severity = SeverityWarning
	}
	return e.record(ctx, ActionQueueSkipped, severity, OutcomeSkipped,
		ResourceQueue, a.Queue.String(), CategoryQueue, reason,
		"attempt_id", a.ID.String(),
		"round_id", a.Round.String(),
		"status", string(a.Status),
	)
}

// ── Worker hooks ────────────────────────────────────

// OnShutdown implements ext.Shutdown.
func (e *Extension) OnShutdown(ctx context.Context) error {
	return e.record(ctx, ActionShutdown, SeverityInfo, OutcomeSuccess,
		ResourceWorker, "", CategoryWorker, nil,
	)
}

// ── Internal helpers ────────────────────────────────

// record builds and sends an audit event unless a filter drops it.
// kvPairs are alternating keys and values added to Metadata.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}
	if severityRank(severity) < e.minRank {
		return nil
	}
	if e.queues != nil && resource == ResourceQueue && !e.queues[resourceID] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = reason
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
