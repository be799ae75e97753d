package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionRoundStarted   = "round.started"
	ActionRoundCompleted = "round.completed"
	ActionBatchSubmitted = "batch.submitted"
	ActionBatchFailed    = "batch.failed"
	ActionQueueSkipped   = "queue.skipped"
	ActionShutdown       = "worker.shutdown"
)

// Audit event categories group related actions.
const (
	CategoryRound  = "crank.round"
	CategoryQueue  = "crank.queue"
	CategoryWorker = "crank.worker"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceRound  = "round"
	ResourceQueue  = "queue"
	ResourceWorker = "worker"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionRoundStarted,
		ActionRoundCompleted,
		ActionBatchSubmitted,
		ActionBatchFailed,
		ActionQueueSkipped,
		ActionShutdown,
	}
}
