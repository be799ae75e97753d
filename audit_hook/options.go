package audithook

import (
	"log/slog"

	"github.com/xraph/crank/ledger"
)

// Option configures an Extension.
type Option func(*Extension)

// WithActions keeps only the listed actions. Unknown names never match.
//
//	audithook.New(recorder,
//	    audithook.WithActions(audithook.ActionBatchSubmitted, audithook.ActionBatchFailed),
//	)
func WithActions(actions ...string) Option {
	return func(e *Extension) {
		e.enabled = make(map[string]bool, len(actions))
		for _, a := range actions {
			e.enabled[a] = true
		}
	}
}

// WithMinSeverity drops events below sev. A recorder that pages on
// failures can pass SeverityWarning to ignore routine rounds.
func WithMinSeverity(sev string) Option {
	return func(e *Extension) { e.minRank = severityRank(sev) }
}

// WithQueues limits queue events to the given queue accounts. Round and
// worker events are unaffected.
func WithQueues(queues ...ledger.Address) Option {
	return func(e *Extension) {
		e.queues = make(map[string]bool, len(queues))
		for _, q := range queues {
			e.queues[q.String()] = true
		}
	}
}

// WithLogger sets the logger used when the recorder fails.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extension) { e.logger = l }
}

func severityRank(sev string) int {
	switch sev {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}
