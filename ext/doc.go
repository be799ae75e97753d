// Package ext lets code outside the worker observe its rounds.
//
// An extension is anything with a Name. It opts in to events by also
// implementing one or more hook interfaces:
//
//	RoundStarted    the round drained the crankable set
//	RoundCompleted  every queue of the round was handled
//	BatchSubmitted  the ledger accepted a crank batch
//	BatchFailed     a built batch was rejected on submission
//	QueueSkipped    nothing was submitted for a queue
//	Shutdown        the worker is stopping
//
// Hooks run synchronously on the worker goroutine, so they should be quick
// or hand work off. Their errors and panics are logged by the [Registry]
// and never reach the round. The audit hook and the event stream broker
// are both extensions.
package ext
