package crank

import "time"

// Config holds configuration for a crank Node.
type Config struct {
	// Concurrency is the maximum number of queues built and submitted
	// concurrently within one round.
	Concurrency int

	// RoundInterval is how often the worker drains the crankable set when
	// nothing wakes it earlier.
	RoundInterval time.Duration

	// SizeLimit is the maximum encoded size of one batch, in bytes.
	SizeLimit int

	// MaxInstructions bounds how many instructions the builder packs into
	// a single batch regardless of size.
	MaxInstructions int

	// AttemptTimeout bounds one build-and-submit attempt. Zero disables
	// the per-attempt deadline.
	AttemptTimeout time.Duration

	// WorkerID selects the worker account that receives step fees.
	WorkerID uint64

	// QueueRate is the maximum sustained attempts per second for a single
	// queue on this worker. Zero disables off-chain throttling.
	QueueRate float64

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultSizeLimit is the maximum encoded batch size accepted by the
// ledger, in bytes.
const DefaultSizeLimit = 1232

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:     10,
		RoundInterval:   500 * time.Millisecond,
		SizeLimit:       DefaultSizeLimit,
		MaxInstructions: 64,
		AttemptTimeout:  10 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}
