// Package crank provides a decentralized queue automation engine for
// ledger programs. Programs register queues, persistent units of work that
// start on a trigger (an account change, a cron schedule, or immediately)
// and then advance one chained instruction at a time. Off-chain workers
// discover crankable queues, pack as many verified chain steps as fit into
// one atomic batch, and submit it.
//
// Crank is designed as a library. The queue state machine runs as a ledger
// program (package queue), the batch builder and the worker pool run
// off-chain (packages builder and worker), and the engine package wires
// them to a ledger client.
//
// # Quick Start
//
//	n, err := crank.New(
//	    crank.WithConcurrency(16),
//	    crank.WithWorkerID(3),
//	)
//	eng, err := engine.Build(n, ledgerClient, engine.WithSigner(signer))
//	err = eng.Start(ctx)
//
// # Architecture
//
// The on-ledger half is deterministic and all-or-nothing: every queue
// transition is an instruction executed inside an atomic batch. The
// off-chain half is concurrent and stateless: it reads state fresh for
// every attempt, relies on dry-run simulation to find the longest chain
// prefix that succeeds, and lets the ledger reject stale batches.
//
// Round and attempt IDs use TypeID: type-prefixed, K-sortable,
// UUIDv7-based identifiers.
package crank
