// Package ledger defines the contract between crank and the ledger runtime
// it automates: addresses, instructions, atomic batches, accounts, the
// execution environment handed to programs, and the client capabilities
// the off-chain worker consumes (account fetch, dry-run simulation, clock,
// submission).
//
// Batches and instruction payloads are encoded with MessagePack. The
// encoded length of a batch is what the size cap is measured against.
package ledger
