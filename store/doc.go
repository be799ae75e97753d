// Package store persists what crank workers did. The ledger stays the
// source of truth for queue state; a store only keeps the attempt history
// that `crankd attempts` and dashboards read.
//
// Backends, all passing the storetest suite:
//
//   - store/memory: process-local, for tests and devnet
//   - store/postgres: pgx/v5 with embedded SQL migrations
//   - store/bun: the same schema through the Bun ORM
//   - store/redis: Hashes indexed by Sorted Sets
//   - store/pebble: an embedded LSM for a single worker
//   - store/mongo: one collection with secondary indexes
//
// Open a backend, then hand it to Prepare before use:
//
//	s, err := postgres.New(ctx, dsn)
//	if err != nil {
//	    return err
//	}
//	if err := store.Prepare(ctx, s); err != nil {
//	    return err
//	}
//	defer s.Close()
package store
