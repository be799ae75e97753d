// Package pebble stores crank attempt history in an embedded Pebble
// database, for single workers that keep history on local disk.
//
// Key layout:
//
//	a/{attempt id}                    msgpack-encoded attempt
//	t/{created_at micros}/{attempt id} time index, empty value
//	r/{round id}/{attempt id}          round index, empty value
//
// Every RecordAttempt and purge writes the attempt and its index entries
// in one batch.
package pebble
