// Package redis stores crank attempt history in Redis.
//
// Key layout (all keys prefixed with "crank:"):
//
//	crank:attempt:{id}               Hash of one attempt
//	crank:attempts                   Sorted Set of attempt IDs by creation time
//	crank:queue_attempts:{address}   Sorted Set of one queue's attempt IDs
//	crank:round:{id}                 Set of one round's attempt IDs
//
// Writes use MULTI/EXEC pipelines so an attempt and its indexes appear
// together.
package redis
