// Package postgres implements the store using pgx/v5 with raw SQL.
// Attempts live in one table indexed by round, queue and creation time;
// schema changes are embedded SQL migrations.
package postgres
