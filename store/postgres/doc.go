// Package postgres implements the job store using pgx/v5 with raw SQL.
// Transitions are version-guarded UPDATEs, the idempotency key is a partial
// unique index, and the schema ships as embedded SQL migrations.
package postgres
