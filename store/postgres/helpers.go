package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const idempotencyConstraint = "uq_jascrapers_jobs_idempotency_key"

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// duplicateConstraint returns the violated constraint name when err is a
// unique_violation (23505).
func duplicateConstraint(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName, true
	}
	return "", false
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
