package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the jascrapers sqlite store.
var Migrations = migrate.NewGroup("jascrapers")

func init() {
	Migrations.MustRegister(
		// 001: Create jobs table and indexes.
		&migrate.Migration{
			Name:    "create_jobs_table",
			Version: "20250301090000",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
					CREATE TABLE IF NOT EXISTS jascrapers_jobs (
						id               TEXT PRIMARY KEY,
						supplier         TEXT NOT NULL,
						parameters       TEXT NOT NULL DEFAULT '{}',
						state            TEXT NOT NULL DEFAULT 'pending',
						version          INTEGER NOT NULL DEFAULT 1,
						attempt_count    INTEGER NOT NULL DEFAULT 0,
						max_retries      INTEGER NOT NULL DEFAULT 3,
						idempotency_key  TEXT UNIQUE,
						run_at           INTEGER NOT NULL,
						worker_id        TEXT NOT NULL DEFAULT '',
						lease_expires_at INTEGER,
						started_at       INTEGER,
						finished_at      INTEGER,
						result_ref       TEXT NOT NULL DEFAULT '',
						record_count     INTEGER NOT NULL DEFAULT 0,
						dropped_count    INTEGER NOT NULL DEFAULT 0,
						last_error       TEXT,
						created_at       INTEGER NOT NULL,
						updated_at       INTEGER NOT NULL
					)`)
				if err != nil {
					return err
				}

				_, err = exec.Exec(ctx, `
					CREATE INDEX IF NOT EXISTS idx_jascrapers_jobs_eligible
						ON jascrapers_jobs (supplier, state, created_at, id)`)
				if err != nil {
					return err
				}

				_, err = exec.Exec(ctx, `
					CREATE INDEX IF NOT EXISTS idx_jascrapers_jobs_lease
						ON jascrapers_jobs (state, lease_expires_at)`)
				if err != nil {
					return err
				}

				_, err = exec.Exec(ctx, `
					CREATE INDEX IF NOT EXISTS idx_jascrapers_jobs_created
						ON jascrapers_jobs (created_at, id)`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS jascrapers_jobs`)
				return err
			},
		},
	)
}
