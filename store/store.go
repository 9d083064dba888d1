// Package store defines the aggregate persistence interface. The job
// package defines the job store contract; the composite Store adds the
// lifecycle operations every backend provides. Backends: Postgres, SQLite,
// Redis, and Memory.
package store

import (
	"context"

	"github.com/Joy-Aviation/Joy-Aviation-Supplies/job"
)

// Store is the aggregate persistence interface implemented by every
// backend.
type Store interface {
	job.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
