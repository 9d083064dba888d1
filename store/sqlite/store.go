package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xraph/grove"
	"github.com/xraph/grove/driver"
	"github.com/xraph/grove/drivers/sqlitedriver"
	_ "github.com/xraph/grove/drivers/sqlitedriver/sqlitemigrate" // register sqlite migration executor
	"github.com/xraph/grove/migrate"

	jascrapers "github.com/Joy-Aviation/Joy-Aviation-Supplies"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/job"
)

var _ job.Store = (*Store)(nil)

// Store is a grove ORM implementation of store.Store using SQLite dialect.
type Store struct {
	db     *grove.DB
	sdb    *sqlitedriver.SqliteDB
	owned  bool
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Open opens (or creates) the database at path. The store owns the handle
// and closes it on Close.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	sdb := sqlitedriver.New()
	// SQLite serializes writers; a single connection turns lock contention
	// into queueing inside database/sql.
	if err := sdb.Open(ctx, path, driver.WithPoolSize(1)); err != nil {
		return nil, fmt.Errorf("jascrapers/sqlite: open: %w", err)
	}
	db, err := grove.Open(sdb)
	if err != nil {
		_ = sdb.Close()
		return nil, fmt.Errorf("jascrapers/sqlite: open: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("jascrapers/sqlite: connect: %w", err)
	}
	s := New(db, opts...)
	s.owned = true
	return s, nil
}

// New wraps an existing grove handle. The caller owns the db lifecycle;
// Close will not close it.
func New(db *grove.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		sdb:    sqlitedriver.Unwrap(db),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying *grove.DB for advanced usage.
func (s *Store) DB() *grove.DB {
	return s.db
}

// Migrate runs programmatic migrations via the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("jascrapers/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	res, err := orch.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", jascrapers.ErrMigrationFailed, err)
	}
	if res != nil {
		for _, m := range res.Applied {
			s.logger.Info("applied migration", "name", m.Name, "version", m.Version)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the handle when the store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

// ── helpers ──────────────────────────────────────────────────────

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || errors.Is(err, grove.ErrNoRows)
}

// uniqueViolation reports whether err is a unique constraint failure on
// column (e.g. "jascrapers_jobs.id").
func uniqueViolation(err error, column string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, column)
}
