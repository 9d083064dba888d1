// Package postgres stores canonical records in PostgreSQL using pgx/v5.
//
// Each successful job owns one row in jascrapers_results and its quotes in
// jascrapers_quotes. A write deletes the job's previous result and inserts
// the new quotes in one transaction, so a job never has two result sets.
package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	jascrapers "github.com/Joy-Aviation/Joy-Aviation-Supplies"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/id"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/normalize"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/sink"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const scheme = "postgres"

// batchSize bounds the number of inserts queued per round trip.
const batchSize = 500

var _ sink.Sink = (*Sink)(nil)

// Sink is a PostgreSQL result sink.
type Sink struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Option configures the Sink.
type Option func(*Sink)

// WithLogger sets the logger for the sink.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sink) {
		s.logger = logger
	}
}

// New connects to connString.
func New(ctx context.Context, connString string, opts ...Option) (*Sink, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("jascrapers/postgres: connect: %w", err)
	}
	return NewFromPool(pool, opts...), nil
}

// NewFromPool creates a sink over an existing pool. The pool may be shared
// with the postgres job store.
func NewFromPool(pool *pgxpool.Pool, opts ...Option) *Sink {
	s := &Sink{pool: pool, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate applies the embedded schema migrations once each.
func (s *Sink) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS jascrapers_sink_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("jascrapers/postgres: create sink migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("jascrapers/postgres: read sink migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		var applied bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM jascrapers_sink_migrations WHERE filename = $1)`,
			entry.Name(),
		).Scan(&applied); err != nil {
			return fmt.Errorf("jascrapers/postgres: check sink migration %s: %w", entry.Name(), err)
		}
		if applied {
			continue
		}
		data, err := fs.ReadFile(migrationsFS, "migrations/"+entry.Name())
		if err != nil {
			return fmt.Errorf("jascrapers/postgres: read sink migration %s: %w", entry.Name(), err)
		}
		if _, err := s.pool.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("%w: %s: %w", jascrapers.ErrMigrationFailed, entry.Name(), err)
		}
		if _, err := s.pool.Exec(ctx,
			`INSERT INTO jascrapers_sink_migrations (filename) VALUES ($1)`, entry.Name(),
		); err != nil {
			return fmt.Errorf("jascrapers/postgres: record sink migration %s: %w", entry.Name(), err)
		}
		s.logger.Info("applied sink migration", "file", entry.Name())
	}
	return nil
}

// Write replaces the stored output for jobID in one transaction.
func (s *Sink) Write(ctx context.Context, jobID id.JobID, records []normalize.Record) (string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("jascrapers/postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(ctx, `DELETE FROM jascrapers_results WHERE job_id = $1`, jobID.String()); err != nil {
		return "", fmt.Errorf("jascrapers/postgres: clear result: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO jascrapers_results (job_id, record_count) VALUES ($1, $2)`,
		jobID.String(), len(records),
	); err != nil {
		return "", fmt.Errorf("jascrapers/postgres: insert result: %w", err)
	}

	for i := 0; i < len(records); i += batchSize {
		j := min(i+batchSize, len(records))
		b := &pgx.Batch{}
		for _, r := range records[i:j] {
			b.Queue(`
				INSERT INTO jascrapers_quotes (
					job_id, part_id, supplier, observed_at,
					description, price, currency, quantity
				) VALUES ($1, $2, $3, $4, $5, $6::text::numeric, $7, $8)`,
				jobID.String(), r.PartID, r.Supplier, r.ObservedAt,
				r.Description, r.Price.String(), r.Currency, r.Quantity,
			)
		}
		br := tx.SendBatch(ctx, b)
		for k := i; k < j; k++ {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return "", fmt.Errorf("jascrapers/postgres: insert quote: %w", err)
			}
		}
		if err := br.Close(); err != nil {
			return "", fmt.Errorf("jascrapers/postgres: close batch: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("jascrapers/postgres: commit: %w", err)
	}
	return sink.Ref(scheme, jobID), nil
}

// Read returns the quotes behind ref ordered by key.
func (s *Sink) Read(ctx context.Context, ref string) ([]normalize.Record, error) {
	jobID, err := sink.ParseRef(scheme, ref)
	if err != nil {
		return nil, err
	}

	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM jascrapers_results WHERE job_id = $1)`, jobID.String(),
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("jascrapers/postgres: check result: %w", err)
	}
	if !exists {
		return nil, jascrapers.ErrResultNotFound
	}

	rows, err := s.pool.Query(ctx, `
		SELECT part_id, supplier, observed_at, description, price::text, currency, quantity
		FROM jascrapers_quotes
		WHERE job_id = $1
		ORDER BY part_id, supplier, observed_at`,
		jobID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("jascrapers/postgres: read quotes: %w", err)
	}
	defer rows.Close()

	out := []normalize.Record{}
	for rows.Next() {
		var (
			r     normalize.Record
			price string
		)
		if err := rows.Scan(&r.PartID, &r.Supplier, &r.ObservedAt, &r.Description, &price, &r.Currency, &r.Quantity); err != nil {
			return nil, fmt.Errorf("jascrapers/postgres: scan quote: %w", err)
		}
		if r.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("jascrapers/postgres: parse price %q: %w", price, err)
		}
		r.ObservedAt = r.ObservedAt.UTC()
		r.JobID = jobID
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jascrapers/postgres: iterate quotes: %w", err)
	}
	return out, nil
}

// Ping checks database connectivity.
func (s *Sink) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close closes the connection pool.
func (s *Sink) Close() error {
	s.pool.Close()
	return nil
}
