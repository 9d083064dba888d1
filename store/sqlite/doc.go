// Package sqlite implements store.Store on SQLite through the grove ORM and
// its pure-Go sqlitedriver. Suitable for single-node deployments, CLI
// tools, and tests that want a real database without a container.
//
//	s, err := sqlite.Open(ctx, "/var/lib/jascrapers/jobs.db")
//	if err != nil { ... }
//	defer s.Close()
//	if err := s.Migrate(ctx); err != nil { ... }
//
// Schema changes are grove migrations registered in the "jascrapers"
// group. Timestamps are stored as unix nanoseconds.
package sqlite
