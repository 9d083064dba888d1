package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"

	"github.com/Joy-Aviation/Joy-Aviation-Supplies/job"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/store"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/store/sqlite"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/store/storetest"
)

var _ store.Store = (*sqlite.Store)(nil)

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	ctx := context.Background()
	s, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) job.Store { return openStore(t) })
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("second migrate should be a no-op: %v", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestJobsSurviveReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "jobs.db")

	s, err := sqlite.Open(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	j := job.New("acme", map[string]string{"part": "NAS1149F0363P"}, 2)
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := sqlite.Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if got.Parameters["part"] != "NAS1149F0363P" || got.MaxRetries != 2 {
		t.Errorf("job not persisted: %+v", got)
	}
}

func TestNewLeavesCallerOwnedHandleOpen(t *testing.T) {
	ctx := context.Background()
	sdb := sqlitedriver.New()
	if err := sdb.Open(ctx, filepath.Join(t.TempDir(), "shared.db")); err != nil {
		t.Fatalf("open driver: %v", err)
	}
	db, err := grove.Open(sdb)
	if err != nil {
		t.Fatalf("grove open: %v", err)
	}
	defer db.Close()

	s := sqlite.New(db)
	if s.DB() != db {
		t.Fatal("DB() should return the wrapped handle")
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := db.Ping(ctx); err != nil {
		t.Fatalf("handle closed by store it does not own: %v", err)
	}
}
