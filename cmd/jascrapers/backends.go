package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/redis/go-redis/v9"

	jascrapers "github.com/Joy-Aviation/Joy-Aviation-Supplies"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/internal/config"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/sink"
	filesink "github.com/Joy-Aviation/Joy-Aviation-Supplies/sink/file"
	memsink "github.com/Joy-Aviation/Joy-Aviation-Supplies/sink/memory"
	mongosink "github.com/Joy-Aviation/Joy-Aviation-Supplies/sink/mongo"
	pgsink "github.com/Joy-Aviation/Joy-Aviation-Supplies/sink/postgres"
	redissink "github.com/Joy-Aviation/Joy-Aviation-Supplies/sink/redis"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/store/memory"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/store/postgres"
	redisstore "github.com/Joy-Aviation/Joy-Aviation-Supplies/store/redis"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/store/sqlite"
)

// cleanup collects connections the process owns but a backend does not
// close itself.
type cleanup []func() error

func (c *cleanup) add(fn func() error) { *c = append(*c, fn) }

// run closes everything in reverse order.
func (c cleanup) run() {
	for i := len(c) - 1; i >= 0; i-- {
		_ = c[i]()
	}
}

func scheme(dsn string) string {
	s, _, ok := strings.Cut(dsn, "://")
	if !ok {
		return ""
	}
	return strings.ToLower(s)
}

// openStore opens the job store selected by dsn and migrates it.
func openStore(ctx context.Context, dsn string, logger *slog.Logger, owned *cleanup) (jascrapers.Storer, error) {
	var (
		st  jascrapers.Storer
		err error
	)
	switch scheme(dsn) {
	case "memory":
		st = memory.New()
	case "postgres", "postgresql":
		st, err = postgres.New(ctx, dsn, postgres.WithLogger(logger))
	case "sqlite":
		st, err = sqlite.Open(ctx, strings.TrimPrefix(dsn, "sqlite://"), sqlite.WithLogger(logger))
	case "redis", "rediss":
		var opts *redis.Options
		if opts, err = redis.ParseURL(dsn); err == nil {
			client := redis.NewClient(opts)
			owned.add(client.Close)
			st = redisstore.New(client, redisstore.WithLogger(logger))
		}
	default:
		return nil, fmt.Errorf("unsupported store DSN %q", redactDSN(dsn))
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

// closer is implemented by sinks that hold connections.
type closer interface{ Close() error }

type migrator interface {
	Migrate(ctx context.Context) error
}

// openSink opens the result sink selected by cfg and migrates it when the
// backend has a schema.
func openSink(ctx context.Context, cfg config.Sink, logger *slog.Logger, owned *cleanup) (sink.Sink, error) {
	var (
		sk  sink.Sink
		err error
	)
	switch scheme(cfg.DSN) {
	case "memory":
		sk = memsink.New()
	case "file":
		sk, err = filesink.New(strings.TrimPrefix(cfg.DSN, "file://"))
	case "postgres", "postgresql":
		sk, err = pgsink.New(ctx, cfg.DSN, pgsink.WithLogger(logger))
	case "mongodb", "mongodb+srv":
		sk, err = mongosink.New(ctx, cfg.DSN, cfg.Database, mongosink.WithLogger(logger))
	case "redis", "rediss":
		var opts *redis.Options
		if opts, err = redis.ParseURL(cfg.DSN); err == nil {
			client := redis.NewClient(opts)
			owned.add(client.Close)
			sk = redissink.New(client, redissink.WithTTL(cfg.TTL))
		}
	default:
		return nil, fmt.Errorf("unsupported sink DSN %q", redactDSN(cfg.DSN))
	}
	if err != nil {
		return nil, err
	}
	if c, ok := sk.(closer); ok {
		owned.add(c.Close)
	}
	if m, ok := sk.(migrator); ok {
		if err := m.Migrate(ctx); err != nil {
			return nil, err
		}
	}
	return sk, nil
}

// redactDSN drops credentials before a DSN is logged.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return scheme(dsn) + "://..."
	}
	return u.Redacted()
}
