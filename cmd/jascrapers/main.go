// Command jascrapers runs the scraper orchestrator service: the scheduler,
// the worker pool and the HTTP status and control API.
//
// Usage:
//
//	jascrapers -config /etc/jascrapers/jascrapers.toml
//
// Settings in the file may be overridden by JASCRAPERS_* environment
// variables or a .env file in the working directory.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	jascrapers "github.com/Joy-Aviation/Joy-Aviation-Supplies"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/api"
	audithook "github.com/Joy-Aviation/Joy-Aviation-Supplies/audit_hook"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/engine"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/internal/config"
)

func main() {
	configPath := flag.String("config", os.Getenv(config.EnvPrefix+"CONFIG"), "path to the TOML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "jascrapers: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	level, _ := cfg.Level()
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg, err := cfg.Registry()
	if err != nil {
		return err
	}

	var owned cleanup
	defer owned.run()

	st, err := openStore(ctx, cfg.StoreDSN, logger, &owned)
	if err != nil {
		return fmt.Errorf("open store %s: %w", redactDSN(cfg.StoreDSN), err)
	}
	sk, err := openSink(ctx, cfg.Sink, logger, &owned)
	if err != nil {
		_ = st.Close()
		return fmt.Errorf("open sink %s: %w", redactDSN(cfg.Sink.DSN), err)
	}

	o, err := jascrapers.New(append(cfg.Options(),
		jascrapers.WithStore(st),
		jascrapers.WithLogger(logger),
	)...)
	if err != nil {
		_ = st.Close()
		return err
	}

	eng, err := engine.Build(o, reg,
		engine.WithSink(sk),
		engine.WithExtension(audithook.New(audithook.LogRecorder(logger), audithook.WithLogger(logger))),
		engine.WithCron(cfg.Cron...),
	)
	if err != nil {
		_ = st.Close()
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.New(eng, nil, api.WithLogger(logger)).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := eng.Start(ctx); err != nil {
		_ = st.Close()
		return err
	}
	logger.Info("jascrapers started",
		slog.String("addr", cfg.Addr),
		slog.String("store", redactDSN(cfg.StoreDSN)),
		slog.String("sink", redactDSN(cfg.Sink.DSN)),
		slog.Int("suppliers", len(reg.Names())),
		slog.Int("cron_entries", len(cfg.Cron)),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), o.Config().ShutdownTimeout)
		defer cancel()
		return errors.Join(srv.Shutdown(shutdownCtx), eng.Stop(shutdownCtx))
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
