// Command jactl submits and inspects scrape jobs on a running jascrapers
// service.
//
// Usage:
//
//	jactl [-server URL] submit -supplier acme -p part=AN3-5A [-wait]
//	jactl get <job-id>
//	jactl list [-state failed] [-supplier acme] [-limit 50]
//	jactl cancel <job-id>
//	jactl records <job-id>
//	jactl stats
//	jactl suppliers
//
// The server defaults to $JASCRAPERS_SERVER, then http://localhost:8080.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"github.com/Joy-Aviation/Joy-Aviation-Supplies/client"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/job"
)

const defaultServer = "http://localhost:8080"

var errUsage = errors.New("usage")

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := run(ctx, os.Args[1:], os.Stdout)
	switch {
	case errors.Is(err, errUsage):
		os.Exit(2)
	case err != nil:
		fmt.Fprintf(os.Stderr, "jactl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("jactl", flag.ContinueOnError)
	server := fs.String("server", serverFromEnv(), "jascrapers API base URL")
	timeout := fs.Duration("timeout", 30*time.Second, "per-request timeout")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: jactl [-server URL] <submit|get|list|cancel|records|stats|suppliers> [args]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errUsage
	}

	c, err := client.New(*server, client.WithRetry(2, 250*time.Millisecond))
	if err != nil {
		return err
	}
	cmd := command{c: c, out: out, timeout: *timeout}

	name, rest := fs.Arg(0), fs.Args()[1:]
	switch name {
	case "submit":
		return cmd.submit(ctx, rest)
	case "get":
		return cmd.withID(ctx, rest, func(ctx context.Context, id string) (any, error) { return c.Get(ctx, id) })
	case "cancel":
		return cmd.withID(ctx, rest, func(ctx context.Context, id string) (any, error) { return c.Cancel(ctx, id) })
	case "records":
		return cmd.withID(ctx, rest, func(ctx context.Context, id string) (any, error) { return c.Records(ctx, id) })
	case "list":
		return cmd.list(ctx, rest)
	case "stats":
		return cmd.stats(ctx)
	case "suppliers":
		return cmd.call(ctx, func(ctx context.Context) (any, error) { return c.Suppliers(ctx) })
	}
	fmt.Fprintf(fs.Output(), "jactl: unknown command %q\n", name)
	fs.Usage()
	return errUsage
}

func serverFromEnv() string {
	if s := os.Getenv("JASCRAPERS_SERVER"); s != "" {
		return s
	}
	return defaultServer
}

type command struct {
	c       *client.Client
	out     io.Writer
	timeout time.Duration
}

func (cmd command) call(ctx context.Context, fn func(context.Context) (any, error)) error {
	ctx, cancel := context.WithTimeout(ctx, cmd.timeout)
	defer cancel()
	v, err := fn(ctx)
	if err != nil {
		return err
	}
	return cmd.print(v)
}

func (cmd command) print(v any) error {
	enc := json.NewEncoder(cmd.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (cmd command) withID(ctx context.Context, args []string, fn func(context.Context, string) (any, error)) error {
	if len(args) != 1 {
		return fmt.Errorf("expected exactly one job ID, got %d arguments", len(args))
	}
	return cmd.call(ctx, func(ctx context.Context) (any, error) { return fn(ctx, args[0]) })
}

// params collects repeated -p key=value flags.
type params map[string]string

func (p params) String() string {
	keys := make([]string, 0, len(p))
	for k, v := range p {
		keys = append(keys, k+"="+v)
	}
	slices.Sort(keys)
	return strings.Join(keys, ",")
}

func (p params) Set(s string) error {
	k, v, ok := strings.Cut(s, "=")
	if !ok || k == "" {
		return fmt.Errorf("parameter %q is not key=value", s)
	}
	p[k] = v
	return nil
}

func (cmd command) submit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	supplierName := fs.String("supplier", "", "supplier name (required)")
	key := fs.String("key", "", "idempotency key (default: random)")
	wait := fs.Bool("wait", false, "poll until the job finishes")
	p := params{}
	fs.Var(p, "p", "job parameter as key=value (repeatable)")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if *supplierName == "" {
		return errors.New("submit: -supplier is required")
	}

	var opts []client.SubmitOption
	if *key != "" {
		opts = append(opts, client.WithIdempotencyKey(*key))
	}
	sctx, cancel := context.WithTimeout(ctx, cmd.timeout)
	defer cancel()
	j, err := cmd.c.Submit(sctx, *supplierName, p, opts...)
	if err != nil {
		return err
	}
	if *wait {
		if j, err = cmd.c.Wait(ctx, j.ID.String(), time.Second); err != nil {
			return err
		}
	}
	return cmd.print(j)
}

func (cmd command) list(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	state := fs.String("state", "", "filter by state")
	supplierName := fs.String("supplier", "", "filter by supplier")
	limit := fs.Int("limit", 50, "maximum jobs to list")
	asJSON := fs.Bool("json", false, "print JSON instead of a table")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	ctx, cancel := context.WithTimeout(ctx, cmd.timeout)
	defer cancel()
	jobs, err := cmd.c.List(ctx, client.ListOpts{State: job.State(*state), Supplier: *supplierName, Limit: *limit})
	if err != nil {
		return err
	}
	if *asJSON {
		return cmd.print(jobs)
	}

	tw := tabwriter.NewWriter(cmd.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSUPPLIER\tSTATE\tATTEMPTS\tRECORDS\tERROR")
	for _, j := range jobs {
		lastErr := ""
		if j.LastError != nil {
			lastErr = string(j.LastError.Class)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%d\t%s\n",
			j.ID, j.Supplier, j.State, j.AttemptCount, j.MaxAttempts(), j.RecordCount, lastErr)
	}
	return tw.Flush()
}

func (cmd command) stats(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, cmd.timeout)
	defer cancel()
	s, err := cmd.c.Stats(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STATE\tJOBS")
	for _, st := range job.States {
		fmt.Fprintf(tw, "%s\t%d\n", st, s.ByState[st])
	}
	fmt.Fprintf(tw, "total\t%d\n", s.Total)
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "SUPPLIER\tJOBS")
	names := make([]string, 0, len(s.BySupplier))
	for name := range s.BySupplier {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		fmt.Fprintf(tw, "%s\t%d\n", name, s.BySupplier[name])
	}
	return tw.Flush()
}
