package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jascrapers "github.com/Joy-Aviation/Joy-Aviation-Supplies"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/api"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/engine"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/job"
	memsink "github.com/Joy-Aviation/Joy-Aviation-Supplies/sink/memory"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/store/memory"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/supplier"
)

func newServer(t *testing.T) string {
	t.Helper()
	reg := supplier.NewRegistry()
	err := reg.Register(supplier.Descriptor{Name: "acme", Currency: "USD"},
		supplier.AdapterFunc(func(_ context.Context, params map[string]string) ([]supplier.RawRecord, error) {
			return []supplier.RawRecord{{
				Fields:     map[string]any{"part": params["part"], "price": "1.25"},
				ObservedAt: time.Now().UTC(),
			}}, nil
		}))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	o, err := jascrapers.New(
		jascrapers.WithStore(memory.New()),
		jascrapers.WithScanInterval(10*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("jascrapers.New: %v", err)
	}
	eng, err := engine.Build(o, reg, engine.WithSink(memsink.New()))
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	srv := httptest.NewServer(api.New(eng, nil).Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = eng.Stop(context.Background())
	})
	return srv.URL
}

func jactl(t *testing.T, server string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(context.Background(), append([]string{"-server", server}, args...), &out)
	return out.String(), err
}

func TestSubmitWaitAndInspect(t *testing.T) {
	server := newServer(t)

	out, err := jactl(t, server, "submit", "-supplier", "acme", "-p", "part=AN3-5A", "-wait")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	var j job.Job
	if err := json.Unmarshal([]byte(out), &j); err != nil {
		t.Fatalf("decode submit output: %v\n%s", err, out)
	}
	if j.State != job.StateSucceeded || j.Parameters["part"] != "AN3-5A" {
		t.Fatalf("unexpected job: %+v", j)
	}

	out, err = jactl(t, server, "records", j.ID.String())
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if !strings.Contains(out, `"part_id": "AN3-5A"`) {
		t.Errorf("records output missing part:\n%s", out)
	}

	out, err = jactl(t, server, "list", "-supplier", "acme")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, j.ID.String()) || !strings.Contains(out, "succeeded") {
		t.Errorf("list output missing job:\n%s", out)
	}

	out, err = jactl(t, server, "stats")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if !strings.Contains(out, "acme") {
		t.Errorf("stats output missing supplier:\n%s", out)
	}
}

func TestErrors(t *testing.T) {
	server := newServer(t)

	if _, err := jactl(t, server); !errors.Is(err, errUsage) {
		t.Errorf("no command: got %v, want usage error", err)
	}
	if _, err := jactl(t, server, "frobnicate"); !errors.Is(err, errUsage) {
		t.Errorf("unknown command: got %v, want usage error", err)
	}
	if _, err := jactl(t, server, "submit"); err == nil {
		t.Error("submit without -supplier should fail")
	}
	if _, err := jactl(t, server, "submit", "-supplier", "acme", "-p", "novalue"); !errors.Is(err, errUsage) {
		t.Errorf("malformed -p: got %v, want usage error", err)
	}
	if _, err := jactl(t, server, "get", "job_01h455vb4pex5vsknk084sn02q"); !errors.Is(err, jascrapers.ErrJobNotFound) {
		t.Errorf("missing job: got %v, want ErrJobNotFound", err)
	}
}
