package client_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	jascrapers "github.com/Joy-Aviation/Joy-Aviation-Supplies"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/api"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/backoff"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/client"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/engine"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/job"
	memsink "github.com/Joy-Aviation/Joy-Aviation-Supplies/sink/memory"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/store/memory"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/supplier"
)

func newClient(t *testing.T) *client.Client {
	t.Helper()
	reg := supplier.NewRegistry()
	err := reg.Register(supplier.Descriptor{Name: "acme", Currency: "USD"},
		supplier.AdapterFunc(func(_ context.Context, params map[string]string) ([]supplier.RawRecord, error) {
			return []supplier.RawRecord{{
				Fields:     map[string]any{"part": params["part"], "price": "3.10", "qty": 25},
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
	eng, err := engine.Build(o, reg,
		engine.WithSink(memsink.New()),
		engine.WithBackoff(backoff.NewConstant(time.Millisecond)),
	)
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

	c, err := client.New(srv.URL)
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	return c
}

func TestNew_RejectsBadURL(t *testing.T) {
	if _, err := client.New("ftp://example.com"); err == nil {
		t.Fatal("expected an error for a non-HTTP scheme")
	}
}

func TestClient_SubmitWaitRecords(t *testing.T) {
	c := newClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	j, err := c.Submit(ctx, "acme", map[string]string{"part": "ms20995c32"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if j.IdempotencyKey == "" {
		t.Error("expected a generated idempotency key")
	}

	done, err := c.Wait(ctx, j.ID.String(), 5*time.Millisecond)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if done.State != job.StateSucceeded {
		t.Fatalf("state = %s, want succeeded", done.State)
	}

	recs, err := c.Records(ctx, j.ID.String())
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if len(recs) != 1 || recs[0].PartID != "MS20995C32" || recs[0].Quantity != 25 {
		t.Errorf("unexpected records: %+v", recs)
	}

	stats, err := c.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.ByState[job.StateSucceeded] != 1 {
		t.Errorf("succeeded count = %d, want 1", stats.ByState[job.StateSucceeded])
	}
}

func TestClient_ExplicitKeyReplays(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()
	params := map[string]string{"part": "AN960-10"}

	a, err := c.Submit(ctx, "acme", params, client.WithIdempotencyKey("nightly-1"))
	if err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	b, err := c.Submit(ctx, "acme", params, client.WithIdempotencyKey("nightly-1"))
	if err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if a.ID.String() != b.ID.String() {
		t.Errorf("replay returned %s, want %s", b.ID, a.ID)
	}

	_, err = c.Submit(ctx, "acme", map[string]string{"part": "other"}, client.WithIdempotencyKey("nightly-1"))
	if !errors.Is(err, jascrapers.ErrIdempotencyMismatch) {
		t.Fatalf("expected ErrIdempotencyMismatch, got %v", err)
	}
}

func TestClient_ErrorsMapToSentinels(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	_, err := c.Submit(ctx, "nobody", nil)
	if !errors.Is(err, jascrapers.ErrInvalidParameters) {
		t.Errorf("unknown supplier: expected ErrInvalidParameters, got %v", err)
	}

	_, err = c.Get(ctx, "job_01h455vb4pex5vsknk084sn02q")
	if !errors.Is(err, jascrapers.ErrJobNotFound) {
		t.Errorf("missing job: expected ErrJobNotFound, got %v", err)
	}
	var apiErr *client.Error
	if !errors.As(err, &apiErr) || apiErr.Class != string(jascrapers.ClassNotFound) {
		t.Errorf("expected a classified client error, got %#v", err)
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	c, err := client.New(srv.URL, client.WithRetry(3, time.Millisecond))
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("Health: %v", err)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("server saw %d calls, want 3", n)
	}
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	c, err := client.New(srv.URL, client.WithRetry(3, time.Millisecond))
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	_, err = c.Cancel(context.Background(), "job_01h455vb4pex5vsknk084sn02q")
	if !errors.Is(err, jascrapers.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("server saw %d calls, want 1", n)
	}
}
