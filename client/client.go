// Package client provides a Go client for a remote JA-Scrapers instance over
// its HTTP API.
//
// Usage:
//
//	c, err := client.New("http://scrapers.internal:8080")
//
//	// Submit a job. A random idempotency key is attached so retries
//	// never create a second job.
//	j, err := c.Submit(ctx, "acme", map[string]string{"part": "AN3-5A"})
//
//	// Poll until it finishes, then read the records.
//	j, err = c.Wait(ctx, j.ID.String(), time.Second)
//	recs, err := c.Records(ctx, j.ID.String())
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	jascrapers "github.com/Joy-Aviation/Joy-Aviation-Supplies"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/api"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/engine"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/job"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/normalize"
)

// Client talks to a JA-Scrapers server.
type Client struct {
	base   *url.URL
	http   *http.Client
	logger *slog.Logger

	maxRetries int
	baseDelay  time.Duration
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("jascrapers/client: parse base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("jascrapers/client: unsupported scheme %q", u.Scheme)
	}
	c := &Client{
		base:      u,
		http:      &http.Client{Timeout: 30 * time.Second},
		logger:    slog.Default(),
		baseDelay: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ──────────────────────────────────────────────────
// Errors
// ──────────────────────────────────────────────────

// Error is a classified failure returned by the server.
type Error struct {
	Status  int
	Class   string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("jascrapers/client: %d %s: %s", e.Status, e.Class, e.Message)
}

// Unwrap maps the reply onto the matching jascrapers sentinel so callers
// can use errors.Is.
func (e *Error) Unwrap() error {
	switch e.Status {
	case http.StatusBadRequest:
		return jascrapers.ErrInvalidParameters
	case http.StatusNotFound:
		return jascrapers.ErrJobNotFound
	case http.StatusConflict:
		return jascrapers.ErrConflict
	case http.StatusUnprocessableEntity:
		return jascrapers.ErrIdempotencyMismatch
	}
	return nil
}

// ──────────────────────────────────────────────────
// Jobs
// ──────────────────────────────────────────────────

// SubmitOption adjusts a single submission.
type SubmitOption func(*api.SubmitJobRequest)

// WithIdempotencyKey replaces the generated idempotency key.
func WithIdempotencyKey(key string) SubmitOption {
	return func(r *api.SubmitJobRequest) { r.IdempotencyKey = key }
}

// Submit submits a job and returns it. Unless overridden, every call
// carries a fresh UUID idempotency key, reused across its own retries.
func (c *Client) Submit(ctx context.Context, supplier string, params map[string]string, opts ...SubmitOption) (*job.Job, error) {
	req := api.SubmitJobRequest{
		Supplier:       supplier,
		Parameters:     params,
		IdempotencyKey: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(&req)
	}
	var j job.Job
	if err := c.do(ctx, http.MethodPost, "/v1/jobs", nil, req, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// Get returns a job by ID.
func (c *Client) Get(ctx context.Context, jobID string) (*job.Job, error) {
	var j job.Job
	if err := c.do(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(jobID), nil, nil, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// ListOpts filters List.
type ListOpts struct {
	State    job.State
	Supplier string
	Limit    int
}

// List returns jobs matching opts, oldest first.
func (c *Client) List(ctx context.Context, opts ListOpts) ([]*job.Job, error) {
	q := url.Values{}
	if opts.State != "" {
		q.Set("state", string(opts.State))
	}
	if opts.Supplier != "" {
		q.Set("supplier", opts.Supplier)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	var resp api.ListJobsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/jobs", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// Cancel cancels a job and returns its final state.
func (c *Client) Cancel(ctx context.Context, jobID string) (*job.Job, error) {
	var j job.Job
	if err := c.do(ctx, http.MethodPost, "/v1/jobs/"+url.PathEscape(jobID)+"/cancel", nil, nil, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// Records returns the canonical records of a succeeded job.
func (c *Client) Records(ctx context.Context, jobID string) ([]normalize.Record, error) {
	var resp api.RecordsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(jobID)+"/records", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

// Wait polls a job every interval until it reaches a terminal state.
func (c *Client) Wait(ctx context.Context, jobID string, interval time.Duration) (*job.Job, error) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		j, err := c.Get(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if j.State.Terminal() {
			return j, nil
		}
		select {
		case <-ctx.Done():
			return j, ctx.Err()
		case <-t.C:
		}
	}
}

// ──────────────────────────────────────────────────
// Status
// ──────────────────────────────────────────────────

// Stats returns job counts by state and supplier.
func (c *Client) Stats(ctx context.Context) (*engine.Stats, error) {
	var s engine.Stats
	if err := c.do(ctx, http.MethodGet, "/v1/stats", nil, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Suppliers lists the registered suppliers.
func (c *Client) Suppliers(ctx context.Context) ([]api.SupplierResponse, error) {
	var out []api.SupplierResponse
	if err := c.do(ctx, http.MethodGet, "/v1/suppliers", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Health reports whether the server can reach its store and sink.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil, nil)
}

// ──────────────────────────────────────────────────
// Transport
// ──────────────────────────────────────────────────

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("jascrapers/client: marshal request: %w", err)
		}
	}

	u := c.base.JoinPath(path)
	u.RawQuery = query.Encode()

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.baseDelay << (attempt - 1)
			c.logger.Debug("client: retrying request",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		retry, err := c.roundTrip(ctx, method, u.String(), payload, out)
		if err == nil || !retry {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// roundTrip performs one request. retry reports whether the failure is
// worth another attempt.
func (c *Client) roundTrip(ctx context.Context, method, u string, payload []byte, out any) (retry bool, err error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return false, fmt.Errorf("jascrapers/client: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return true, fmt.Errorf("jascrapers/client: %s %s: %w", method, u, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return resp.StatusCode >= 500, decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return false, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("jascrapers/client: decode response: %w", err)
	}
	return false, nil
}

func decodeError(resp *http.Response) error {
	e := &Error{Status: resp.StatusCode}
	var body api.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil && body.Error.Class != "" {
		e.Class, e.Message = body.Error.Class, body.Error.Message
		return e
	}
	e.Class, e.Message = "http", http.StatusText(resp.StatusCode)
	return e
}
