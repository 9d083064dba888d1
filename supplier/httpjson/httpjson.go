// Package httpjson is a generic supplier adapter for suppliers that expose
// their catalogue as a JSON API. Job parameters become query parameters and
// every object in the response becomes one raw record.
//
// It is also the reference for how an adapter classifies failures at its
// boundary: throttling, server errors and network failures are transient;
// other client errors and undecodable payloads are permanent.
package httpjson

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	jascrapers "github.com/Joy-Aviation/Joy-Aviation-Supplies"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/supplier"
)

// maxBody bounds how much of a response is read.
const maxBody = 32 << 20

// Options configures an Adapter.
type Options struct {
	// BaseURL is the supplier API root. Required.
	BaseURL string
	// Path is appended to BaseURL. Defaults to "/api/search".
	Path string
	// RecordsKey is the field holding the record array when the payload is
	// an object. Defaults to "records". Bare arrays are always accepted.
	RecordsKey string
	// Required lists parameters that must be present and non-empty.
	Required []string
	// UserAgent is sent with every request.
	UserAgent string
	// Timeout bounds each request in addition to the attempt deadline.
	Timeout time.Duration
	// Client overrides the HTTP client.
	Client *http.Client
}

// Adapter fetches raw records from a JSON endpoint.
type Adapter struct {
	endpoint   string
	recordsKey string
	required   []string
	userAgent  string
	client     *http.Client
}

var (
	_ supplier.Adapter   = (*Adapter)(nil)
	_ supplier.Validator = (*Adapter)(nil)
)

// New builds an Adapter.
func New(opts Options) (*Adapter, error) {
	base := strings.TrimSpace(opts.BaseURL)
	if base == "" {
		return nil, errors.New("httpjson: BaseURL is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("httpjson: invalid BaseURL: %w", err)
	}
	path := opts.Path
	if path == "" {
		path = "/api/search"
	}
	key := opts.RecordsKey
	if key == "" {
		key = "records"
	}
	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = "jascrapers/1.0"
	}
	client := opts.Client
	if client == nil {
		to := opts.Timeout
		if to <= 0 {
			to = 30 * time.Second
		}
		client = &http.Client{Timeout: to}
	}
	return &Adapter{
		endpoint:   strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/"),
		recordsKey: key,
		required:   opts.Required,
		userAgent:  ua,
		client:     client,
	}, nil
}

// ValidateParameters checks that every required parameter is set.
func (a *Adapter) ValidateParameters(params map[string]string) error {
	var missing []string
	for _, k := range a.required {
		if strings.TrimSpace(params[k]) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required parameters: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Fetch issues one GET with params as the query string.
func (a *Adapter) Fetch(ctx context.Context, params map[string]string) ([]supplier.RawRecord, error) {
	u, err := url.Parse(a.endpoint)
	if err != nil {
		return nil, jascrapers.Permanent(err)
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	body, err := a.doGET(ctx, u.String())
	if err != nil {
		return nil, err
	}
	observed := time.Now().UTC()

	items, err := a.decode(body)
	if err != nil {
		return nil, jascrapers.Permanent(err)
	}
	out := make([]supplier.RawRecord, 0, len(items))
	for _, fields := range items {
		out = append(out, supplier.RawRecord{Fields: fields, ObservedAt: observed})
	}
	return out, nil
}

func (a *Adapter) doGET(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, jascrapers.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", a.userAgent)

	resp, err := a.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, jascrapers.Transient(err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, jascrapers.Transient(fmt.Errorf("read body: %w", err))
	}
	if err := classifyStatus(resp.StatusCode); err != nil {
		return nil, err
	}
	return b, nil
}

func classifyStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500:
		return jascrapers.Transient(fmt.Errorf("http status %d", status))
	default:
		return jascrapers.Permanent(fmt.Errorf("http status %d", status))
	}
}

// decode accepts both object-wrapped and bare-array payloads.
func (a *Adapter) decode(body []byte) ([]map[string]any, error) {
	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(body, &wrapped); err == nil {
		raw, ok := wrapped[a.recordsKey]
		if !ok {
			return nil, fmt.Errorf("payload has no %q field", a.recordsKey)
		}
		body = raw
	}
	var items []map[string]any
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("payload parse: %w", err)
	}
	return items, nil
}
