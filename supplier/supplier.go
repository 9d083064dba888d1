package supplier

import (
	"context"
	"time"

	"github.com/Joy-Aviation/Joy-Aviation-Supplies/id"
)

// RawRecord is adapter output before normalization. It is consumed by the
// normalizer and never persisted.
type RawRecord struct {
	JobID      id.JobID
	Supplier   string
	Fields     map[string]any
	ObservedAt time.Time
}

// Adapter is the capability implemented once per supplier.
//
// Fetch must honor ctx: the deadline bounds the attempt and cancellation
// means the job was cancelled or the worker is shutting down. Failures
// should be classified with jascrapers.Transient or jascrapers.Permanent;
// unclassified errors are treated as transient.
type Adapter interface {
	Fetch(ctx context.Context, params map[string]string) ([]RawRecord, error)
}

// AdapterFunc adapts an ordinary function to the Adapter interface.
type AdapterFunc func(ctx context.Context, params map[string]string) ([]RawRecord, error)

// Fetch calls f(ctx, params).
func (f AdapterFunc) Fetch(ctx context.Context, params map[string]string) ([]RawRecord, error) {
	return f(ctx, params)
}

// Validator is implemented by adapters that declare parameter validation.
// It runs at submission time; an error rejects the job before it is
// created.
type Validator interface {
	ValidateParameters(params map[string]string) error
}

// RateLimit is a token bucket: Requests tokens refill every Per, with up to
// Burst tokens banked. A zero Requests disables rate limiting.
type RateLimit struct {
	Requests int           `json:"requests" toml:"requests"`
	Per      time.Duration `json:"per" toml:"per"`
	Burst    int           `json:"burst,omitempty" toml:"burst"`
}

// Enabled reports whether the limit restricts anything.
func (r RateLimit) Enabled() bool { return r.Requests > 0 && r.Per > 0 }

// PerSecond returns the sustained refill rate in tokens per second.
func (r RateLimit) PerSecond() float64 {
	if !r.Enabled() {
		return 0
	}
	return float64(r.Requests) / r.Per.Seconds()
}

// FieldMapping maps a canonical field name to the source keys that may
// carry it, tried in order.
type FieldMapping map[string][]string

// Descriptor is the static configuration of one supplier.
type Descriptor struct {
	// Name identifies the supplier and is what jobs refer to.
	Name string `json:"name"`

	// MaxConcurrency caps how many of this supplier's jobs run at once.
	// Zero means one.
	MaxConcurrency int `json:"max_concurrency"`

	// RateLimit is shared by every worker running this supplier's jobs and
	// is taken before each adapter call.
	RateLimit RateLimit `json:"rate_limit"`

	// Timeout is the per-attempt deadline. Zero uses the engine default.
	Timeout time.Duration `json:"timeout,omitempty"`

	// Mapping overrides the default source keys for canonical fields.
	Mapping FieldMapping `json:"mapping,omitempty"`

	// Currency is assumed when a price carries no currency of its own.
	Currency string `json:"currency,omitempty"`

	// Location is used to interpret free-text dates without a zone.
	// Nil means UTC.
	Location *time.Location `json:"-"`
}

// Concurrency returns the effective concurrency cap.
func (d Descriptor) Concurrency() int {
	if d.MaxConcurrency <= 0 {
		return 1
	}
	return d.MaxConcurrency
}
