// Package redis stores each job's canonical records as one
// msgpack-encoded value.
//
//	jascrapers:result:{jobID} -> msgpack([]record)
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"

	jascrapers "github.com/Joy-Aviation/Joy-Aviation-Supplies"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/id"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/normalize"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/sink"
)

const (
	scheme    = "redis"
	keyPrefix = "jascrapers:result:"
)

func resultKey(jobID string) string { return keyPrefix + jobID }

var _ sink.Sink = (*Sink)(nil)

// record is the msgpack wire form of a canonical record.
type record struct {
	PartID      string    `msgpack:"p"`
	Description string    `msgpack:"d,omitempty"`
	Price       string    `msgpack:"$"`
	Currency    string    `msgpack:"c,omitempty"`
	Quantity    int64     `msgpack:"q"`
	Supplier    string    `msgpack:"s"`
	ObservedAt  time.Time `msgpack:"t"`
}

// Option configures the Sink.
type Option func(*Sink)

// WithTTL expires stored results after d. Zero keeps them forever.
func WithTTL(d time.Duration) Option {
	return func(s *Sink) { s.ttl = d }
}

// Sink is a Redis result sink. The caller owns the client lifecycle.
type Sink struct {
	client redis.Cmdable
	ttl    time.Duration
}

// New creates a Redis sink over client.
func New(client redis.Cmdable, opts ...Option) *Sink {
	s := &Sink{client: client}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Write replaces the stored output for jobID.
func (s *Sink) Write(ctx context.Context, jobID id.JobID, records []normalize.Record) (string, error) {
	wire := make([]record, 0, len(records))
	for _, r := range records {
		wire = append(wire, record{
			PartID:      r.PartID,
			Description: r.Description,
			Price:       r.Price.String(),
			Currency:    r.Currency,
			Quantity:    r.Quantity,
			Supplier:    r.Supplier,
			ObservedAt:  r.ObservedAt.UTC(),
		})
	}
	data, err := msgpack.Marshal(wire)
	if err != nil {
		return "", fmt.Errorf("jascrapers/redis: encode records: %w", err)
	}
	if err := s.client.Set(ctx, resultKey(jobID.String()), data, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("jascrapers/redis: write result: %w", err)
	}
	return sink.Ref(scheme, jobID), nil
}

// Read decodes the records behind ref.
func (s *Sink) Read(ctx context.Context, ref string) ([]normalize.Record, error) {
	jobID, err := sink.ParseRef(scheme, ref)
	if err != nil {
		return nil, err
	}
	data, err := s.client.Get(ctx, resultKey(jobID.String())).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, jascrapers.ErrResultNotFound
		}
		return nil, fmt.Errorf("jascrapers/redis: read result: %w", err)
	}

	var wire []record
	if err := msgpack.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("jascrapers/redis: decode records: %w", err)
	}
	out := make([]normalize.Record, 0, len(wire))
	for _, w := range wire {
		price, err := decimal.NewFromString(w.Price)
		if err != nil {
			return nil, fmt.Errorf("jascrapers/redis: parse price %q: %w", w.Price, err)
		}
		out = append(out, normalize.Record{
			PartID:      w.PartID,
			Description: w.Description,
			Price:       price,
			Currency:    w.Currency,
			Quantity:    w.Quantity,
			Supplier:    w.Supplier,
			ObservedAt:  w.ObservedAt.UTC(),
			JobID:       jobID,
		})
	}
	return out, nil
}

// Ping verifies the Redis connection is alive.
func (s *Sink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
