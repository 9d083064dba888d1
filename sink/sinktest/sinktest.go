// Package sinktest is a conformance suite run against every sink backend.
package sinktest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	jascrapers "github.com/Joy-Aviation/Joy-Aviation-Supplies"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/id"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/normalize"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/sink"
)

// Run exercises s: round trip, replacement on rewrite, empty output and
// unknown references. unknownRef must be a well-formed reference for s that
// was never written.
func Run(t *testing.T, s sink.Sink, unknownRef string) {
	t.Helper()
	ctx := context.Background()

	t.Run("RoundTrip", func(t *testing.T) {
		jobID := id.NewJobID()
		recs := records(jobID)

		ref, err := s.Write(ctx, jobID, recs)
		if err != nil {
			t.Fatalf("write: %v", err)
		}
		got, err := s.Read(ctx, ref)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if len(got) != len(recs) {
			t.Fatalf("got %d records, want %d", len(got), len(recs))
		}
		for i := range recs {
			assertEqual(t, got[i], recs[i])
		}
	})

	t.Run("RewriteReplaces", func(t *testing.T) {
		jobID := id.NewJobID()
		recs := records(jobID)
		if _, err := s.Write(ctx, jobID, recs); err != nil {
			t.Fatal(err)
		}
		ref, err := s.Write(ctx, jobID, recs[:1])
		if err != nil {
			t.Fatal(err)
		}
		got, err := s.Read(ctx, ref)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 {
			t.Fatalf("expected rewrite to replace output, got %d records", len(got))
		}
	})

	t.Run("EmptyOutputResolves", func(t *testing.T) {
		ref, err := s.Write(ctx, id.NewJobID(), nil)
		if err != nil {
			t.Fatal(err)
		}
		got, err := s.Read(ctx, ref)
		if err != nil {
			t.Fatalf("empty result should resolve: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("expected no records, got %d", len(got))
		}
	})

	t.Run("UnknownRef", func(t *testing.T) {
		if _, err := s.Read(ctx, unknownRef); !errors.Is(err, jascrapers.ErrResultNotFound) {
			t.Errorf("expected ErrResultNotFound, got %v", err)
		}
	})
}

func records(jobID id.JobID) []normalize.Record {
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	return []normalize.Record{
		{PartID: "AN3-5A", Description: "Bolt", Price: decimal.RequireFromString("1.25"), Currency: "USD", Quantity: 40, Supplier: "acme", ObservedAt: at, JobID: jobID},
		{PartID: "MS20470AD4-6", Description: "Rivet", Price: decimal.RequireFromString("0.035"), Currency: "USD", Quantity: 10000, Supplier: "acme", ObservedAt: at, JobID: jobID},
	}
}

func assertEqual(t *testing.T, got, want normalize.Record) {
	t.Helper()
	if got.PartID != want.PartID || got.Description != want.Description ||
		!got.Price.Equal(want.Price) || got.Currency != want.Currency ||
		got.Quantity != want.Quantity || got.Supplier != want.Supplier ||
		!got.ObservedAt.Equal(want.ObservedAt) || got.JobID.String() != want.JobID.String() {
		t.Errorf("record mismatch:\n got  %+v\n want %+v", got, want)
	}
}
