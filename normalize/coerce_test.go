package normalize_test

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/Joy-Aviation/Joy-Aviation-Supplies/normalize"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in       any
		want     string
		currency string
	}{
		{"$10", "10", "USD"},
		{"$1,234.50", "1234.5", "USD"},
		{"1.234,50 €", "1234.5", "EUR"},
		{"12,5", "12.5", ""},
		{"1,000", "1000", ""},
		{"1.000.000", "1000000", ""},
		{"USD 42.10", "42.1", "USD"},
		{"42.10 gbp", "42.1", "GBP"},
		{"£7", "7", "GBP"},
		{"1'250.00", "1250", ""},
		{12.75, "12.75", ""},
		{json.Number("3.30"), "3.3", ""},
		{int64(9), "9", ""},
	}
	for _, tt := range tests {
		got, cur, err := normalize.ParsePrice(tt.in)
		if err != nil {
			t.Errorf("ParsePrice(%v): %v", tt.in, err)
			continue
		}
		if got.String() != tt.want || cur != tt.currency {
			t.Errorf("ParsePrice(%v) = %s %q, want %s %q", tt.in, got, cur, tt.want, tt.currency)
		}
	}
}

func TestParsePriceRejects(t *testing.T) {
	for _, in := range []any{"", "call for price", "-$5", -1.0, true, nil} {
		if _, _, err := normalize.ParsePrice(in); err == nil {
			t.Errorf("ParsePrice(%v) expected error", in)
		}
	}
}

func TestParseQuantity(t *testing.T) {
	tests := []struct {
		in   any
		want int64
	}{
		{nil, 0},
		{"", 0},
		{"1,000 pcs", 1000},
		{"25 in stock", 25},
		{float64(12), 12},
		{json.Number("7"), 7},
		{3, 3},
		{math.Exp2(62), 1 << 62},
	}
	for _, tt := range tests {
		got, err := normalize.ParseQuantity(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseQuantity(%v) = %d, %v; want %d", tt.in, got, err, tt.want)
		}
	}
	for _, in := range []any{
		"many", 2.5, -4, "-3",
		math.Exp2(63), "9223372036854775808", json.Number("9223372036854775808"), math.Inf(1),
	} {
		if _, err := normalize.ParseQuantity(in); err == nil {
			t.Errorf("ParseQuantity(%v) expected error", in)
		}
	}
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	tests := []struct {
		name string
		in   any
		loc  *time.Location
		want time.Time
	}{
		{"unix seconds", float64(want.Unix()), nil, want},
		{"unix millis", float64(want.UnixMilli()), nil, want},
		{"numeric string", "1709649000", nil, want},
		{"rfc3339", "2024-03-05T14:30:00Z", nil, want},
		{"free text utc", "March 5, 2024 2:30:00 PM", nil, want},
		{"free text local", "2024-03-05 09:30:00", ny, want},
		{"time value", want.In(ny), nil, want},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalize.ParseTimestamp(tt.in, tt.loc)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if !got.Equal(tt.want) || got.Location() != time.UTC {
				t.Errorf("got %v, want %v UTC", got, tt.want)
			}
		})
	}

	if _, err := normalize.ParseTimestamp("not a date at all", nil); err == nil {
		t.Error("expected garbage date to fail")
	}
}
