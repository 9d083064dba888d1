package normalize

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	jascrapers "github.com/Joy-Aviation/Joy-Aviation-Supplies"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/id"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/supplier"
)

// Canonical field names used in a supplier.FieldMapping.
const (
	FieldPartID      = "part_id"
	FieldDescription = "description"
	FieldPrice       = "price"
	FieldCurrency    = "currency"
	FieldQuantity    = "quantity"
	FieldObservedAt  = "observed_at"
)

// DefaultMapping lists the source key spellings tried for each canonical
// field after the supplier's own mapping.
var DefaultMapping = supplier.FieldMapping{
	FieldPartID:      {"part_id", "part", "part_number", "partNumber", "pn", "mpn", "sku"},
	FieldDescription: {"description", "desc", "name", "title"},
	FieldPrice:       {"price", "unit_price", "unitPrice", "cost", "amount"},
	FieldCurrency:    {"currency", "currency_code", "currencyCode"},
	FieldQuantity:    {"quantity", "qty", "stock", "available", "qty_available"},
	FieldObservedAt:  {"observed_at", "timestamp", "updated_at", "last_updated", "date"},
}

// DropReason explains why a raw record was not normalized.
type DropReason string

const (
	DropMissingPartID    DropReason = "missing_part_id"
	DropMissingPrice     DropReason = "missing_price"
	DropInvalidPrice     DropReason = "invalid_price"
	DropInvalidQuantity  DropReason = "invalid_quantity"
	DropInvalidTimestamp DropReason = "invalid_timestamp"
	DropMissingTimestamp DropReason = "missing_timestamp"
)

// Result is the outcome of normalizing one job's raw output.
type Result struct {
	// Records are the canonical records sorted by key.
	Records []Record
	// Dropped counts raw records that could not be coerced.
	Dropped int
	// Duplicates counts valid records superseded by a later one with the
	// same key.
	Duplicates int
	// DropReasons breaks Dropped down by reason.
	DropReasons map[DropReason]int
}

// Normalizer maps, coerces and deduplicates raw records. It holds no state
// between calls and is safe for concurrent use.
type Normalizer struct {
	bucket time.Duration
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithBucket sets the timestamp bucket width of the uniqueness key.
func WithBucket(d time.Duration) Option {
	return func(n *Normalizer) {
		if d > 0 {
			n.bucket = d
		}
	}
}

// New creates a Normalizer with a 24h dedup bucket unless overridden.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{bucket: 24 * time.Hour}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Bucket returns the dedup bucket width.
func (n *Normalizer) Bucket() time.Duration { return n.bucket }

// Normalize converts raw into canonical records for jobID using the
// descriptor's mapping, currency and location.
//
// An empty raw set yields an empty result. A non-empty raw set from which
// nothing normalizes returns a DataQuality error wrapping ErrNoRecords,
// along with the drop counts.
func (n *Normalizer) Normalize(d supplier.Descriptor, jobID id.JobID, raw []supplier.RawRecord) (Result, error) {
	res := Result{DropReasons: make(map[DropReason]int)}
	if len(raw) == 0 {
		return res, nil
	}

	m := mapper{custom: d.Mapping}
	index := make(map[Key]int, len(raw))
	var out []Record

	for _, r := range raw {
		rec, reason, ok := n.coerce(d, m, r)
		if !ok {
			res.Dropped++
			res.DropReasons[reason]++
			continue
		}
		rec.JobID = jobID

		k := rec.Key(n.bucket)
		if i, seen := index[k]; seen {
			res.Duplicates++
			if !rec.ObservedAt.Before(out[i].ObservedAt) {
				out[i] = rec
			}
			continue
		}
		index[k] = len(out)
		out = append(out, rec)
	}

	if len(out) == 0 {
		return res, jascrapers.DataQuality(fmt.Errorf("%w: %d of %d raw records dropped",
			jascrapers.ErrNoRecords, res.Dropped, len(raw)))
	}

	slices.SortFunc(out, func(a, b Record) int {
		return a.Key(n.bucket).Compare(b.Key(n.bucket))
	})
	res.Records = out
	return res, nil
}

func (n *Normalizer) coerce(d supplier.Descriptor, m mapper, r supplier.RawRecord) (Record, DropReason, bool) {
	partID := strings.ToUpper(text(m.get(r.Fields, FieldPartID)))
	if partID == "" {
		return Record{}, DropMissingPartID, false
	}

	rawPrice := m.get(r.Fields, FieldPrice)
	if rawPrice == nil {
		return Record{}, DropMissingPrice, false
	}
	price, priceCurrency, err := parsePrice(rawPrice)
	if err != nil {
		if errors.Is(err, errEmpty) {
			return Record{}, DropMissingPrice, false
		}
		return Record{}, DropInvalidPrice, false
	}

	qty, err := parseQuantity(m.get(r.Fields, FieldQuantity))
	if err != nil {
		return Record{}, DropInvalidQuantity, false
	}

	observed := r.ObservedAt.UTC()
	if v := m.get(r.Fields, FieldObservedAt); v != nil {
		ts, err := parseTimestamp(v, d.Location)
		if err != nil && !errors.Is(err, errEmpty) {
			return Record{}, DropInvalidTimestamp, false
		}
		if err == nil {
			observed = ts
		}
	}
	if observed.IsZero() {
		return Record{}, DropMissingTimestamp, false
	}

	currency := strings.ToUpper(text(m.get(r.Fields, FieldCurrency)))
	if currency == "" {
		currency = priceCurrency
	}
	if currency == "" {
		currency = strings.ToUpper(d.Currency)
	}

	supplierName := r.Supplier
	if supplierName == "" {
		supplierName = d.Name
	}

	return Record{
		PartID:      partID,
		Description: text(m.get(r.Fields, FieldDescription)),
		Price:       price,
		Currency:    currency,
		Quantity:    qty,
		Supplier:    supplierName,
		ObservedAt:  observed,
	}, "", true
}

// mapper resolves canonical fields against a raw field map.
type mapper struct {
	custom supplier.FieldMapping
}

func (m mapper) get(fields map[string]any, canonical string) any {
	for _, keys := range [][]string{m.custom[canonical], DefaultMapping[canonical]} {
		for _, k := range keys {
			if v, ok := fields[k]; ok && v != nil {
				return v
			}
		}
	}
	// Fall back to a case-insensitive match on the default spellings.
	keys := slices.Sorted(maps.Keys(fields))
	for _, want := range DefaultMapping[canonical] {
		for _, k := range keys {
			if v := fields[k]; v != nil && strings.EqualFold(k, want) {
				return v
			}
		}
	}
	return nil
}
