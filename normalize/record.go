package normalize

import (
	"cmp"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Joy-Aviation/Joy-Aviation-Supplies/id"
)

// Record is one canonical part quote.
type Record struct {
	PartID      string          `json:"part_id" bson:"part_id"`
	Description string          `json:"description,omitempty" bson:"description,omitempty"`
	Price       decimal.Decimal `json:"price" bson:"-"`
	Currency    string          `json:"currency,omitempty" bson:"currency,omitempty"`
	Quantity    int64           `json:"quantity" bson:"quantity"`
	Supplier    string          `json:"supplier" bson:"supplier"`
	ObservedAt  time.Time       `json:"observed_at" bson:"observed_at"`
	JobID       id.JobID        `json:"job_id" bson:"-"`
}

// Key is the canonical uniqueness key: normalized part id, supplier and the
// observation time truncated to the dedup bucket.
type Key struct {
	PartID   string
	Supplier string
	Bucket   time.Time
}

// Key returns the record's uniqueness key for the given bucket width.
func (r Record) Key(bucket time.Duration) Key {
	return Key{PartID: r.PartID, Supplier: r.Supplier, Bucket: r.ObservedAt.UTC().Truncate(bucket)}
}

// Compare orders keys by part id, supplier, then bucket.
func (k Key) Compare(o Key) int {
	if c := cmp.Compare(k.PartID, o.PartID); c != 0 {
		return c
	}
	if c := cmp.Compare(k.Supplier, o.Supplier); c != 0 {
		return c
	}
	return k.Bucket.Compare(o.Bucket)
}
