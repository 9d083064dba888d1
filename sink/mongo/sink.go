// Package mongo stores canonical records in MongoDB using mongo-driver v2.
//
// Quotes live in jascrapers_quotes with prices as Decimal128; a header
// document per job in jascrapers_results marks the output as complete and
// is written last, so Read never resolves a half-written result.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	jascrapers "github.com/Joy-Aviation/Joy-Aviation-Supplies"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/id"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/normalize"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/sink"
)

// Collection names.
const (
	colResults = "jascrapers_results"
	colQuotes  = "jascrapers_quotes"
)

const scheme = "mongo"

var _ sink.Sink = (*Sink)(nil)

type resultDoc struct {
	JobID       string    `bson:"_id"`
	RecordCount int       `bson:"record_count"`
	WrittenAt   time.Time `bson:"written_at"`
}

type quoteDoc struct {
	JobID       string          `bson:"job_id"`
	PartID      string          `bson:"part_id"`
	Supplier    string          `bson:"supplier"`
	ObservedAt  time.Time       `bson:"observed_at"`
	Description string          `bson:"description,omitempty"`
	Price       bson.Decimal128 `bson:"price"`
	Currency    string          `bson:"currency,omitempty"`
	Quantity    int64           `bson:"quantity"`
}

// Sink is a MongoDB result sink.
type Sink struct {
	client *mongod.Client
	db     *mongod.Database
	owned  bool
	logger *slog.Logger
}

// Option configures the Sink.
type Option func(*Sink)

// WithLogger sets the logger for the sink.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sink) { s.logger = logger }
}

// New connects to uri and uses database. The sink owns the client and
// disconnects it on Close.
func New(ctx context.Context, uri, database string, opts ...Option) (*Sink, error) {
	client, err := mongod.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("jascrapers/mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("jascrapers/mongo: ping: %w", err)
	}
	s := NewFromDatabase(client.Database(database), opts...)
	s.client, s.owned = client, true
	return s, nil
}

// NewFromDatabase creates a sink over a database whose client the caller
// owns.
func NewFromDatabase(db *mongod.Database, opts ...Option) *Sink {
	s := &Sink{client: db.Client(), db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate creates the quote indexes.
func (s *Sink) Migrate(ctx context.Context) error {
	_, err := s.db.Collection(colQuotes).Indexes().CreateMany(ctx, []mongod.IndexModel{
		{
			Keys: bson.D{
				{Key: "job_id", Value: 1},
				{Key: "part_id", Value: 1},
				{Key: "supplier", Value: 1},
				{Key: "observed_at", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "part_id", Value: 1},
				{Key: "observed_at", Value: -1},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("jascrapers/mongo: migrate %s indexes: %w", colQuotes, err)
	}
	return nil
}

// Write replaces the stored output for jobID.
func (s *Sink) Write(ctx context.Context, jobID id.JobID, records []normalize.Record) (string, error) {
	key := jobID.String()
	results := s.db.Collection(colResults)
	quotes := s.db.Collection(colQuotes)

	if _, err := results.DeleteOne(ctx, bson.M{"_id": key}); err != nil {
		return "", fmt.Errorf("jascrapers/mongo: clear result: %w", err)
	}
	if _, err := quotes.DeleteMany(ctx, bson.M{"job_id": key}); err != nil {
		return "", fmt.Errorf("jascrapers/mongo: clear quotes: %w", err)
	}

	if len(records) > 0 {
		docs := make([]any, 0, len(records))
		for _, r := range records {
			price, err := bson.ParseDecimal128(r.Price.String())
			if err != nil {
				return "", fmt.Errorf("jascrapers/mongo: price %s: %w", r.Price, err)
			}
			docs = append(docs, quoteDoc{
				JobID:       key,
				PartID:      r.PartID,
				Supplier:    r.Supplier,
				ObservedAt:  r.ObservedAt.UTC(),
				Description: r.Description,
				Price:       price,
				Currency:    r.Currency,
				Quantity:    r.Quantity,
			})
		}
		if _, err := quotes.InsertMany(ctx, docs); err != nil {
			return "", fmt.Errorf("jascrapers/mongo: insert quotes: %w", err)
		}
	}

	if _, err := results.InsertOne(ctx, resultDoc{
		JobID:       key,
		RecordCount: len(records),
		WrittenAt:   time.Now().UTC(),
	}); err != nil {
		return "", fmt.Errorf("jascrapers/mongo: insert result: %w", err)
	}
	return sink.Ref(scheme, jobID), nil
}

// Read returns the quotes behind ref ordered by key.
func (s *Sink) Read(ctx context.Context, ref string) ([]normalize.Record, error) {
	jobID, err := sink.ParseRef(scheme, ref)
	if err != nil {
		return nil, err
	}
	key := jobID.String()

	var header resultDoc
	if err := s.db.Collection(colResults).FindOne(ctx, bson.M{"_id": key}).Decode(&header); err != nil {
		if errors.Is(err, mongod.ErrNoDocuments) {
			return nil, jascrapers.ErrResultNotFound
		}
		return nil, fmt.Errorf("jascrapers/mongo: read result: %w", err)
	}

	cur, err := s.db.Collection(colQuotes).Find(ctx, bson.M{"job_id": key},
		options.Find().SetSort(bson.D{
			{Key: "part_id", Value: 1},
			{Key: "supplier", Value: 1},
			{Key: "observed_at", Value: 1},
		}))
	if err != nil {
		return nil, fmt.Errorf("jascrapers/mongo: find quotes: %w", err)
	}
	var docs []quoteDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("jascrapers/mongo: decode quotes: %w", err)
	}

	out := make([]normalize.Record, 0, len(docs))
	for _, d := range docs {
		price, err := decimal.NewFromString(d.Price.String())
		if err != nil {
			return nil, fmt.Errorf("jascrapers/mongo: parse price %s: %w", d.Price, err)
		}
		out = append(out, normalize.Record{
			PartID:      d.PartID,
			Description: d.Description,
			Price:       price,
			Currency:    d.Currency,
			Quantity:    d.Quantity,
			Supplier:    d.Supplier,
			ObservedAt:  d.ObservedAt.UTC(),
			JobID:       jobID,
		})
	}
	return out, nil
}

// Ping checks database connectivity.
func (s *Sink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client if the sink created it.
func (s *Sink) Close() error {
	if !s.owned {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
