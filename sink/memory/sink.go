// Package memory provides an in-process result sink for tests and
// development.
package memory

import (
	"context"
	"slices"
	"sync"

	jascrapers "github.com/Joy-Aviation/Joy-Aviation-Supplies"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/id"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/normalize"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/sink"
)

const scheme = "memory"

var _ sink.Sink = (*Sink)(nil)

// Sink keeps record sets in a map keyed by job ID.
type Sink struct {
	mu      sync.RWMutex
	results map[string][]normalize.Record
	writes  map[string]int
}

// New creates an empty memory sink.
func New() *Sink {
	return &Sink{
		results: make(map[string][]normalize.Record),
		writes:  make(map[string]int),
	}
}

// Write replaces the stored output for jobID.
func (s *Sink) Write(ctx context.Context, jobID id.JobID, records []normalize.Record) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[jobID.String()] = slices.Clone(records)
	s.writes[jobID.String()]++
	return sink.Ref(scheme, jobID), nil
}

// Read returns a copy of the records behind ref.
func (s *Sink) Read(_ context.Context, ref string) ([]normalize.Record, error) {
	jobID, err := sink.ParseRef(scheme, ref)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs, ok := s.results[jobID.String()]
	if !ok {
		return nil, jascrapers.ErrResultNotFound
	}
	return slices.Clone(recs), nil
}

// Writes returns how many times output was written for jobID.
func (s *Sink) Writes(jobID id.JobID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes[jobID.String()]
}
