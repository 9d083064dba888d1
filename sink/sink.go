// Package sink defines where canonical records are persisted.
//
// A [Sink] owns the normalized output of succeeded jobs. Write returns an
// opaque reference that the job store records as the job's result
// reference; Read resolves it back into records. Writes are idempotent per
// job: writing again for the same job replaces the earlier output, so a
// retried attempt never leaves two result sets behind.
//
// Backends:
//   - sink/memory: in-process, for tests and development
//   - sink/file: one JSON document per job on local disk
//   - sink/postgres: a quotes table via pgx
//   - sink/mongo: a quotes collection via mongo-driver v2
//   - sink/redis: msgpack-encoded record sets
package sink

import (
	"context"
	"fmt"
	"strings"

	jascrapers "github.com/Joy-Aviation/Joy-Aviation-Supplies"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/id"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/normalize"
)

// Sink persists and resolves canonical records.
type Sink interface {
	// Write stores records as the output of jobID, replacing any earlier
	// output for the same job, and returns a reference that Read accepts.
	Write(ctx context.Context, jobID id.JobID, records []normalize.Record) (string, error)

	// Read returns the records behind ref. It returns ErrResultNotFound if
	// the reference is unknown to this sink.
	Read(ctx context.Context, ref string) ([]normalize.Record, error)
}

// Ref builds the reference "<scheme>://<jobID>" used by the database
// backends.
func Ref(scheme string, jobID id.JobID) string {
	return scheme + "://" + jobID.String()
}

// ParseRef extracts the job ID from a reference built by Ref.
func ParseRef(scheme, ref string) (id.JobID, error) {
	rest, ok := strings.CutPrefix(ref, scheme+"://")
	if !ok {
		return id.Nil, fmt.Errorf("%w: %q is not a %s reference", jascrapers.ErrResultNotFound, ref, scheme)
	}
	jobID, err := id.ParseJobID(rest)
	if err != nil {
		return id.Nil, fmt.Errorf("%w: %q: %w", jascrapers.ErrResultNotFound, ref, err)
	}
	return jobID, nil
}
