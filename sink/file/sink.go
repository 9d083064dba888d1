// Package file stores each job's canonical records as one JSON document on
// local disk. References are "file://" URLs of the document.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	jascrapers "github.com/Joy-Aviation/Joy-Aviation-Supplies"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/id"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/normalize"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/sink"
)

const scheme = "file://"

var _ sink.Sink = (*Sink)(nil)

// document is the on-disk layout.
type document struct {
	JobID   id.JobID           `json:"job_id"`
	Count   int                `json:"count"`
	Records []normalize.Record `json:"records"`
}

// Sink writes under BaseDir/results.
type Sink struct {
	dir string
}

// New creates a file sink rooted at baseDir, creating it if needed.
func New(baseDir string) (*Sink, error) {
	dir, err := filepath.Abs(filepath.Join(baseDir, "results"))
	if err != nil {
		return nil, fmt.Errorf("jascrapers/file: resolve dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("jascrapers/file: create dir %s: %w", dir, err)
	}
	return &Sink{dir: dir}, nil
}

// Path returns the document path for jobID.
func (s *Sink) Path(jobID id.JobID) string {
	return filepath.Join(s.dir, jobID.String()+".json")
}

// Write replaces the document for jobID. The document is written to a
// temporary file and renamed into place so readers never see a partial
// write.
func (s *Sink) Write(ctx context.Context, jobID id.JobID, records []normalize.Record) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if records == nil {
		records = []normalize.Record{}
	}
	data, err := json.MarshalIndent(document{JobID: jobID, Count: len(records), Records: records}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("jascrapers/file: encode: %w", err)
	}

	path := s.Path(jobID)
	tmp, err := os.CreateTemp(s.dir, jobID.String()+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("jascrapers/file: create temp: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("jascrapers/file: write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("jascrapers/file: close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("jascrapers/file: rename %s: %w", path, err)
	}
	return scheme + path, nil
}

// Read loads the document behind ref. Only paths inside the sink
// directory are accepted.
func (s *Sink) Read(_ context.Context, ref string) ([]normalize.Record, error) {
	path, ok := strings.CutPrefix(ref, scheme)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a file reference", jascrapers.ErrResultNotFound, ref)
	}
	path = filepath.Clean(path)
	if filepath.Dir(path) != s.dir {
		return nil, fmt.Errorf("%w: %q is outside %s", jascrapers.ErrResultNotFound, ref, s.dir)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, jascrapers.ErrResultNotFound
		}
		return nil, fmt.Errorf("jascrapers/file: read %s: %w", path, err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("jascrapers/file: decode %s: %w", path, err)
	}
	return doc.Records, nil
}
