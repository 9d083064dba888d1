package sqlite

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/grove"

	jascrapers "github.com/Joy-Aviation/Joy-Aviation-Supplies"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/id"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/job"
)

// ── Job model ─────────────────────────────────────────────────────

// Timestamps are unix nanoseconds so ordering comparisons happen in
// integer space rather than on TEXT renderings.
type jobModel struct {
	grove.BaseModel `grove:"table:jascrapers_jobs"`

	ID             string  `grove:"id,pk"`
	Supplier       string  `grove:"supplier,notnull"`
	Parameters     string  `grove:"parameters,notnull,default:'{}'"`
	State          string  `grove:"state,notnull,default:'pending'"`
	Version        int64   `grove:"version,notnull,default:1"`
	AttemptCount   int     `grove:"attempt_count,notnull,default:0"`
	MaxRetries     int     `grove:"max_retries,notnull,default:3"`
	IdempotencyKey *string `grove:"idempotency_key"`
	RunAt          int64   `grove:"run_at,notnull"`
	WorkerID       string  `grove:"worker_id,notnull"`
	LeaseExpiresAt *int64  `grove:"lease_expires_at"`
	StartedAt      *int64  `grove:"started_at"`
	FinishedAt     *int64  `grove:"finished_at"`
	ResultRef      string  `grove:"result_ref,notnull"`
	RecordCount    int     `grove:"record_count,notnull,default:0"`
	DroppedCount   int     `grove:"dropped_count,notnull,default:0"`
	LastError      *string `grove:"last_error"`
	CreatedAt      int64   `grove:"created_at,notnull"`
	UpdatedAt      int64   `grove:"updated_at,notnull"`
}

func toJobModel(j *job.Job) (*jobModel, error) {
	params, err := json.Marshal(j.Parameters)
	if err != nil {
		return nil, fmt.Errorf("jascrapers/sqlite: encode parameters: %w", err)
	}
	lastErr, err := encodeFailure(j.LastError)
	if err != nil {
		return nil, err
	}
	m := &jobModel{
		ID:             j.ID.String(),
		Supplier:       j.Supplier,
		Parameters:     string(params),
		State:          string(j.State),
		Version:        j.Version,
		AttemptCount:   j.AttemptCount,
		MaxRetries:     j.MaxRetries,
		RunAt:          nanos(j.RunAt),
		WorkerID:       j.WorkerID.String(),
		LeaseExpiresAt: nanosPtr(j.LeaseExpiresAt),
		StartedAt:      nanosPtr(j.StartedAt),
		FinishedAt:     nanosPtr(j.FinishedAt),
		ResultRef:      j.ResultRef,
		RecordCount:    j.RecordCount,
		DroppedCount:   j.DroppedCount,
		LastError:      lastErr,
		CreatedAt:      nanos(j.CreatedAt),
		UpdatedAt:      nanos(j.UpdatedAt),
	}
	if j.IdempotencyKey != "" {
		key := j.IdempotencyKey
		m.IdempotencyKey = &key
	}
	return m, nil
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	parsedID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("jascrapers/sqlite: parse job id %q: %w", m.ID, err)
	}

	j := &job.Job{
		Entity: jascrapers.Entity{
			CreatedAt: fromNanos(m.CreatedAt),
			UpdatedAt: fromNanos(m.UpdatedAt),
		},
		ID:             parsedID,
		Supplier:       m.Supplier,
		State:          job.State(m.State),
		Version:        m.Version,
		AttemptCount:   m.AttemptCount,
		MaxRetries:     m.MaxRetries,
		RunAt:          fromNanos(m.RunAt),
		LeaseExpiresAt: fromNanosPtr(m.LeaseExpiresAt),
		StartedAt:      fromNanosPtr(m.StartedAt),
		FinishedAt:     fromNanosPtr(m.FinishedAt),
		ResultRef:      m.ResultRef,
		RecordCount:    m.RecordCount,
		DroppedCount:   m.DroppedCount,
	}
	if m.IdempotencyKey != nil {
		j.IdempotencyKey = *m.IdempotencyKey
	}
	if m.WorkerID != "" {
		if w, err := id.ParseWorkerID(m.WorkerID); err == nil {
			j.WorkerID = w
		}
	}
	if err := json.Unmarshal([]byte(m.Parameters), &j.Parameters); err != nil {
		return nil, fmt.Errorf("jascrapers/sqlite: decode parameters: %w", err)
	}
	if m.LastError != nil {
		j.LastError = new(job.Failure)
		if err := json.Unmarshal([]byte(*m.LastError), j.LastError); err != nil {
			return nil, fmt.Errorf("jascrapers/sqlite: decode last error: %w", err)
		}
	}
	return j, nil
}

func fromJobModels(op string, models []jobModel) ([]*job.Job, error) {
	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, err := fromJobModel(&models[i])
		if err != nil {
			return nil, fmt.Errorf("jascrapers/sqlite: %s convert: %w", op, err)
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func encodeFailure(f *job.Failure) (*string, error) {
	if f == nil {
		return nil, nil
	}
	b, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("jascrapers/sqlite: encode last error: %w", err)
	}
	s := string(b)
	return &s, nil
}

func nanos(t time.Time) int64 { return t.UnixNano() }

func nanosPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	n := t.UnixNano()
	return &n
}

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func fromNanosPtr(n *int64) *time.Time {
	if n == nil {
		return nil
	}
	t := fromNanos(*n)
	return &t
}
