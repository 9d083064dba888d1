package redis

import (
	"fmt"
	"strconv"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	jascrapers "github.com/Joy-Aviation/Joy-Aviation-Supplies"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/id"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/job"
)

// jobModel is the msgpack form of a job stored in the "data" field.
type jobModel struct {
	ID             string            `msgpack:"id"`
	Supplier       string            `msgpack:"supplier"`
	Parameters     map[string]string `msgpack:"params,omitempty"`
	State          string            `msgpack:"state"`
	Version        int64             `msgpack:"version"`
	AttemptCount   int               `msgpack:"attempts"`
	MaxRetries     int               `msgpack:"max_retries"`
	IdempotencyKey string            `msgpack:"idem,omitempty"`
	RunAt          time.Time         `msgpack:"run_at"`
	WorkerID       string            `msgpack:"worker,omitempty"`
	LeaseExpiresAt *time.Time        `msgpack:"lease,omitempty"`
	StartedAt      *time.Time        `msgpack:"started,omitempty"`
	FinishedAt     *time.Time        `msgpack:"finished,omitempty"`
	ResultRef      string            `msgpack:"result,omitempty"`
	RecordCount    int               `msgpack:"records"`
	DroppedCount   int               `msgpack:"dropped"`
	LastError      *failureModel     `msgpack:"last_error,omitempty"`
	CreatedAt      time.Time         `msgpack:"created"`
	UpdatedAt      time.Time         `msgpack:"updated"`
}

type failureModel struct {
	Class   string    `msgpack:"class"`
	Message string    `msgpack:"message"`
	Attempt int       `msgpack:"attempt"`
	At      time.Time `msgpack:"at"`
}

func encodeJob(j *job.Job) ([]byte, error) {
	m := jobModel{
		ID:             j.ID.String(),
		Supplier:       j.Supplier,
		Parameters:     j.Parameters,
		State:          string(j.State),
		Version:        j.Version,
		AttemptCount:   j.AttemptCount,
		MaxRetries:     j.MaxRetries,
		IdempotencyKey: j.IdempotencyKey,
		RunAt:          j.RunAt,
		WorkerID:       j.WorkerID.String(),
		LeaseExpiresAt: j.LeaseExpiresAt,
		StartedAt:      j.StartedAt,
		FinishedAt:     j.FinishedAt,
		ResultRef:      j.ResultRef,
		RecordCount:    j.RecordCount,
		DroppedCount:   j.DroppedCount,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
	if f := j.LastError; f != nil {
		m.LastError = &failureModel{Class: string(f.Class), Message: f.Message, Attempt: f.Attempt, At: f.At}
	}
	data, err := msgpack.Marshal(&m)
	if err != nil {
		return nil, fmt.Errorf("jascrapers/redis: encode job: %w", err)
	}
	return data, nil
}

func decodeJob(data []byte) (*job.Job, error) {
	var m jobModel
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("jascrapers/redis: decode job: %w", err)
	}

	jobID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("jascrapers/redis: decode job: %w", err)
	}
	j := &job.Job{
		ID:             jobID,
		Supplier:       m.Supplier,
		Parameters:     m.Parameters,
		State:          job.State(m.State),
		Version:        m.Version,
		AttemptCount:   m.AttemptCount,
		MaxRetries:     m.MaxRetries,
		IdempotencyKey: m.IdempotencyKey,
		RunAt:          m.RunAt.UTC(),
		LeaseExpiresAt: utcPtr(m.LeaseExpiresAt),
		StartedAt:      utcPtr(m.StartedAt),
		FinishedAt:     utcPtr(m.FinishedAt),
		ResultRef:      m.ResultRef,
		RecordCount:    m.RecordCount,
		DroppedCount:   m.DroppedCount,
	}
	j.CreatedAt = m.CreatedAt.UTC()
	j.UpdatedAt = m.UpdatedAt.UTC()
	if m.WorkerID != "" {
		if w, err := id.ParseWorkerID(m.WorkerID); err == nil {
			j.WorkerID = w
		}
	}
	if f := m.LastError; f != nil {
		j.LastError = &job.Failure{Class: jascrapers.Class(f.Class), Message: f.Message, Attempt: f.Attempt, At: f.At.UTC()}
	}
	return j, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// scoreArg formats t as a sorted-set score in microseconds, which a
// float64 score holds exactly.
func scoreArg(t time.Time) string { return strconv.FormatInt(t.UnixMicro(), 10) }
