package job

import (
	"maps"
	"time"

	jascrapers "github.com/Joy-Aviation/Joy-Aviation-Supplies"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/id"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StatePending means the job is waiting for the scheduler.
	StatePending State = "pending"
	// StateRunning means a worker holds a lease on the job.
	StateRunning State = "running"
	// StateSucceeded means the output was normalized and persisted.
	StateSucceeded State = "succeeded"
	// StateFailed means the job failed and will not be retried.
	StateFailed State = "failed"
	// StateRetrying means the job failed and waits for its backoff deadline.
	StateRetrying State = "retrying"
	// StateCancelled means the job was explicitly cancelled.
	StateCancelled State = "cancelled"
)

// States lists every state in lifecycle order.
var States = []State{
	StatePending, StateRunning, StateRetrying,
	StateSucceeded, StateFailed, StateCancelled,
}

// Failure is the structured classification of a failed attempt.
type Failure struct {
	Class   jascrapers.Class `json:"class"`
	Message string           `json:"message"`
	Attempt int              `json:"attempt"`
	At      time.Time        `json:"at"`
}

// NewFailure classifies err for the given attempt.
func NewFailure(err error, attempt int) *Failure {
	return &Failure{
		Class:   jascrapers.Classify(err),
		Message: err.Error(),
		Attempt: attempt,
		At:      time.Now().UTC(),
	}
}

// Job is a requested unit of scraping work against a single supplier.
type Job struct {
	jascrapers.Entity

	ID             id.JobID          `json:"id"`
	Supplier       string            `json:"supplier"`
	Parameters     map[string]string `json:"parameters"`
	State          State             `json:"state"`
	Version        int64             `json:"version"`
	AttemptCount   int               `json:"attempt_count"`
	MaxRetries     int               `json:"max_retries"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	RunAt          time.Time         `json:"run_at"`
	WorkerID       id.WorkerID       `json:"worker_id,omitempty"`
	LeaseExpiresAt *time.Time        `json:"lease_expires_at,omitempty"`
	StartedAt      *time.Time        `json:"started_at,omitempty"`
	FinishedAt     *time.Time        `json:"finished_at,omitempty"`
	ResultRef      string            `json:"result_reference,omitempty"`
	RecordCount    int               `json:"record_count"`
	DroppedCount   int               `json:"dropped_count"`
	LastError      *Failure          `json:"last_error,omitempty"`
}

// New builds a pending job ready to be persisted.
func New(supplier string, params map[string]string, maxRetries int) *Job {
	entity := jascrapers.NewEntity()
	return &Job{
		Entity:     entity,
		ID:         id.NewJobID(),
		Supplier:   supplier,
		Parameters: maps.Clone(params),
		State:      StatePending,
		Version:    1,
		MaxRetries: maxRetries,
		RunAt:      entity.CreatedAt,
	}
}

// MaxAttempts is the attempt budget, MaxRetries+1.
func (j *Job) MaxAttempts() int { return j.MaxRetries + 1 }

// Clone returns a deep copy so callers can mutate it without racing a store.
func (j *Job) Clone() *Job {
	cp := *j
	cp.Parameters = maps.Clone(j.Parameters)
	if j.LastError != nil {
		f := *j.LastError
		cp.LastError = &f
	}
	cp.LeaseExpiresAt = clonePtr(j.LeaseExpiresAt)
	cp.StartedAt = clonePtr(j.StartedAt)
	cp.FinishedAt = clonePtr(j.FinishedAt)
	return &cp
}

func clonePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
