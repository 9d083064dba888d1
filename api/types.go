package api

import (
	"time"

	"github.com/Joy-Aviation/Joy-Aviation-Supplies/engine"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/job"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/normalize"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/supplier"
)

// IdempotencyKeyHeader may carry the idempotency key instead of the body.
const IdempotencyKeyHeader = "Idempotency-Key"

// SubmitJobRequest is the body of POST /v1/jobs.
type SubmitJobRequest struct {
	Supplier       string            `json:"supplier"`
	Parameters     map[string]string `json:"parameters,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
}

// ListJobsResponse is the body of GET /v1/jobs.
type ListJobsResponse struct {
	Jobs  []*job.Job `json:"jobs"`
	Count int        `json:"count"`
}

// RecordsResponse is the body of GET /v1/jobs/:jobId/records.
type RecordsResponse struct {
	JobID   string             `json:"job_id"`
	Records []normalize.Record `json:"records"`
	Count   int                `json:"count"`
}

// StatsResponse is the body of GET /v1/stats.
type StatsResponse = engine.Stats

// SupplierResponse describes a registered supplier.
type SupplierResponse struct {
	Name           string             `json:"name"`
	MaxConcurrency int                `json:"max_concurrency"`
	RateLimit      supplier.RateLimit `json:"rate_limit"`
	Timeout        string             `json:"timeout,omitempty"`
	Currency       string             `json:"currency,omitempty"`
	Location       string             `json:"location,omitempty"`
}

func supplierResponse(d supplier.Descriptor) SupplierResponse {
	r := SupplierResponse{
		Name:           d.Name,
		MaxConcurrency: d.Concurrency(),
		RateLimit:      d.RateLimit,
		Currency:       d.Currency,
	}
	if d.Timeout > 0 {
		r.Timeout = d.Timeout.String()
	}
	if d.Location != nil {
		r.Location = d.Location.String()
	}
	return r
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status string    `json:"status"`
	Error  string    `json:"error,omitempty"`
	Time   time.Time `json:"time"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody classifies a failed request.
type ErrorBody struct {
	Class   string `json:"class"`
	Message string `json:"message"`
}
