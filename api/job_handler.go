package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/xraph/forge"

	"github.com/Joy-Aviation/Joy-Aviation-Supplies/id"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/job"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
	maxBodyBytes     = 1 << 20
)

func (a *API) submitJob(ctx forge.Context) error {
	var req SubmitJobRequest
	dec := json.NewDecoder(io.LimitReader(ctx.Request().Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return badRequest(fmt.Sprintf("invalid JSON body: %v", err))
	}
	if req.Supplier == "" {
		return badRequest("supplier is required")
	}
	key := req.IdempotencyKey
	if header := ctx.Header(IdempotencyKeyHeader); header != "" {
		if key != "" && key != header {
			return badRequest("idempotency key in header and body differ")
		}
		key = header
	}

	j, created, err := a.eng.Submit(ctx.Context(), req.Supplier, req.Parameters, key)
	if err != nil {
		return a.mapError(ctx, err)
	}
	if created {
		return ctx.JSON(http.StatusCreated, j)
	}
	return ctx.JSON(http.StatusOK, j)
}

func (a *API) listJobs(ctx forge.Context) error {
	opts := job.ListOpts{Supplier: ctx.Query("supplier")}
	if s := ctx.Query("state"); s != "" {
		opts.State = job.State(s)
		if !opts.State.Valid() {
			return badRequest(fmt.Sprintf("unknown state %q", s))
		}
	}

	limit := defaultListLimit
	if s := ctx.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return badRequest("limit must be a positive integer")
		}
		limit = min(n, maxListLimit)
	}

	jobs, err := a.eng.List(ctx.Context(), opts, limit)
	if err != nil {
		return a.mapError(ctx, err)
	}
	if jobs == nil {
		jobs = []*job.Job{}
	}
	return ctx.JSON(http.StatusOK, ListJobsResponse{Jobs: jobs, Count: len(jobs)})
}

func (a *API) getJob(ctx forge.Context) error {
	jobID, err := parseJobID(ctx)
	if err != nil {
		return err
	}
	j, err := a.eng.Get(ctx.Context(), jobID)
	if err != nil {
		return a.mapError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, j)
}

func (a *API) cancelJob(ctx forge.Context) error {
	jobID, err := parseJobID(ctx)
	if err != nil {
		return err
	}
	j, err := a.eng.Cancel(ctx.Context(), jobID)
	if err != nil {
		return a.mapError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, j)
}

func (a *API) jobRecords(ctx forge.Context) error {
	jobID, err := parseJobID(ctx)
	if err != nil {
		return err
	}
	records, err := a.eng.Records(ctx.Context(), jobID)
	if err != nil {
		return a.mapError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, RecordsResponse{JobID: jobID.String(), Records: records, Count: len(records)})
}

func parseJobID(ctx forge.Context) (id.JobID, error) {
	jobID, err := id.ParseJobID(ctx.Param("jobId"))
	if err != nil {
		return id.Nil, badRequest(fmt.Sprintf("invalid job ID: %v", err))
	}
	return jobID, nil
}
