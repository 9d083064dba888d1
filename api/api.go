// Package api serves the orchestrator's status and control operations over
// HTTP through a forge router.
//
// Routes:
//
//	POST /v1/jobs                  submit a job
//	GET  /v1/jobs                  list jobs (?state=&supplier=&limit=)
//	GET  /v1/jobs/:jobId           get a job
//	POST /v1/jobs/:jobId/cancel    cancel a job
//	GET  /v1/jobs/:jobId/records   canonical records of a succeeded job
//	GET  /v1/stats                 counts by state and supplier
//	GET  /v1/suppliers             registered supplier descriptors
//	GET  /healthz                  store and sink connectivity
//
// Errors are JSON objects {"error": {"class": ..., "message": ...}}. Internal
// failures are logged and reported with a generic message.
package api

import (
	"log/slog"
	"net/http"

	"github.com/xraph/forge"

	"github.com/Joy-Aviation/Joy-Aviation-Supplies/engine"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/job"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/normalize"
)

// API wires the forge handlers to an Engine.
type API struct {
	eng    *engine.Engine
	router forge.Router
	logger *slog.Logger
}

// Option configures the API.
type Option func(*API)

// WithLogger sets the logger used for internal failures.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// New creates an API from an Engine. A nil router is replaced by a fresh
// forge router when Handler is called.
func New(eng *engine.Engine, router forge.Router, opts ...Option) *API {
	a := &API{eng: eng, router: router, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	if a.router == nil {
		a.router = forge.NewRouter()
	}
	a.RegisterRoutes(a.router)
	return a.router.Handler()
}

// RegisterRoutes registers all API routes into the given forge router with
// OpenAPI metadata.
func (a *API) RegisterRoutes(router forge.Router) {
	a.registerJobRoutes(router)
	a.registerStatsRoutes(router)
}

func (a *API) registerJobRoutes(router forge.Router) {
	g := router.Group("/v1", forge.WithGroupTags("jobs"))

	_ = g.POST("/jobs", a.submitJob,
		forge.WithSummary("Submit job"),
		forge.WithDescription("Creates a scrape job for a supplier. A repeated idempotency key returns the original job."),
		forge.WithOperationID("submitJob"),
		forge.WithRequestSchema(SubmitJobRequest{}),
		forge.WithCreatedResponse(&job.Job{}),
		forge.WithResponseSchema(http.StatusOK, "Existing job for the idempotency key", &job.Job{}),
		forge.WithErrorResponses(),
	)

	_ = g.GET("/jobs", a.listJobs,
		forge.WithSummary("List jobs"),
		forge.WithDescription("Returns jobs filtered by state and supplier, oldest first."),
		forge.WithOperationID("listJobs"),
		forge.WithResponseSchema(http.StatusOK, "Job list", ListJobsResponse{}),
		forge.WithErrorResponses(),
	)

	_ = g.GET("/jobs/:jobId", a.getJob,
		forge.WithSummary("Get job"),
		forge.WithDescription("Returns details of a specific job."),
		forge.WithOperationID("getJob"),
		forge.WithResponseSchema(http.StatusOK, "Job details", &job.Job{}),
		forge.WithErrorResponses(),
	)

	_ = g.POST("/jobs/:jobId/cancel", a.cancelJob,
		forge.WithSummary("Cancel job"),
		forge.WithDescription("Cancels a job that has not reached a terminal state."),
		forge.WithOperationID("cancelJob"),
		forge.WithResponseSchema(http.StatusOK, "Cancelled job", &job.Job{}),
		forge.WithErrorResponses(),
	)

	_ = g.GET("/jobs/:jobId/records", a.jobRecords,
		forge.WithSummary("Job records"),
		forge.WithDescription("Returns the canonical records written by a succeeded job."),
		forge.WithOperationID("jobRecords"),
		forge.WithResponseSchema(http.StatusOK, "Canonical records", RecordsResponse{Records: []normalize.Record{}}),
		forge.WithErrorResponses(),
	)
}

func (a *API) registerStatsRoutes(router forge.Router) {
	g := router.Group("/v1", forge.WithGroupTags("stats"))

	_ = g.GET("/stats", a.stats,
		forge.WithSummary("Job statistics"),
		forge.WithDescription("Returns job counts by state and by supplier."),
		forge.WithOperationID("getStats"),
		forge.WithResponseSchema(http.StatusOK, "Statistics", StatsResponse{}),
		forge.WithErrorResponses(),
	)

	_ = g.GET("/suppliers", a.suppliers,
		forge.WithSummary("List suppliers"),
		forge.WithDescription("Returns the registered supplier descriptors."),
		forge.WithOperationID("listSuppliers"),
		forge.WithResponseSchema(http.StatusOK, "Suppliers", []SupplierResponse{}),
	)

	_ = router.GET("/healthz", a.health,
		forge.WithSummary("Health"),
		forge.WithDescription("Reports store and sink connectivity."),
		forge.WithOperationID("health"),
		forge.WithTags("health"),
		forge.WithResponseSchema(http.StatusOK, "Healthy", HealthResponse{}),
		forge.WithResponseSchema(http.StatusServiceUnavailable, "Unavailable", HealthResponse{}),
	)
}
