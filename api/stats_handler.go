package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/xraph/forge"
)

func (a *API) stats(ctx forge.Context) error {
	s, err := a.eng.Counts(ctx.Context())
	if err != nil {
		return a.mapError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, s)
}

func (a *API) suppliers(ctx forge.Context) error {
	descriptors := a.eng.Suppliers()
	out := make([]SupplierResponse, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, supplierResponse(d))
	}
	return ctx.JSON(http.StatusOK, out)
}

func (a *API) health(ctx forge.Context) error {
	resp := HealthResponse{Status: "ok", Time: time.Now().UTC()}
	if err := a.eng.Ping(ctx.Context()); err != nil {
		a.logger.Warn("health check failed", slog.String("error", err.Error()))
		resp.Status, resp.Error = "unavailable", "backend unreachable"
		return ctx.JSON(http.StatusServiceUnavailable, resp)
	}
	return ctx.JSON(http.StatusOK, resp)
}
