package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/xraph/forge"

	jascrapers "github.com/Joy-Aviation/Joy-Aviation-Supplies"
)

// httpError is rendered by forge through StatusCode and ResponseBody.
type httpError struct {
	status int
	body   ErrorResponse
}

func (e *httpError) Error() string { return e.body.Error.Message }
func (e *httpError) StatusCode() int { return e.status }
func (e *httpError) ResponseBody() any { return e.body }

func newHTTPError(status int, class jascrapers.Class, msg string) error {
	return &httpError{status: status, body: ErrorResponse{Error: ErrorBody{Class: string(class), Message: msg}}}
}

// badRequest replies 400 for malformed input.
func badRequest(msg string) error {
	return newHTTPError(http.StatusBadRequest, jascrapers.ClassInvalidParameters, msg)
}

// statusFor maps an engine error to its HTTP status and class. ok is false
// for errors that are not the client's doing.
func statusFor(err error) (status int, class jascrapers.Class, ok bool) {
	switch {
	case errors.Is(err, jascrapers.ErrIdempotencyMismatch):
		return http.StatusUnprocessableEntity, jascrapers.ClassConflict, true
	case errors.Is(err, jascrapers.ErrInvalidParameters):
		return http.StatusBadRequest, jascrapers.ClassInvalidParameters, true
	case errors.Is(err, jascrapers.ErrJobNotFound),
		errors.Is(err, jascrapers.ErrResultNotFound),
		errors.Is(err, jascrapers.ErrSupplierNotFound):
		return http.StatusNotFound, jascrapers.ClassNotFound, true
	case errors.Is(err, jascrapers.ErrConflict),
		errors.Is(err, jascrapers.ErrInvalidTransition):
		return http.StatusConflict, jascrapers.ClassConflict, true
	}
	return http.StatusInternalServerError, "internal", false
}

// mapError converts an engine error into the classified reply. Unclassified
// errors are logged and replaced by a generic message so backend details
// never reach the client.
func (a *API) mapError(ctx forge.Context, err error) error {
	status, class, ok := statusFor(err)
	if ok {
		return newHTTPError(status, class, err.Error())
	}
	r := ctx.Request()
	a.logger.Error("api request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	return newHTTPError(status, class, "internal error")
}
