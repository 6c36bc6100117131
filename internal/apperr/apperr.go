// Package apperr defines the error categories shared by the price feed
// engine, the HTTP layer and the ledger guard. Callers wrap a sentinel with
// fmt.Errorf("%w: ...") so the category survives propagation and can be
// recovered with errors.Is.
package apperr

import (
	"context"
	"errors"
	"net/http"
)

// StatusClientClosedRequest reports a request the client gave up on
// before a response was ready. It never reaches the client.
const StatusClientClosedRequest = 499

var (
	// ErrNotFound is returned when no price, feed or plan exists.
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned for malformed or out-of-range input.
	ErrValidation = errors.New("validation failed")

	// ErrStale is returned when a price is older than the freshness window.
	ErrStale = errors.New("price data is stale")

	// ErrFutureTimestamp is returned when a price claims to come from the future.
	ErrFutureTimestamp = errors.New("price timestamp is in the future")

	// ErrOverflow is returned when a fixed-width multiply does not fit.
	// It is never silently saturated or wrapped.
	ErrOverflow = errors.New("valuation overflow")

	// ErrInsufficientCollateral is returned when the collateral ratio is
	// below the required minimum.
	ErrInsufficientCollateral = errors.New("insufficient collateral ratio")

	// ErrInternal covers storage faults and corrupt stored values. The
	// wrapped detail is for logs only.
	ErrInternal = errors.New("internal error")
)

type category struct {
	err    error
	code   string
	status int
}

// Order matters: the first match wins.
var categories = []category{
	{ErrNotFound, "NOT_FOUND", http.StatusNotFound},
	{ErrValidation, "VALIDATION_ERROR", http.StatusBadRequest},
	{ErrStale, "STALE_PRICE", http.StatusConflict},
	{ErrFutureTimestamp, "FUTURE_TIMESTAMP", http.StatusBadRequest},
	{ErrOverflow, "OVERFLOW", http.StatusUnprocessableEntity},
	{ErrInsufficientCollateral, "INSUFFICIENT_COLLATERAL", http.StatusUnprocessableEntity},
	{ErrInternal, "INTERNAL_ERROR", http.StatusInternalServerError},
	{context.Canceled, "REQUEST_CANCELED", StatusClientClosedRequest},
	{context.DeadlineExceeded, "TIMEOUT", http.StatusGatewayTimeout},
}

func lookup(err error) category {
	for _, c := range categories {
		if errors.Is(err, c.err) {
			return c
		}
	}
	return category{ErrInternal, "INTERNAL_ERROR", http.StatusInternalServerError}
}

// Code returns the stable machine-readable code for err.
func Code(err error) string { return lookup(err).code }

// HTTPStatus maps err to an HTTP status code. Uncategorized errors are 500.
func HTTPStatus(err error) int { return lookup(err).status }

// Is reports whether err belongs to the category of sentinel.
func Is(err, sentinel error) bool { return errors.Is(err, sentinel) }

// Abandoned reports whether err comes from a cancelled or expired request
// context rather than a fault in the engine.
func Abandoned(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// PublicMessage returns the message safe to show to API clients. Internal
// errors never leak their wrapped detail.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	c := lookup(err)
	if c.err == ErrInternal || Abandoned(c.err) {
		return c.err.Error()
	}
	return err.Error()
}
