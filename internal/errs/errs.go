// Package errs defines the error taxonomy every component in the core
// reports against. Components wrap a sentinel with
// fmt.Errorf("...: %w", ...) so callers can classify a failure with
// errors.Is while still getting a human-readable message.
package errs

import "errors"

var (
	// ErrConfiguration is fatal at startup: the service refuses to start.
	ErrConfiguration = errors.New("configuration error")

	// ErrTransient marks a retryable external failure (data-source 5xx,
	// broker timeout). After the retry budget is exhausted the caller
	// surfaces it as "skipped" for the affected ticker/tick.
	ErrTransient = errors.New("transient external error")

	// ErrDataQuality marks stale, missing, or NaN input data. The caller
	// skips the affected signal and records a warning; it never crashes.
	ErrDataQuality = errors.New("data quality error")

	// ErrValidation marks a request rejected at a boundary (stop >= entry,
	// negative quantity, invalid ticker, ...).
	ErrValidation = errors.New("validation error")

	// ErrBusiness marks a request rejected for a business reason (cash
	// insufficient, position limit, trading halted).
	ErrBusiness = errors.New("business rule rejection")

	// ErrInvariant marks an attempted operation that would corrupt state
	// (an order-status transition outside the DAG, a trailing-stop price
	// regression). The operation is aborted, not retried.
	ErrInvariant = errors.New("invariant violation")

	// ErrRiskBreach marks a portfolio-wide loss-ceiling breach. The only
	// response is tripping the circuit breaker.
	ErrRiskBreach = errors.New("risk breach")
)
