package esi

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies upstream failures for retry and circuit decisions.
type ErrorKind int

const (
	// KindUnavailable covers network errors, timeouts and 5xx responses.
	// Retryable; counts toward the circuit breaker.
	KindUnavailable ErrorKind = iota
	// KindRateLimited is returned when the upstream error budget is exhausted
	// (HTTP 420 on ESI). Retryable after the reset window.
	KindRateLimited
	// KindAuth covers 401/403 responses. Not retryable and does not count
	// toward the circuit breaker.
	KindAuth
	// KindClient covers remaining 4xx responses (bad region/type, etc.).
	// Not retryable and does not count toward the circuit breaker.
	KindClient
)

// String returns a human-readable name for the error kind.
func (k ErrorKind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindRateLimited:
		return "rate_limited"
	case KindAuth:
		return "auth"
	case KindClient:
		return "client"
	default:
		return "unknown"
	}
}

// UpstreamError wraps a failed upstream call with its classification.
type UpstreamError struct {
	Kind       ErrorKind
	StatusCode int // 0 for network-level failures
	Err        error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("upstream %s (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upstream %s: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the call may be retried.
func (e *UpstreamError) Retryable() bool {
	return e.Kind == KindUnavailable || e.Kind == KindRateLimited
}

// CountsTowardCircuit reports whether the failure should trip the breaker.
func (e *UpstreamError) CountsTowardCircuit() bool {
	return e.Kind == KindUnavailable
}

// CircuitOpenError is returned without a network call while the breaker is open.
type CircuitOpenError struct {
	RetryAt time.Time
}

// Error implements the error interface.
func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open, retry after %s", e.RetryAt.Format(time.RFC3339))
}

// IsRetryable reports whether err is a transient upstream failure. An open
// circuit is not retryable within a call; callers fail fast until the
// breaker admits a trial.
func IsRetryable(err error) bool {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Retryable()
	}
	return false
}
