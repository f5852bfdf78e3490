package esi

import (
	"math"
	"sync"
	"time"
)

// CircuitState represents the current circuit breaker state
type CircuitState string

const (
	// StateClosed - upstream calls flow normally.
	StateClosed CircuitState = "CLOSED"
	// StateOpen - calls fail fast until the cooldown passes.
	StateOpen CircuitState = "OPEN"
	// StateHalfOpen - one trial call is allowed through.
	StateHalfOpen CircuitState = "HALF_OPEN"
)

const (
	defaultFailureThreshold = 5
	baseCooldown            = 30 * time.Second
	maxCooldown             = 10 * time.Minute
)

// CircuitSnapshot is a point-in-time view of the breaker.
type CircuitSnapshot struct {
	State               CircuitState `json:"state"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	NextRetryAt         *time.Time   `json:"next_retry_at,omitempty"`
}

// CircuitBreaker isolates a failing upstream behind a CLOSED/OPEN/HALF_OPEN
// state machine. Instance-owned: each Client carries its own breaker so
// independent clients (and tests) never share state.
type CircuitBreaker struct {
	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	nextRetryAt         time.Time
	failureThreshold    int
	now                 func() time.Time
}

// NewCircuitBreaker creates a closed breaker with the given failure threshold.
// A threshold <= 0 uses the default of 5.
func NewCircuitBreaker(failureThreshold int) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = defaultFailureThreshold
	}
	return &CircuitBreaker{
		state:            StateClosed,
		failureThreshold: failureThreshold,
		now:              time.Now,
	}
}

// Allow reports whether a call may proceed. While open and before the
// cooldown has passed it returns a CircuitOpenError without any network
// activity; once the cooldown passes the breaker moves to HALF_OPEN and
// admits exactly one trial call.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateOpen {
		return nil
	}

	if cb.now().Before(cb.nextRetryAt) {
		return &CircuitOpenError{RetryAt: cb.nextRetryAt}
	}

	cb.state = StateHalfOpen
	return nil
}

// RecordSuccess resets the breaker to CLOSED.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures = 0
	cb.state = StateClosed
	cb.nextRetryAt = time.Time{}
}

// RecordFailure counts one upstream failure. The breaker opens once the
// threshold is reached; a failed HALF_OPEN trial re-opens immediately.
// The cooldown grows exponentially with the failure count, capped.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++

	if cb.state == StateHalfOpen || cb.consecutiveFailures >= cb.failureThreshold {
		cb.state = StateOpen
		cb.nextRetryAt = cb.now().Add(cb.cooldown())
	}
}

// cooldown derives the open-state cooldown from the failure count.
// Must be called with the lock held.
func (cb *CircuitBreaker) cooldown() time.Duration {
	excess := cb.consecutiveFailures - cb.failureThreshold
	if excess < 0 {
		excess = 0
	}
	d := time.Duration(float64(baseCooldown) * math.Pow(2, float64(excess)))
	if d > maxCooldown {
		d = maxCooldown
	}
	return d
}

// Snapshot returns the current breaker state.
func (cb *CircuitBreaker) Snapshot() CircuitSnapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	snap := CircuitSnapshot{
		State:               cb.state,
		ConsecutiveFailures: cb.consecutiveFailures,
	}
	if !cb.nextRetryAt.IsZero() {
		t := cb.nextRetryAt
		snap.NextRetryAt = &t
	}
	return snap
}
