package esi

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// ESI error-limit headers. The upstream tracks a rolling error budget per
// client; when the budget hits zero, further calls are answered with HTTP 420
// until the window resets.
const (
	headerErrorLimitRemain = "X-Esi-Error-Limit-Remain"
	headerErrorLimitReset  = "X-Esi-Error-Limit-Reset"
)

// RateLimitState is a snapshot of the upstream error budget.
type RateLimitState struct {
	Remaining  int       `json:"remaining"`
	ResetAfter int       `json:"reset_after_seconds"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// RateLimitTracker tracks the rolling error budget from response headers.
// Safe for concurrent use; shared by all calls on one Client instance.
type RateLimitTracker struct {
	mu        sync.Mutex
	remaining int
	resetAt   time.Time
	updatedAt time.Time
	now       func() time.Time
}

// NewRateLimitTracker creates a tracker with a full budget.
func NewRateLimitTracker() *RateLimitTracker {
	return &RateLimitTracker{
		remaining: 100, // ESI default error budget per window
		now:       time.Now,
	}
}

// UpdateFromHeaders records the budget reported by an upstream response.
// Responses without the headers leave the tracker unchanged.
func (t *RateLimitTracker) UpdateFromHeaders(h http.Header) {
	remain := h.Get(headerErrorLimitRemain)
	reset := h.Get(headerErrorLimitReset)
	if remain == "" && reset == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if v, err := strconv.Atoi(remain); err == nil {
		t.remaining = v
	}
	if v, err := strconv.Atoi(reset); err == nil {
		t.resetAt = now.Add(time.Duration(v) * time.Second)
	}
	t.updatedAt = now
}

// MarkExhausted zeroes the budget until the given reset window passes.
// Used when the upstream answers 420 without budget headers.
func (t *RateLimitTracker) MarkExhausted(resetAfter time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.remaining = 0
	t.resetAt = now.Add(resetAfter)
	t.updatedAt = now
}

// WaitIfExhausted blocks until the budget window resets when no budget
// remains. Only the calling operation blocks; concurrent callers each
// observe the state independently.
func (t *RateLimitTracker) WaitIfExhausted(ctx context.Context) error {
	t.mu.Lock()
	wait := time.Duration(0)
	if t.remaining <= 0 {
		wait = t.resetAt.Sub(t.now())
	}
	t.mu.Unlock()

	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Snapshot returns the current rate limit state.
func (t *RateLimitTracker) Snapshot() RateLimitState {
	t.mu.Lock()
	defer t.mu.Unlock()

	resetAfter := 0
	if remaining := t.resetAt.Sub(t.now()); remaining > 0 {
		resetAfter = int(remaining.Round(time.Second).Seconds())
	}

	return RateLimitState{
		Remaining:  t.remaining,
		ResetAfter: resetAfter,
		UpdatedAt:  t.updatedAt,
	}
}
