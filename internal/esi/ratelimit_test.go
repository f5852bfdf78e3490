package esi

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimitTracker_UpdateFromHeaders(t *testing.T) {
	tracker := NewRateLimitTracker()

	h := http.Header{}
	h.Set(headerErrorLimitRemain, "42")
	h.Set(headerErrorLimitReset, "30")
	tracker.UpdateFromHeaders(h)

	snap := tracker.Snapshot()
	assert.Equal(t, 42, snap.Remaining)
	assert.Equal(t, 30, snap.ResetAfter)
}

func TestRateLimitTracker_IgnoresMissingHeaders(t *testing.T) {
	tracker := NewRateLimitTracker()
	tracker.UpdateFromHeaders(http.Header{})

	snap := tracker.Snapshot()
	assert.Equal(t, 100, snap.Remaining)
}

func TestRateLimitTracker_WaitWhenBudgetLeft(t *testing.T) {
	tracker := NewRateLimitTracker()

	h := http.Header{}
	h.Set(headerErrorLimitRemain, "5")
	h.Set(headerErrorLimitReset, "60")
	tracker.UpdateFromHeaders(h)

	// Budget remains, so the call must not block.
	done := make(chan error, 1)
	go func() { done <- tracker.WaitIfExhausted(context.Background()) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WaitIfExhausted blocked with budget remaining")
	}
}

func TestRateLimitTracker_WaitRespectsContext(t *testing.T) {
	tracker := NewRateLimitTracker()
	tracker.MarkExhausted(time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := tracker.WaitIfExhausted(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRateLimitTracker_WaitReleasesAfterReset(t *testing.T) {
	tracker := NewRateLimitTracker()
	tracker.MarkExhausted(50 * time.Millisecond)

	start := time.Now()
	err := tracker.WaitIfExhausted(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}
