package cache

import (
	"sync"
	"time"
)

// MetricsSnapshot is a point-in-time view of cache counters since the last
// window reset.
type MetricsSnapshot struct {
	TotalRequests int64     `json:"total_requests"`
	Hits          int64     `json:"hits"`
	FreshHits     int64     `json:"fresh_hits"`
	StaleHits     int64     `json:"stale_hits"`
	Misses        int64     `json:"misses"`
	Errors        int64     `json:"errors"`
	// HitRate and StaleRate are percentages (0-100).
	HitRate   float64 `json:"hit_rate"`
	StaleRate float64 `json:"stale_rate"`
	WindowStart   time.Time `json:"window_start"`
	Entries       int64     `json:"entries"`
}

// Metrics accumulates cache counters. Counters reset per window so rates
// reflect recent behavior rather than process lifetime.
type Metrics struct {
	mu            sync.Mutex
	totalRequests int64
	hits          int64
	freshHits     int64
	staleHits     int64
	misses        int64
	errors        int64
	windowStart   time.Time
}

// NewMetrics creates a metrics accumulator with the window starting now.
func NewMetrics() *Metrics {
	return &Metrics{windowStart: time.Now()}
}

func (m *Metrics) recordFreshHit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalRequests++
	m.hits++
	m.freshHits++
}

func (m *Metrics) recordStaleHit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalRequests++
	m.hits++
	m.staleHits++
}

func (m *Metrics) recordMiss() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalRequests++
	m.misses++
}

func (m *Metrics) recordError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalRequests++
	m.misses++
	m.errors++
}

// Snapshot returns the current counters and derived rates.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := MetricsSnapshot{
		TotalRequests: m.totalRequests,
		Hits:          m.hits,
		FreshHits:     m.freshHits,
		StaleHits:     m.staleHits,
		Misses:        m.misses,
		Errors:        m.errors,
		WindowStart:   m.windowStart,
	}
	if m.totalRequests > 0 {
		snap.HitRate = float64(m.hits) / float64(m.totalRequests) * 100
	}
	if m.hits > 0 {
		snap.StaleRate = float64(m.staleHits) / float64(m.hits) * 100
	}
	return snap
}

// Reset zeroes all counters and starts a new window.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalRequests = 0
	m.hits = 0
	m.freshHits = 0
	m.staleHits = 0
	m.misses = 0
	m.errors = 0
	m.windowStart = time.Now()
}
