package cache

import "time"

// Strategy controls how long cached data is considered fresh, when it
// becomes stale, and when it drops out of the cache entirely.
type Strategy struct {
	// TTLSeconds is the nominal lifetime of an entry.
	TTLSeconds int `json:"ttl_seconds"`
	// RefreshThresholdPercent marks the point within the TTL after which
	// an entry is stale. 80 means stale once age exceeds 80% of the TTL.
	RefreshThresholdPercent int `json:"refresh_threshold_percent"`
	// MaxStaleSeconds is the hard ceiling: entries older than this are
	// treated as absent.
	MaxStaleSeconds int `json:"max_stale_seconds"`
}

// Order books move fast, history moves once a day.
var (
	OrderBookStrategy = Strategy{TTLSeconds: 300, RefreshThresholdPercent: 80, MaxStaleSeconds: 900}
	HistoryStrategy   = Strategy{TTLSeconds: 3600, RefreshThresholdPercent: 90, MaxStaleSeconds: 7200}
)

// StaleAfter returns the age at which an entry turns stale.
func (s Strategy) StaleAfter() time.Duration {
	return time.Duration(s.TTLSeconds) * time.Second * time.Duration(s.RefreshThresholdPercent) / 100
}

// MaxStale returns the age at which an entry is treated as absent.
func (s Strategy) MaxStale() time.Duration {
	return time.Duration(s.MaxStaleSeconds) * time.Second
}

// Freshness describes the age of a cache entry relative to its strategy.
type Freshness struct {
	CachedAt   time.Time `json:"cached_at"`
	AgeSeconds int       `json:"age_seconds"`
	IsStale    bool      `json:"is_stale"`
}
