// Package cache provides a freshness-aware persistent cache for market
// data. Entries carry their age so callers can distinguish fresh data,
// stale-but-usable data, and data old enough to be treated as absent.
package cache

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// FreshnessCache wraps the sqlite store with staleness accounting and
// metrics. Cache failures are never surfaced to callers; a broken cache
// behaves like an empty one.
type FreshnessCache struct {
	store   *Store
	metrics *Metrics
	log     zerolog.Logger
	now     func() time.Time
}

// New creates a freshness cache over the given store.
func New(store *Store, log zerolog.Logger) *FreshnessCache {
	return &FreshnessCache{
		store:   store,
		metrics: NewMetrics(),
		log:     log.With().Str("component", "cache").Logger(),
		now:     time.Now,
	}
}

// Set stores a value under key. The strategy's max-stale ceiling becomes
// the row's hard expiry for cleanup.
func (c *FreshnessCache) Set(key string, value any, strategy Strategy) error {
	data, err := msgpack.Marshal(value)
	if err != nil {
		c.metrics.recordError()
		c.log.Warn().Err(err).Str("key", key).Msg("Failed to encode cache value")
		return err
	}

	now := c.now()
	if err := c.store.Put(key, data, now, now.Add(strategy.MaxStale())); err != nil {
		c.metrics.recordError()
		c.log.Warn().Err(err).Str("key", key).Msg("Failed to write cache entry")
		return err
	}
	return nil
}

// GetWithFreshness loads the entry for key into out and reports its
// freshness. maxStaleOverride, when positive, replaces the strategy's
// max-stale ceiling for this lookup. Entries past the ceiling are reported
// as absent. Store and decode failures count as misses.
func (c *FreshnessCache) GetWithFreshness(key string, strategy Strategy, maxStaleOverride int, out any) (Freshness, bool) {
	entry, err := c.store.GetRow(key)
	if err != nil {
		c.metrics.recordError()
		c.log.Warn().Err(err).Str("key", key).Msg("Cache read failed, treating as miss")
		return Freshness{}, false
	}
	if entry == nil {
		c.metrics.recordMiss()
		return Freshness{}, false
	}

	age := c.now().Sub(entry.CachedAt)

	maxStale := strategy.MaxStale()
	if maxStaleOverride > 0 {
		maxStale = time.Duration(maxStaleOverride) * time.Second
	}
	if age > maxStale {
		c.metrics.recordMiss()
		return Freshness{}, false
	}

	if err := msgpack.Unmarshal(entry.Data, out); err != nil {
		c.metrics.recordError()
		c.log.Warn().Err(err).Str("key", key).Msg("Failed to decode cache entry, treating as miss")
		return Freshness{}, false
	}

	freshness := Freshness{
		CachedAt:   entry.CachedAt,
		AgeSeconds: int(age.Seconds()),
		IsStale:    age > strategy.StaleAfter(),
	}
	if freshness.IsStale {
		c.metrics.recordStaleHit()
	} else {
		c.metrics.recordFreshHit()
	}
	return freshness, true
}

// GetAnyAge loads the entry for key regardless of age. Used as a fallback
// when the upstream is unavailable; stale data is better than no data.
// Does not count toward request metrics, the preceding GetWithFreshness
// already did.
func (c *FreshnessCache) GetAnyAge(key string, out any) (Freshness, bool) {
	entry, err := c.store.GetRow(key)
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Cache read failed, treating as miss")
		return Freshness{}, false
	}
	if entry == nil {
		return Freshness{}, false
	}

	if err := msgpack.Unmarshal(entry.Data, out); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Failed to decode cache entry, treating as miss")
		return Freshness{}, false
	}

	age := c.now().Sub(entry.CachedAt)
	return Freshness{
		CachedAt:   entry.CachedAt,
		AgeSeconds: int(age.Seconds()),
		IsStale:    true,
	}, true
}

// Invalidate removes one entry.
func (c *FreshnessCache) Invalidate(key string) error {
	return c.store.Delete(key)
}

// InvalidateByPrefix removes all entries whose key starts with prefix and
// returns the number removed.
func (c *FreshnessCache) InvalidateByPrefix(prefix string) (int64, error) {
	deleted, err := c.store.DeleteByPrefix(prefix)
	if err != nil {
		return 0, err
	}
	c.log.Info().Str("prefix", prefix).Int64("deleted", deleted).Msg("Invalidated cache entries")
	return deleted, nil
}

// Metrics returns current counters plus the stored entry count.
func (c *FreshnessCache) Metrics() MetricsSnapshot {
	snap := c.metrics.Snapshot()
	if n, err := c.store.Count(); err == nil {
		snap.Entries = n
	}
	return snap
}

// ResetMetrics starts a new metrics window.
func (c *FreshnessCache) ResetMetrics() {
	c.metrics.Reset()
}
