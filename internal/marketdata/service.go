// Package marketdata orchestrates market data retrieval across a freshness
// cache, the live upstream, and the persistent store. Callers always get
// the best data available, degrading from fresh cache through live fetch
// to stale cache to last-known-good storage.
package marketdata

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/chrisdruidman/eve-trading-assistant-sub000/internal/cache"
	"github.com/chrisdruidman/eve-trading-assistant-sub000/internal/domain"
)

// Source identifies which tier served a result.
type Source string

const (
	SourceCache      Source = "cache"
	SourceUpstream   Source = "upstream"
	SourceStaleCache Source = "stale_cache"
	SourceStore      Source = "store"
)

// Options modify a single lookup.
type Options struct {
	// ForceRefresh skips the fresh-cache tier and goes straight upstream.
	ForceRefresh bool
	// MaxStaleSeconds overrides the strategy's max-stale ceiling.
	MaxStaleSeconds int
}

// OrderBookResult is an order book plus provenance.
type OrderBookResult struct {
	Book      *domain.OrderBook `json:"book"`
	Source    Source            `json:"source"`
	Freshness cache.Freshness   `json:"freshness"`
}

// HistoryResult is a history series plus provenance.
type HistoryResult struct {
	Points    []domain.HistoryPoint `json:"points"`
	Source    Source                `json:"source"`
	Freshness cache.Freshness       `json:"freshness"`
}

// Service is the fetch orchestrator.
type Service struct {
	upstream Upstream
	cache    Cache
	store    Persistent
	log      zerolog.Logger
}

// NewService creates the orchestrator.
func NewService(upstream Upstream, c Cache, store Persistent, log zerolog.Logger) *Service {
	return &Service{
		upstream: upstream,
		cache:    c,
		store:    store,
		log:      log.With().Str("component", "marketdata").Logger(),
	}
}

func orderBookCacheKey(key domain.Key) string {
	return "orderbook:" + key.String()
}

func historyCacheKey(key domain.Key) string {
	return "history:" + key.String()
}

// GetOrderBook returns the order book for key using the fallback chain:
// fresh cache, live upstream (written through), stale cache, persistent
// store. Only when all four fail does it return a NoDataError.
func (s *Service) GetOrderBook(ctx context.Context, key domain.Key, opts Options) (*OrderBookResult, error) {
	cacheKey := orderBookCacheKey(key)

	var cached domain.OrderBook
	cachedFound := false
	var cachedFreshness cache.Freshness

	if !opts.ForceRefresh {
		cachedFreshness, cachedFound = s.cache.GetWithFreshness(cacheKey, cache.OrderBookStrategy, opts.MaxStaleSeconds, &cached)
		if cachedFound && !cachedFreshness.IsStale {
			return &OrderBookResult{Book: &cached, Source: SourceCache, Freshness: cachedFreshness}, nil
		}
	}

	book, upstreamErr := s.upstream.FetchOrderBook(ctx, key)
	if upstreamErr == nil {
		s.writeThroughOrderBook(key, book)
		return &OrderBookResult{
			Book:      book,
			Source:    SourceUpstream,
			Freshness: cache.Freshness{CachedAt: book.LastUpdated},
		}, nil
	}

	s.log.Warn().Err(upstreamErr).Str("key", key.String()).Msg("Upstream fetch failed, falling back")

	// A stale entry seen on the first pass is still the freshest fallback.
	if cachedFound {
		return &OrderBookResult{Book: &cached, Source: SourceStaleCache, Freshness: cachedFreshness}, nil
	}
	if freshness, found := s.cache.GetAnyAge(cacheKey, &cached); found {
		return &OrderBookResult{Book: &cached, Source: SourceStaleCache, Freshness: freshness}, nil
	}

	rec, err := s.store.GetOrderBook(key)
	if err != nil {
		s.log.Error().Err(err).Str("key", key.String()).Msg("Persistent store read failed")
	}
	if rec != nil {
		return &OrderBookResult{
			Book:   rec.Book,
			Source: SourceStore,
			Freshness: cache.Freshness{
				CachedAt:   rec.UpdatedAt,
				AgeSeconds: int(time.Since(rec.UpdatedAt).Seconds()),
				IsStale:    true,
			},
		}, nil
	}

	return nil, &NoDataError{Key: key, Cause: upstreamErr}
}

// GetHistory returns up to days of price history for key, newest first,
// using the same fallback chain as GetOrderBook.
func (s *Service) GetHistory(ctx context.Context, key domain.Key, days int, opts Options) (*HistoryResult, error) {
	cacheKey := historyCacheKey(key)

	var cached []domain.HistoryPoint
	cachedFound := false
	var cachedFreshness cache.Freshness

	if !opts.ForceRefresh {
		cachedFreshness, cachedFound = s.cache.GetWithFreshness(cacheKey, cache.HistoryStrategy, opts.MaxStaleSeconds, &cached)
		if cachedFound && !cachedFreshness.IsStale {
			return &HistoryResult{Points: limitDays(cached, days), Source: SourceCache, Freshness: cachedFreshness}, nil
		}
	}

	points, upstreamErr := s.upstream.FetchHistory(ctx, key)
	if upstreamErr == nil {
		s.writeThroughHistory(key, points)
		return &HistoryResult{Points: limitDays(points, days), Source: SourceUpstream}, nil
	}

	s.log.Warn().Err(upstreamErr).Str("key", key.String()).Msg("Upstream history fetch failed, falling back")

	if cachedFound {
		return &HistoryResult{Points: limitDays(cached, days), Source: SourceStaleCache, Freshness: cachedFreshness}, nil
	}
	if freshness, found := s.cache.GetAnyAge(cacheKey, &cached); found {
		return &HistoryResult{Points: limitDays(cached, days), Source: SourceStaleCache, Freshness: freshness}, nil
	}

	stored, err := s.store.GetHistory(key, days)
	if err != nil {
		s.log.Error().Err(err).Str("key", key.String()).Msg("Persistent store read failed")
	}
	if len(stored) > 0 {
		return &HistoryResult{
			Points:    stored,
			Source:    SourceStore,
			Freshness: cache.Freshness{IsStale: true},
		}, nil
	}

	return nil, &NoDataError{Key: key, Cause: upstreamErr}
}

// RefreshOrderBook fetches key from upstream and writes it through to the
// cache and store. Used by the refresh scheduler; no fallback here, a
// failed refresh is reported as such.
func (s *Service) RefreshOrderBook(ctx context.Context, key domain.Key) error {
	book, err := s.upstream.FetchOrderBook(ctx, key)
	if err != nil {
		return err
	}
	s.writeThroughOrderBook(key, book)
	return nil
}

// RefreshHistory fetches history for key from upstream and writes it
// through.
func (s *Service) RefreshHistory(ctx context.Context, key domain.Key) error {
	points, err := s.upstream.FetchHistory(ctx, key)
	if err != nil {
		return err
	}
	s.writeThroughHistory(key, points)
	return nil
}

// writeThroughOrderBook persists a freshly fetched book to cache and
// store. Write failures are logged, never surfaced; the caller already has
// the data.
func (s *Service) writeThroughOrderBook(key domain.Key, book *domain.OrderBook) {
	if err := s.cache.Set(orderBookCacheKey(key), book, cache.OrderBookStrategy); err != nil {
		s.log.Warn().Err(err).Str("key", key.String()).Msg("Failed to cache order book")
	}
	if err := s.store.SaveOrderBook(book); err != nil {
		s.log.Warn().Err(err).Str("key", key.String()).Msg("Failed to persist order book")
	}
}

func (s *Service) writeThroughHistory(key domain.Key, points []domain.HistoryPoint) {
	if err := s.cache.Set(historyCacheKey(key), points, cache.HistoryStrategy); err != nil {
		s.log.Warn().Err(err).Str("key", key.String()).Msg("Failed to cache history")
	}
	if err := s.store.SavePoints(key, points); err != nil {
		s.log.Warn().Err(err).Str("key", key.String()).Msg("Failed to persist history")
	}
}

// limitDays truncates a newest-first series to the requested day count.
// days <= 0 returns the series unchanged.
func limitDays(points []domain.HistoryPoint, days int) []domain.HistoryPoint {
	if days <= 0 || len(points) <= days {
		return points
	}
	return points[:days]
}
