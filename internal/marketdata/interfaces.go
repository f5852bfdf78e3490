package marketdata

import (
	"context"

	"github.com/chrisdruidman/eve-trading-assistant-sub000/internal/cache"
	"github.com/chrisdruidman/eve-trading-assistant-sub000/internal/domain"
	"github.com/chrisdruidman/eve-trading-assistant-sub000/internal/marketstore"
)

// Upstream fetches live market data.
type Upstream interface {
	FetchOrderBook(ctx context.Context, key domain.Key) (*domain.OrderBook, error)
	FetchHistory(ctx context.Context, key domain.Key) ([]domain.HistoryPoint, error)
}

// Cache is the freshness-aware cache the service reads through.
type Cache interface {
	Set(key string, value any, strategy cache.Strategy) error
	GetWithFreshness(key string, strategy cache.Strategy, maxStaleOverride int, out any) (cache.Freshness, bool)
	GetAnyAge(key string, out any) (cache.Freshness, bool)
}

// Persistent is the durable store behind the cache.
type Persistent interface {
	SaveOrderBook(book *domain.OrderBook) error
	GetOrderBook(key domain.Key) (*marketstore.Record, error)
	SavePoints(key domain.Key, points []domain.HistoryPoint) error
	GetHistory(key domain.Key, days int) ([]domain.HistoryPoint, error)
}
