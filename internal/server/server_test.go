package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/chrisdruidman/eve-trading-assistant-sub000/internal/cache"
	"github.com/chrisdruidman/eve-trading-assistant-sub000/internal/domain"
	"github.com/chrisdruidman/eve-trading-assistant-sub000/internal/esi"
	"github.com/chrisdruidman/eve-trading-assistant-sub000/internal/events"
	"github.com/chrisdruidman/eve-trading-assistant-sub000/internal/marketdata"
	marketdatahandlers "github.com/chrisdruidman/eve-trading-assistant-sub000/internal/marketdata/handlers"
	"github.com/chrisdruidman/eve-trading-assistant-sub000/internal/refresh"
	refreshhandlers "github.com/chrisdruidman/eve-trading-assistant-sub000/internal/refresh/handlers"
)

type stubCache struct {
	deleted     int64
	invalidated string
}

func (c *stubCache) Invalidate(key string) error {
	c.invalidated = key
	return nil
}

func (c *stubCache) InvalidateByPrefix(prefix string) (int64, error) {
	return c.deleted, nil
}

func (c *stubCache) Metrics() cache.MetricsSnapshot {
	return cache.MetricsSnapshot{TotalRequests: 10, Hits: 8, FreshHits: 6, StaleHits: 2, Misses: 2, HitRate: 80}
}

type stubUpstream struct{}

func (stubUpstream) Status(ctx context.Context) esi.Status {
	return esi.Status{Reachable: true, Circuit: esi.CircuitSnapshot{State: esi.StateClosed}}
}

type stubMarketService struct{}

func (stubMarketService) GetOrderBook(ctx context.Context, key domain.Key, opts marketdata.Options) (*marketdata.OrderBookResult, error) {
	return &marketdata.OrderBookResult{Book: &domain.OrderBook{Key: key}, Source: marketdata.SourceCache}, nil
}

func (stubMarketService) GetHistory(ctx context.Context, key domain.Key, days int, opts marketdata.Options) (*marketdata.HistoryResult, error) {
	return &marketdata.HistoryResult{Source: marketdata.SourceCache}, nil
}

func (stubMarketService) GetHistorySummary(ctx context.Context, key domain.Key, days int, opts marketdata.Options) (*marketdata.HistorySummary, error) {
	return &marketdata.HistorySummary{Key: key}, nil
}

type stubRefresher struct{}

func (stubRefresher) RefreshOrderBook(ctx context.Context, key domain.Key) error { return nil }

type stubKeySource struct{}

func (stubKeySource) GetStaleKeys(maxAgeMinutes int) ([]domain.Key, error) { return nil, nil }

func (stubKeySource) AllKeys() ([]domain.Key, error) { return nil, nil }

func newTestServer(t *testing.T) *Server {
	t.Helper()

	bus := events.NewBus()
	scheduler := refresh.NewScheduler(refresh.Config{}, stubRefresher{}, stubKeySource{}, bus, zerolog.Nop())

	return New(Config{
		Log:            zerolog.Nop(),
		Port:           0,
		DevMode:        true,
		MarketHandlers: marketdatahandlers.NewHandler(stubMarketService{}, zerolog.Nop()),
		RefreshHandler: refreshhandlers.NewHandler(scheduler, zerolog.Nop()),
		EventsStream:   refreshhandlers.NewEventsStreamHandler(bus, zerolog.Nop()),
		Cache:          &stubCache{deleted: 3},
		Upstream:       stubUpstream{},
		Backup:         nil,
	})
}

func TestServer_Health(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/health", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestServer_MarketRouteWired(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/markets/10000002/34", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"source":"cache"`)
}

func TestServer_RefreshStatusWired(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/refresh/status", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"strategies"`)
}

func TestServer_CacheStats(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/cache/stats", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"hit_rate":80`)
}

func TestServer_CacheInvalidate(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("POST", "/api/cache/invalidate", strings.NewReader(`{"prefix":"orderbook:"}`))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"deleted":3`)
}

func TestServer_CacheInvalidate_SingleKey(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("POST", "/api/cache/invalidate", strings.NewReader(`{"key":"orderbook:10000002:34"}`))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"deleted":1`)
}

func TestServer_CacheInvalidate_EmptyBody(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("POST", "/api/cache/invalidate", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_UpstreamStatus(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/upstream/status", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"reachable":true`)
}

func TestServer_BackupDisabled(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("POST", "/api/backup", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "BACKUP_DISABLED")
}

func TestServer_SystemStatus(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/system/status", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "goroutines")
}
