package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrisdruidman/eve-trading-assistant-sub000/internal/domain"
	"github.com/chrisdruidman/eve-trading-assistant-sub000/internal/events"
	"github.com/chrisdruidman/eve-trading-assistant-sub000/internal/refresh"
)

type fakeScheduler struct {
	lastOpts    refresh.ForceOptions
	lastName    string
	lastUpdate  refresh.StrategyUpdate
	result      *refresh.PassResult
	strategy    *refresh.Strategy
	status      refresh.Status
	refreshErr  error
	strategyErr error
}

func (f *fakeScheduler) ForceRefresh(opts refresh.ForceOptions) (*refresh.PassResult, error) {
	f.lastOpts = opts
	return f.result, f.refreshErr
}

func (f *fakeScheduler) UpdateStrategy(name string, update refresh.StrategyUpdate) (*refresh.Strategy, error) {
	f.lastName, f.lastUpdate = name, update
	return f.strategy, f.strategyErr
}

func (f *fakeScheduler) Status() refresh.Status {
	return f.status
}

func newTestRouter(scheduler Scheduler) chi.Router {
	router := chi.NewRouter()
	handler := NewHandler(scheduler, zerolog.Nop())
	stream := NewEventsStreamHandler(events.NewBus(), zerolog.Nop())
	handler.RegisterRoutes(router, stream)
	return router
}

func TestHandleForceRefresh(t *testing.T) {
	scheduler := &fakeScheduler{
		result: &refresh.PassResult{ID: "abc", Total: 2, Refreshed: 2},
	}
	router := newTestRouter(scheduler)

	body := `{"keys": ["10000002:34", "10000002:35"]}`
	req := httptest.NewRequest("POST", "/refresh/", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, scheduler.lastOpts.Keys, 2)
	assert.Equal(t, domain.Key{RegionID: 10000002, TypeID: 34}, scheduler.lastOpts.Keys[0])
	assert.Contains(t, rec.Body.String(), `"refreshed":2`)
}

func TestHandleForceRefresh_MaxAge(t *testing.T) {
	scheduler := &fakeScheduler{
		result: &refresh.PassResult{ID: "abc", Total: 4, Refreshed: 3, Failed: 1},
	}
	router := newTestRouter(scheduler)

	req := httptest.NewRequest("POST", "/refresh/", strings.NewReader(`{"maxAgeMinutes": 10}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10, scheduler.lastOpts.MaxAgeMinutes)
	assert.Empty(t, scheduler.lastOpts.Keys)
	assert.Contains(t, rec.Body.String(), `"failed":1`)
}

func TestHandleForceRefresh_ForceSweep(t *testing.T) {
	scheduler := &fakeScheduler{result: &refresh.PassResult{ID: "abc"}}
	router := newTestRouter(scheduler)

	req := httptest.NewRequest("POST", "/refresh/", strings.NewReader(`{"force": true}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, scheduler.lastOpts.Force)
}

func TestHandleForceRefresh_InvalidKey(t *testing.T) {
	router := newTestRouter(&fakeScheduler{})

	req := httptest.NewRequest("POST", "/refresh/", strings.NewReader(`{"keys": ["notakey"]}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_KEY")
}

func TestHandleForceRefresh_EmptyKeys(t *testing.T) {
	router := newTestRouter(&fakeScheduler{})

	req := httptest.NewRequest("POST", "/refresh/", strings.NewReader(`{"keys": []}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleForceRefresh_Conflict(t *testing.T) {
	scheduler := &fakeScheduler{refreshErr: refresh.ErrPassInProgress}
	router := newTestRouter(scheduler)

	req := httptest.NewRequest("POST", "/refresh/", strings.NewReader(`{"keys": ["1:2"]}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "REFRESH_IN_PROGRESS")
}

func TestHandleStatus(t *testing.T) {
	scheduler := &fakeScheduler{
		status: refresh.Status{Running: true, Strategies: refresh.DefaultStrategies()},
	}
	router := newTestRouter(scheduler)

	req := httptest.NewRequest("GET", "/refresh/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"running":true`)
}

func TestHandleUpdateStrategy(t *testing.T) {
	scheduler := &fakeScheduler{
		strategy: &refresh.Strategy{Name: "high", IntervalMinutes: 2, Enabled: true},
	}
	router := newTestRouter(scheduler)

	req := httptest.NewRequest("PUT", "/refresh/strategies/high", strings.NewReader(`{"interval_minutes": 2}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "high", scheduler.lastName)
	require.NotNil(t, scheduler.lastUpdate.IntervalMinutes)
	assert.Equal(t, 2, *scheduler.lastUpdate.IntervalMinutes)
}

func TestHandleUpdateStrategy_Unknown(t *testing.T) {
	scheduler := &fakeScheduler{strategyErr: assert.AnError}
	router := newTestRouter(scheduler)

	req := httptest.NewRequest("PUT", "/refresh/strategies/bogus", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
