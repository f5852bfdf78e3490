package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrisdruidman/eve-trading-assistant-sub000/internal/domain"
)

type fakeRefresher struct {
	mu      sync.Mutex
	calls   []domain.Key
	failFor map[domain.Key]error
	block   chan struct{}
}

func (f *fakeRefresher) RefreshOrderBook(ctx context.Context, key domain.Key) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	f.calls = append(f.calls, key)
	f.mu.Unlock()
	if err, ok := f.failFor[key]; ok {
		return err
	}
	return nil
}

func (f *fakeRefresher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeKeySource struct {
	mu            sync.Mutex
	keys          []domain.Key
	all           []domain.Key
	lastMaxAge    int
	allKeysCalled bool
}

func (f *fakeKeySource) GetStaleKeys(maxAgeMinutes int) ([]domain.Key, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastMaxAge = maxAgeMinutes
	return f.keys, nil
}

func (f *fakeKeySource) AllKeys() ([]domain.Key, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allKeysCalled = true
	return f.all, nil
}

type recordingBus struct {
	mu     sync.Mutex
	events []string
}

func (b *recordingBus) Publish(eventType string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, eventType)
}

func (b *recordingBus) types() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.events...)
}

func newTestScheduler(refresher Refresher, keys KeySource, bus Publisher) *Scheduler {
	return NewScheduler(Config{
		TickInterval: time.Hour, // ticks driven manually in tests
		ItemDelay:    time.Millisecond,
	}, refresher, keys, bus, zerolog.Nop())
}

func TestForceRefresh_AllSucceed(t *testing.T) {
	refresher := &fakeRefresher{}
	s := newTestScheduler(refresher, &fakeKeySource{}, &recordingBus{})

	keys := []domain.Key{
		{RegionID: 10000002, TypeID: 34},
		{RegionID: 10000002, TypeID: 35},
		{RegionID: 10000043, TypeID: 34},
	}
	result, err := s.ForceRefresh(ForceOptions{Keys: keys})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 3, result.Refreshed)
	assert.Equal(t, 0, result.Failed)
	assert.Empty(t, result.Errors)
	assert.NotEmpty(t, result.ID)
	assert.Equal(t, "manual", result.Trigger)
	assert.Equal(t, 3, refresher.callCount())
}

func TestForceRefresh_ItemFailuresDoNotAbortPass(t *testing.T) {
	bad := domain.Key{RegionID: 10000002, TypeID: 35}
	refresher := &fakeRefresher{failFor: map[domain.Key]error{bad: errors.New("fetch failed")}}
	s := newTestScheduler(refresher, &fakeKeySource{}, &recordingBus{})

	keys := []domain.Key{
		{RegionID: 10000002, TypeID: 34},
		bad,
		{RegionID: 10000043, TypeID: 34},
	}
	result, err := s.ForceRefresh(ForceOptions{Keys: keys})
	require.NoError(t, err)

	assert.Equal(t, result.Total, result.Refreshed+result.Failed)
	assert.Equal(t, 2, result.Refreshed)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "10000002:35 - ")
	assert.Equal(t, 3, refresher.callCount(), "all items attempted despite the failure")
}

func TestForceRefresh_RejectedWhileRunning(t *testing.T) {
	block := make(chan struct{})
	refresher := &fakeRefresher{block: block}
	s := newTestScheduler(refresher, &fakeKeySource{}, &recordingBus{})

	done := make(chan *PassResult, 1)
	go func() {
		result, _ := s.ForceRefresh(ForceOptions{Keys: []domain.Key{{RegionID: 1, TypeID: 2}}})
		done <- result
	}()

	// Wait until the pass reports running, then a second one is rejected.
	require.Eventually(t, func() bool { return s.Status().Running }, time.Second, 5*time.Millisecond)

	_, err := s.ForceRefresh(ForceOptions{Keys: []domain.Key{{RegionID: 3, TypeID: 4}}})
	assert.ErrorIs(t, err, ErrPassInProgress)

	close(block)
	result := <-done
	require.NotNil(t, result)
	assert.False(t, s.Status().Running)
}

func TestTick_RefreshesStaleKeys(t *testing.T) {
	refresher := &fakeRefresher{}
	source := &fakeKeySource{keys: []domain.Key{
		{RegionID: 10000002, TypeID: 34},
		{RegionID: 10000002, TypeID: 35},
	}}
	bus := &recordingBus{}
	s := newTestScheduler(refresher, source, bus)

	s.tick()

	assert.Equal(t, 2, refresher.callCount())
	status := s.Status()
	require.NotNil(t, status.LastPass)
	assert.Equal(t, "scheduled", status.LastPass.Trigger)
	assert.Equal(t, 2, status.LastPass.Refreshed)
	// All three default strategies were due on the first tick.
	assert.Len(t, status.LastPass.Strategies, 3)
	assert.Contains(t, bus.types(), "refresh.started")
	assert.Contains(t, bus.types(), "refresh.completed")
}

func TestTick_SkipsStrategiesNotDue(t *testing.T) {
	refresher := &fakeRefresher{}
	source := &fakeKeySource{keys: []domain.Key{{RegionID: 1, TypeID: 2}}}
	s := newTestScheduler(refresher, source, &recordingBus{})

	s.tick()
	first := refresher.callCount()
	require.Positive(t, first)

	// Immediately after, no strategy interval has elapsed.
	s.tick()
	assert.Equal(t, first, refresher.callCount())
}

func TestUpdateStrategy(t *testing.T) {
	s := newTestScheduler(&fakeRefresher{}, &fakeKeySource{}, &recordingBus{})

	interval := 2
	enabled := false
	updated, err := s.UpdateStrategy("high", StrategyUpdate{
		IntervalMinutes: &interval,
		Enabled:         &enabled,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.IntervalMinutes)
	assert.False(t, updated.Enabled)

	_, err = s.UpdateStrategy("nonexistent", StrategyUpdate{})
	assert.Error(t, err)

	badInterval := 0
	_, err = s.UpdateStrategy("high", StrategyUpdate{IntervalMinutes: &badInterval})
	assert.Error(t, err)
}

func TestStatus_StrategiesSortedByPriority(t *testing.T) {
	s := newTestScheduler(&fakeRefresher{}, &fakeKeySource{}, &recordingBus{})

	status := s.Status()
	require.Len(t, status.Strategies, 3)
	assert.Equal(t, "high", status.Strategies[0].Name)
	assert.Equal(t, "medium", status.Strategies[1].Name)
	assert.Equal(t, "low", status.Strategies[2].Name)
}

func TestForceRefresh_MaxAgeSweepsStaleKeys(t *testing.T) {
	bad := domain.Key{RegionID: 10000002, TypeID: 35}
	refresher := &fakeRefresher{failFor: map[domain.Key]error{bad: errors.New("fetch failed")}}
	source := &fakeKeySource{keys: []domain.Key{
		{RegionID: 10000002, TypeID: 34},
		bad,
		{RegionID: 10000043, TypeID: 34},
	}}
	s := newTestScheduler(refresher, source, &recordingBus{})

	result, err := s.ForceRefresh(ForceOptions{MaxAgeMinutes: 10})
	require.NoError(t, err)

	assert.Equal(t, 10, source.lastMaxAge)
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, result.Total, result.Refreshed+result.Failed)
	assert.Equal(t, 2, result.Refreshed)
	assert.Equal(t, 1, result.Failed)
	assert.GreaterOrEqual(t, result.DurationMs, int64(0))
}

func TestForceRefresh_ForceSweepsAllKeys(t *testing.T) {
	refresher := &fakeRefresher{}
	source := &fakeKeySource{all: []domain.Key{
		{RegionID: 10000002, TypeID: 34},
		{RegionID: 10000002, TypeID: 35},
	}}
	s := newTestScheduler(refresher, source, &recordingBus{})

	result, err := s.ForceRefresh(ForceOptions{Force: true})
	require.NoError(t, err)

	assert.True(t, source.allKeysCalled)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 2, result.Refreshed)
}

func TestMetrics_AccumulateAcrossPasses(t *testing.T) {
	bad := domain.Key{RegionID: 10000002, TypeID: 35}
	refresher := &fakeRefresher{failFor: map[domain.Key]error{bad: errors.New("fetch failed")}}
	s := newTestScheduler(refresher, &fakeKeySource{}, &recordingBus{})

	_, err := s.ForceRefresh(ForceOptions{Keys: []domain.Key{{RegionID: 10000002, TypeID: 34}}})
	require.NoError(t, err)
	_, err = s.ForceRefresh(ForceOptions{Keys: []domain.Key{{RegionID: 10000043, TypeID: 34}, bad}})
	require.NoError(t, err)

	m := s.Status().Metrics
	assert.Equal(t, 2, m.TotalRefreshes)
	assert.Equal(t, 1, m.SuccessfulRefreshes)
	assert.Equal(t, 1, m.FailedRefreshes)
	assert.Equal(t, 2, m.ItemsRefreshed)
	assert.Equal(t, 1, m.ItemsFailed)
	require.NotNil(t, m.LastRefreshAt)

	s.ResetMetrics()
	m = s.Status().Metrics
	assert.Equal(t, 0, m.TotalRefreshes)
	assert.Nil(t, m.LastRefreshAt)
}

func TestForceRefresh_ErrorFormat(t *testing.T) {
	key := domain.Key{RegionID: 10000002, TypeID: 34}
	refresher := &fakeRefresher{failFor: map[domain.Key]error{key: errors.New("circuit open")}}
	s := newTestScheduler(refresher, &fakeKeySource{}, &recordingBus{})

	result, err := s.ForceRefresh(ForceOptions{Keys: []domain.Key{key}})
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, fmt.Sprintf("%s - circuit open", key), result.Errors[0])
}
