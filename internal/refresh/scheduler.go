// Package refresh keeps stored market data warm by refreshing stale keys
// in the background on a per-priority schedule.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/chrisdruidman/eve-trading-assistant-sub000/internal/domain"
)

// ErrPassInProgress is returned when a refresh is requested while another
// pass is still running.
var ErrPassInProgress = errors.New("refresh pass already in progress")

// Refresher fetches one key from upstream and writes it through.
type Refresher interface {
	RefreshOrderBook(ctx context.Context, key domain.Key) error
}

// KeySource lists stored keys, optionally filtered by age.
type KeySource interface {
	GetStaleKeys(maxAgeMinutes int) ([]domain.Key, error)
	AllKeys() ([]domain.Key, error)
}

// Publisher emits refresh lifecycle events.
type Publisher interface {
	Publish(eventType string, payload any)
}

// PassResult summarizes one completed refresh pass. Refreshed+Failed
// always equals Total.
type PassResult struct {
	ID          string    `json:"id"`
	Trigger     string    `json:"trigger"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	DurationMs  int64     `json:"duration_ms"`
	Strategies  []string  `json:"strategies,omitempty"`
	Total       int       `json:"total"`
	Refreshed   int       `json:"refreshed"`
	Failed      int       `json:"failed"`
	Errors      []string  `json:"errors,omitempty"`
}

// ForceOptions selects which keys a manual pass refreshes. Explicit keys
// win; otherwise Force sweeps every stored key, and MaxAgeMinutes sweeps
// keys whose stored data is older than the threshold.
type ForceOptions struct {
	Keys          []domain.Key
	MaxAgeMinutes int
	Force         bool
}

// Metrics accumulates refresh counters across passes. Counters reset on
// the maintenance schedule, so rates read over a bounded window.
type Metrics struct {
	TotalRefreshes       int        `json:"total_refreshes"`
	SuccessfulRefreshes  int        `json:"successful_refreshes"`
	FailedRefreshes      int        `json:"failed_refreshes"`
	ItemsRefreshed       int        `json:"items_refreshed"`
	ItemsFailed          int        `json:"items_failed"`
	AverageRefreshTimeMs float64    `json:"average_refresh_time_ms"`
	LastRefreshAt        *time.Time `json:"last_refresh_at,omitempty"`
}

// Status is the scheduler state exposed on the status endpoint.
type Status struct {
	Running    bool        `json:"running"`
	LastPass   *PassResult `json:"last_pass,omitempty"`
	Metrics    Metrics     `json:"metrics"`
	Strategies []Strategy  `json:"strategies"`
}

// Config holds scheduler settings.
type Config struct {
	// TickInterval is how often the scheduler checks whether any strategy
	// is due.
	TickInterval time.Duration
	// ItemDelay throttles consecutive upstream refreshes within a pass.
	ItemDelay time.Duration
}

// Scheduler drives background refresh passes. A pass walks enabled
// strategies in priority order and re-fetches each strategy's stale keys.
// Passes never overlap; a tick that lands during a running pass is
// skipped.
type Scheduler struct {
	refresher Refresher
	keys      KeySource
	bus       Publisher
	limiter   *rate.Limiter
	log       zerolog.Logger

	cron    *cron.Cron
	entryID cron.EntryID

	passGate   chan struct{} // buffered size 1, acts as a try-lock so passes never overlap
	stateMu    sync.Mutex
	strategies map[string]*Strategy
	lastRun    map[string]time.Time
	lastPass   *PassResult
	running    bool

	metrics       Metrics
	durationMsSum int64

	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler with the default strategies.
func NewScheduler(cfg Config, refresher Refresher, keys KeySource, bus Publisher, log zerolog.Logger) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Minute
	}
	if cfg.ItemDelay <= 0 {
		cfg.ItemDelay = 500 * time.Millisecond
	}

	strategies := make(map[string]*Strategy)
	for _, s := range DefaultStrategies() {
		strategy := s
		strategies[s.Name] = &strategy
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		refresher:  refresher,
		keys:       keys,
		bus:        bus,
		limiter:    rate.NewLimiter(rate.Every(cfg.ItemDelay), 1),
		log:        log.With().Str("component", "refresh").Logger(),
		cron:       cron.New(),
		passGate:   make(chan struct{}, 1),
		strategies: strategies,
		lastRun:    make(map[string]time.Time),
		ctx:        ctx,
		cancel:     cancel,
	}

	var err error
	s.entryID, err = s.cron.AddFunc(fmt.Sprintf("@every %s", cfg.TickInterval), s.tick)
	if err != nil {
		// "@every <duration>" with a positive duration always parses.
		panic(fmt.Sprintf("refresh cron spec: %v", err))
	}
	return s
}

// Start begins background scheduling.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Refresh scheduler started")
}

// Stop halts scheduling and cancels any in-flight pass.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	s.cancel()
	<-ctx.Done()
	s.log.Info().Msg("Refresh scheduler stopped")
}

// tick runs a scheduled pass over every strategy that is due.
func (s *Scheduler) tick() {
	due := s.dueStrategies()
	if len(due) == 0 {
		return
	}

	result, err := s.runPass("scheduled", due, nil)
	if err != nil {
		if errors.Is(err, ErrPassInProgress) {
			s.log.Debug().Msg("Skipping tick, pass still running")
			return
		}
		s.log.Error().Err(err).Msg("Refresh pass failed to start")
		return
	}
	s.logPass(result)
}

// dueStrategies returns enabled strategies whose interval has elapsed,
// highest priority first.
func (s *Scheduler) dueStrategies() []*Strategy {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	now := time.Now()
	var due []*Strategy
	for name, strategy := range s.strategies {
		if !strategy.Enabled {
			continue
		}
		last := s.lastRun[name]
		if now.Sub(last) >= time.Duration(strategy.IntervalMinutes)*time.Minute {
			due = append(due, strategy)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].Priority < due[j].Priority })
	return due
}

// ForceRefresh runs an immediate pass over the keys the options select.
// Returns ErrPassInProgress when a pass is already running.
func (s *Scheduler) ForceRefresh(opts ForceOptions) (*PassResult, error) {
	result, err := s.runPass("manual", nil, &opts)
	if err != nil {
		return nil, err
	}
	s.logPass(result)
	return result, nil
}

// runPass executes one pass. Either strategies or manual options drive it,
// never both. Item failures are collected, they never abort the pass.
func (s *Scheduler) runPass(trigger string, strategies []*Strategy, manual *ForceOptions) (*PassResult, error) {
	select {
	case s.passGate <- struct{}{}:
	default:
		return nil, ErrPassInProgress
	}
	defer func() { <-s.passGate }()

	s.setRunning(true)
	defer s.setRunning(false)

	result := &PassResult{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		StartedAt: time.Now(),
	}

	var items []domain.Key
	if manual != nil {
		var err error
		items, err = s.manualKeys(manual)
		if err != nil {
			return nil, err
		}
	} else {
		seen := make(map[domain.Key]bool)
		now := time.Now()
		for _, strategy := range strategies {
			result.Strategies = append(result.Strategies, strategy.Name)
			keys, err := s.keys.GetStaleKeys(strategy.MaxAgeMinutes)
			if err != nil {
				s.log.Error().Err(err).Str("strategy", strategy.Name).Msg("Failed to list stale keys")
				continue
			}
			for _, k := range keys {
				if !seen[k] {
					seen[k] = true
					items = append(items, k)
				}
			}
			s.markRun(strategy.Name, now)
		}
	}

	result.Total = len(items)
	s.bus.Publish("refresh.started", map[string]any{"id": result.ID, "trigger": trigger, "total": result.Total})

	for _, key := range items {
		if err := s.limiter.Wait(s.ctx); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s - %v", key, err))
			result.Failed = result.Total - result.Refreshed
			break
		}
		if err := s.refresher.RefreshOrderBook(s.ctx, key); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s - %v", key, err))
			continue
		}
		result.Refreshed++
	}

	result.CompletedAt = time.Now()
	result.DurationMs = result.CompletedAt.Sub(result.StartedAt).Milliseconds()
	s.recordPass(result)
	s.bus.Publish("refresh.completed", result)
	return result, nil
}

// manualKeys resolves a manual pass's key set from its options.
func (s *Scheduler) manualKeys(opts *ForceOptions) ([]domain.Key, error) {
	switch {
	case len(opts.Keys) > 0:
		return opts.Keys, nil
	case opts.Force:
		keys, err := s.keys.AllKeys()
		if err != nil {
			return nil, fmt.Errorf("list keys: %w", err)
		}
		return keys, nil
	default:
		keys, err := s.keys.GetStaleKeys(opts.MaxAgeMinutes)
		if err != nil {
			return nil, fmt.Errorf("list stale keys: %w", err)
		}
		return keys, nil
	}
}

// UpdateStrategy applies a partial update to a named strategy.
func (s *Scheduler) UpdateStrategy(name string, update StrategyUpdate) (*Strategy, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}

	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	strategy, ok := s.strategies[name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy: %s", name)
	}

	if update.IntervalMinutes != nil {
		strategy.IntervalMinutes = *update.IntervalMinutes
	}
	if update.MaxAgeMinutes != nil {
		strategy.MaxAgeMinutes = *update.MaxAgeMinutes
	}
	if update.Priority != nil {
		strategy.Priority = *update.Priority
	}
	if update.Enabled != nil {
		strategy.Enabled = *update.Enabled
	}

	updated := *strategy
	s.log.Info().Str("strategy", name).Interface("update", update).Msg("Strategy updated")
	return &updated, nil
}

// Status returns the current scheduler state.
func (s *Scheduler) Status() Status {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	strategies := make([]Strategy, 0, len(s.strategies))
	for _, strategy := range s.strategies {
		strategies = append(strategies, *strategy)
	}
	sort.Slice(strategies, func(i, j int) bool { return strategies[i].Priority < strategies[j].Priority })

	metrics := s.metrics
	if metrics.TotalRefreshes > 0 {
		metrics.AverageRefreshTimeMs = float64(s.durationMsSum) / float64(metrics.TotalRefreshes)
	}

	return Status{
		Running:    s.running,
		LastPass:   s.lastPass,
		Metrics:    metrics,
		Strategies: strategies,
	}
}

// ResetMetrics zeroes the cumulative refresh counters.
func (s *Scheduler) ResetMetrics() {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.metrics = Metrics{}
	s.durationMsSum = 0
}

func (s *Scheduler) setRunning(running bool) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.running = running
}

// recordPass stores the pass as lastPass and folds it into the cumulative
// metrics. A pass with any failed item counts as a failed refresh.
func (s *Scheduler) recordPass(result *PassResult) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	s.lastPass = result
	s.metrics.TotalRefreshes++
	if result.Failed == 0 {
		s.metrics.SuccessfulRefreshes++
	} else {
		s.metrics.FailedRefreshes++
	}
	s.metrics.ItemsRefreshed += result.Refreshed
	s.metrics.ItemsFailed += result.Failed
	at := result.CompletedAt
	s.metrics.LastRefreshAt = &at
	s.durationMsSum += result.DurationMs
}

func (s *Scheduler) markRun(name string, at time.Time) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.lastRun[name] = at
}

func (s *Scheduler) logPass(result *PassResult) {
	s.log.Info().
		Str("pass_id", result.ID).
		Str("trigger", result.Trigger).
		Int("total", result.Total).
		Int("refreshed", result.Refreshed).
		Int("failed", result.Failed).
		Dur("duration", result.CompletedAt.Sub(result.StartedAt)).
		Msg("Refresh pass completed")
}
