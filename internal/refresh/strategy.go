package refresh

import "fmt"

// Strategy controls how often one class of keys is refreshed in the
// background. Lower Priority values run first within a pass.
type Strategy struct {
	Name            string `json:"name"`
	IntervalMinutes int    `json:"interval_minutes"`
	MaxAgeMinutes   int    `json:"max_age_minutes"`
	Priority        int    `json:"priority"`
	Enabled         bool   `json:"enabled"`
}

// DefaultStrategies returns the built-in priority tiers. High covers
// actively traded items, low covers the long tail.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{Name: "high", IntervalMinutes: 5, MaxAgeMinutes: 10, Priority: 1, Enabled: true},
		{Name: "medium", IntervalMinutes: 15, MaxAgeMinutes: 30, Priority: 2, Enabled: true},
		{Name: "low", IntervalMinutes: 60, MaxAgeMinutes: 120, Priority: 3, Enabled: true},
	}
}

// StrategyUpdate carries partial changes to a strategy. Nil fields are
// left unchanged.
type StrategyUpdate struct {
	IntervalMinutes *int  `json:"interval_minutes,omitempty"`
	MaxAgeMinutes   *int  `json:"max_age_minutes,omitempty"`
	Priority        *int  `json:"priority,omitempty"`
	Enabled         *bool `json:"enabled,omitempty"`
}

// Validate rejects updates that would stall or thrash the scheduler.
func (u StrategyUpdate) Validate() error {
	if u.IntervalMinutes != nil && *u.IntervalMinutes < 1 {
		return fmt.Errorf("interval_minutes must be at least 1, got %d", *u.IntervalMinutes)
	}
	if u.MaxAgeMinutes != nil && *u.MaxAgeMinutes < 1 {
		return fmt.Errorf("max_age_minutes must be at least 1, got %d", *u.MaxAgeMinutes)
	}
	return nil
}
