package marketdata

import (
	"context"

	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"

	"github.com/chrisdruidman/eve-trading-assistant-sub000/internal/domain"
)

const smaPeriod = 20

// HistorySummary condenses a history series into the aggregates traders
// actually look at.
type HistorySummary struct {
	Key         domain.Key `json:"key"`
	Days        int        `json:"days"`
	AvgPrice    float64    `json:"avg_price"`
	Volatility  float64    `json:"volatility"`
	MinPrice    float64    `json:"min_price"`
	MaxPrice    float64    `json:"max_price"`
	TotalVolume int64      `json:"total_volume"`
	// SMA20 is the 20-day simple moving average of the daily average
	// price, zero when fewer than 20 days are available.
	SMA20 float64 `json:"sma_20"`
	// Trend compares the latest price against SMA20.
	Trend string `json:"trend"`
}

// GetHistorySummary fetches history through the fallback chain and
// summarizes it.
func (s *Service) GetHistorySummary(ctx context.Context, key domain.Key, days int, opts Options) (*HistorySummary, error) {
	result, err := s.GetHistory(ctx, key, days, opts)
	if err != nil {
		return nil, err
	}
	return summarize(key, result.Points), nil
}

// summarize computes aggregates over a newest-first series.
func summarize(key domain.Key, points []domain.HistoryPoint) *HistorySummary {
	summary := &HistorySummary{Key: key, Days: len(points), Trend: "flat"}
	if len(points) == 0 {
		return summary
	}

	prices := make([]float64, 0, len(points))
	for _, p := range points {
		prices = append(prices, p.Average)
		summary.TotalVolume += p.Volume
		if p.Lowest < summary.MinPrice || summary.MinPrice == 0 {
			summary.MinPrice = p.Lowest
		}
		if p.Highest > summary.MaxPrice {
			summary.MaxPrice = p.Highest
		}
	}

	summary.AvgPrice = stat.Mean(prices, nil)
	if len(prices) > 1 {
		summary.Volatility = stat.StdDev(prices, nil)
	}

	if len(prices) >= smaPeriod {
		// talib expects oldest-first input.
		chrono := make([]float64, len(prices))
		for i, p := range prices {
			chrono[len(prices)-1-i] = p
		}
		sma := talib.Sma(chrono, smaPeriod)
		summary.SMA20 = sma[len(sma)-1]

		latest := prices[0]
		switch {
		case latest > summary.SMA20:
			summary.Trend = "up"
		case latest < summary.SMA20:
			summary.Trend = "down"
		}
	}

	return summary
}
