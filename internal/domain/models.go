// Package domain contains the core market data types shared across components.
// All types here are value objects: they are copied between components and
// replaced wholesale on refresh, never mutated in place.
package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Key identifies one market: an item type within a region.
type Key struct {
	RegionID int32 `json:"region_id"`
	TypeID   int32 `json:"type_id"`
}

// String returns the canonical cache/store key form "region:type".
func (k Key) String() string {
	return fmt.Sprintf("%d:%d", k.RegionID, k.TypeID)
}

// ParseKey parses a "region:type" string into a Key.
func ParseKey(s string) (Key, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return Key{}, fmt.Errorf("invalid market key %q", s)
	}
	region, err := strconv.ParseInt(parts[0], 10, 32)
	if err != nil {
		return Key{}, fmt.Errorf("invalid region id in key %q: %w", s, err)
	}
	typeID, err := strconv.ParseInt(parts[1], 10, 32)
	if err != nil {
		return Key{}, fmt.Errorf("invalid type id in key %q: %w", s, err)
	}
	return Key{RegionID: int32(region), TypeID: int32(typeID)}, nil
}

// Order is a single order-book entry.
type Order struct {
	OrderID      int64     `json:"order_id"`
	Price        float64   `json:"price"`
	VolumeRemain int64     `json:"volume_remain"`
	VolumeTotal  int64     `json:"volume_total"`
	LocationID   int64     `json:"location_id"`
	IsBuyOrder   bool      `json:"is_buy_order"`
	Issued       time.Time `json:"issued"`
}

// OrderBook is the snapshot of all live orders for one key, plus aggregates.
// It is immutable once fetched; a refresh replaces the whole snapshot.
type OrderBook struct {
	Key         Key       `json:"key"`
	BuyOrders   []Order   `json:"buy_orders"`
	SellOrders  []Order   `json:"sell_orders"`
	TotalVolume int64     `json:"total_volume"`
	AvgPrice    float64   `json:"avg_price"`
	LastUpdated time.Time `json:"last_updated"`
}

// BestBid returns the highest buy price, or 0 if there are no buy orders.
func (b *OrderBook) BestBid() float64 {
	best := 0.0
	for _, o := range b.BuyOrders {
		if o.Price > best {
			best = o.Price
		}
	}
	return best
}

// BestAsk returns the lowest sell price, or 0 if there are no sell orders.
func (b *OrderBook) BestAsk() float64 {
	best := 0.0
	for _, o := range b.SellOrders {
		if best == 0 || o.Price < best {
			best = o.Price
		}
	}
	return best
}

// HistoryPoint is one daily aggregate for a key.
// History is append-only per date and upsertable by (key, date).
type HistoryPoint struct {
	Date       string  `json:"date"` // YYYY-MM-DD
	Highest    float64 `json:"highest"`
	Lowest     float64 `json:"lowest"`
	Average    float64 `json:"average"`
	Volume     int64   `json:"volume"`
	OrderCount int64   `json:"order_count"`
}
