package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyRoundTrip(t *testing.T) {
	key := Key{RegionID: 10000002, TypeID: 34}
	assert.Equal(t, "10000002:34", key.String())

	parsed, err := ParseKey(key.String())
	require.NoError(t, err)
	assert.Equal(t, key, parsed)
}

func TestParseKeyInvalid(t *testing.T) {
	tests := []string{"", "10000002", "abc:34", "10000002:xyz", ":"}

	for _, input := range tests {
		t.Run(input, func(t *testing.T) {
			_, err := ParseKey(input)
			assert.Error(t, err)
		})
	}
}

func TestBestBidAsk(t *testing.T) {
	book := &OrderBook{
		BuyOrders: []Order{
			{Price: 4.95, IsBuyOrder: true},
			{Price: 5.01, IsBuyOrder: true},
			{Price: 4.80, IsBuyOrder: true},
		},
		SellOrders: []Order{
			{Price: 5.20},
			{Price: 5.12},
			{Price: 5.45},
		},
	}

	assert.Equal(t, 5.01, book.BestBid())
	assert.Equal(t, 5.12, book.BestAsk())
}

func TestBestBidAskEmpty(t *testing.T) {
	book := &OrderBook{}
	assert.Equal(t, 0.0, book.BestBid())
	assert.Equal(t, 0.0, book.BestAsk())
}
