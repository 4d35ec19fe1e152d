package arb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVWAP_DegenerateBookTopLevelOnly_S5(t *testing.T) {
	book := OrderBook{Asks: []PriceLevel{{Price: 0.60, Size: 10}}}
	vwap := VWAP(book, Buy, 100)
	assert.InDelta(t, 0.60, vwap, 1e-9)
	assert.Equal(t, 0.0, SlippageRate(book, Buy, 5)) // fills entirely at best
}

func TestVWAP_TwoLevelFill_S5(t *testing.T) {
	book := OrderBook{Asks: []PriceLevel{{Price: 0.60, Size: 10}, {Price: 0.65, Size: 100}}}
	vwap := VWAP(book, Buy, 20)
	assert.InDelta(t, 0.625, vwap, 1e-9)
	slippage := SlippageRate(book, Buy, 20)
	assert.InDelta(t, 0.0417, slippage, 1e-3)
}

func TestVWAP_WithinTopLevel_NoSlippage(t *testing.T) {
	book := OrderBook{
		Bids: []PriceLevel{{Price: 0.55, Size: 50}},
		Asks: []PriceLevel{{Price: 0.60, Size: 50}},
	}
	assert.InDelta(t, 0.60, VWAP(book, Buy, 10), 1e-9)
	assert.Equal(t, 0.0, SlippageRate(book, Buy, 10))
	assert.InDelta(t, 0.55, VWAP(book, Sell, 10), 1e-9)
	assert.Equal(t, 0.0, SlippageRate(book, Sell, 10))
}

func TestVWAP_EmptyBookReturnsZero(t *testing.T) {
	book := OrderBook{}
	assert.Equal(t, 0.0, VWAP(book, Buy, 10))
	assert.Equal(t, 1.0, SlippageRate(book, Buy, 10)) // best ask defaults to 1, still max slippage on empty fill
}

func TestVWAP_MonotoneInSize(t *testing.T) {
	book := OrderBook{Asks: []PriceLevel{{Price: 0.50, Size: 10}, {Price: 0.55, Size: 10}, {Price: 0.60, Size: 10}}}
	v10 := VWAP(book, Buy, 10)
	v20 := VWAP(book, Buy, 20)
	v30 := VWAP(book, Buy, 30)
	assert.LessOrEqual(t, v10, v20)
	assert.LessOrEqual(t, v20, v30)

	bids := OrderBook{Bids: []PriceLevel{{Price: 0.60, Size: 10}, {Price: 0.55, Size: 10}, {Price: 0.50, Size: 10}}}
	s10 := VWAP(bids, Sell, 10)
	s20 := VWAP(bids, Sell, 20)
	s30 := VWAP(bids, Sell, 30)
	assert.GreaterOrEqual(t, s10, s20)
	assert.GreaterOrEqual(t, s20, s30)
}

func TestNetUSD_ProfitableAndUnprofitable(t *testing.T) {
	book := OrderBook{
		Asks: []PriceLevel{{Price: 0.60, Size: 1000}},
		Bids: []PriceLevel{{Price: 0.59, Size: 1000}},
	}
	legs := []Leg{{MarketIndex: 0, TradeValue: 0.1, Book: book}}

	// gross = 0.05*100 = 5, fees = 100*0.02 = 2, book is deep so slippage ~ 0.
	net := NetUSD(0.05, legs, 0.02, 100.0)
	assert.InDelta(t, 3.0, net, 1e-6)
	assert.True(t, Profitable(net, 0.50))

	netLow := NetUSD(0.001, legs, 0.02, 100.0)
	assert.False(t, Profitable(netLow, 0.50))
}
